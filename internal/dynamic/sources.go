package dynamic

import "time"

// SensorKey names a platform sensor stream.
type SensorKey string

// Sensor keys understood by the built-in simulated provider. Providers
// may serve additional keys; the registry routes purely by key.
const (
	SensorHeartRate  SensorKey = "health.heart_rate"
	SensorDailySteps SensorKey = "health.daily_steps"
	SensorBattery    SensorKey = "device.battery_pct"
)

// StateStore is the host-owned key/value source behind StateRef nodes.
//
// Lookup returns the current value for a key; ok is false when the key
// is absent. Subscribe registers fn for every subsequent change of the
// key, including its removal (delivered with ok=false). The store must
// not invoke fn for the current value at subscribe time; the engine
// pulls that via Lookup when a binding is primed. The returned cancel
// func detaches the subscription and is safe to call more than once.
type StateStore interface {
	Lookup(key string) (Value, bool)
	Subscribe(key string, fn func(v Value, ok bool)) (cancel func())
}

// SensorProvider is a push source for one or more sensor keys.
//
// RegisterForKeys replaces any previous registration with the given key
// set; fn receives every reading for those keys from then on, starting
// with the latest known reading per key as soon as the provider has
// one. Unregister drops the registration entirely. Implementations are
// driven by the SensorRegistry, which calls RegisterForKeys with the
// union of all live interest and Unregister exactly once when the last
// interest is released.
type SensorProvider interface {
	RegisterForKeys(keys []SensorKey, fn func(key SensorKey, v Value)) error
	Unregister() error
}

// TickGateway delivers the periodic time signal behind TimeRef nodes.
//
// Register adds fn to the tick fan-out; the returned cancel func
// removes it and is safe to call more than once. Now reports the
// gateway's current time and is what primed bindings use for the
// initial time value, so a fake gateway gives deterministic tests.
type TickGateway interface {
	Register(fn func(now time.Time)) (cancel func())
	Now() time.Time
}
