package dynamic

import (
	"slices"
	"sync"
	"testing"
)

// recordingProvider captures registration calls and lets tests push
// readings through the registered dispatch func.
type recordingProvider struct {
	mu       sync.Mutex
	regs     [][]SensorKey
	unregs   int
	dispatch func(SensorKey, Value)
}

func (p *recordingProvider) RegisterForKeys(keys []SensorKey, fn func(SensorKey, Value)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs = append(p.regs, slices.Clone(keys))
	p.dispatch = fn
	return nil
}

func (p *recordingProvider) Unregister() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregs++
	p.dispatch = nil
	return nil
}

func (p *recordingProvider) push(key SensorKey, v Value) {
	p.mu.Lock()
	fn := p.dispatch
	p.mu.Unlock()
	if fn != nil {
		fn(key, v)
	}
}

func (p *recordingProvider) lastReg() []SensorKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.regs) == 0 {
		return nil
	}
	return p.regs[len(p.regs)-1]
}

func (p *recordingProvider) unregCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unregs
}

func TestRegistryUnionGrowsAndShrinks(t *testing.T) {
	prov := &recordingProvider{}
	reg := NewSensorRegistry()
	if err := reg.AddProvider(prov, SensorHeartRate, SensorDailySteps); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}

	rel1, err := reg.acquire(SensorHeartRate, func(Value) {})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := prov.lastReg(); !slices.Equal(got, []SensorKey{SensorHeartRate}) {
		t.Fatalf("registered keys = %v", got)
	}

	rel2, err := reg.acquire(SensorDailySteps, func(Value) {})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := prov.lastReg(); !slices.Equal(got, []SensorKey{SensorDailySteps, SensorHeartRate}) {
		t.Fatalf("registered union = %v", got)
	}

	rel1()
	if got := prov.lastReg(); !slices.Equal(got, []SensorKey{SensorDailySteps}) {
		t.Fatalf("union after release = %v", got)
	}
	if prov.unregCount() != 0 {
		t.Fatalf("provider unregistered early")
	}

	rel2()
	if prov.unregCount() != 1 {
		t.Fatalf("unregister count = %d, want 1", prov.unregCount())
	}

	// Releasing again must not unregister twice.
	rel1()
	rel2()
	if prov.unregCount() != 1 {
		t.Errorf("unregister count after re-release = %d, want 1", prov.unregCount())
	}
}

func TestRegistrySharedKeyRegistersOnce(t *testing.T) {
	prov := &recordingProvider{}
	reg := NewSensorRegistry()
	if err := reg.AddProvider(prov, SensorHeartRate); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}

	var mu sync.Mutex
	var got []float32
	collect := func(v Value) {
		f, _ := v.AsFloat()
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}

	rel1, _ := reg.acquire(SensorHeartRate, collect)
	rel2, _ := reg.acquire(SensorHeartRate, collect)
	defer rel1()
	defer rel2()

	prov.mu.Lock()
	regCount := len(prov.regs)
	prov.mu.Unlock()
	if regCount != 1 {
		t.Fatalf("register calls = %d, want 1 (same key set)", regCount)
	}

	prov.push(SensorHeartRate, Float(72))
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 72 || got[1] != 72 {
		t.Errorf("fan-out readings = %v, want [72 72]", got)
	}
}

func TestRegistryUnknownKey(t *testing.T) {
	reg := NewSensorRegistry()
	if _, err := reg.acquire("nope", func(Value) {}); err == nil {
		t.Error("acquire of unknown key succeeded")
	}
	if reg.Supports("nope") {
		t.Error("Supports reported an unknown key")
	}
}

func TestRegistryKeyConflict(t *testing.T) {
	reg := NewSensorRegistry()
	if err := reg.AddProvider(&recordingProvider{}, SensorBattery); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := reg.AddProvider(&recordingProvider{}, SensorBattery); err == nil {
		t.Error("conflicting provider accepted")
	}
	want := []SensorKey{SensorBattery}
	if got := reg.Keys(); !slices.Equal(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
}
