package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the host daemon configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Store   StoreConfig       `yaml:"store"`
	State   StateConfig       `yaml:"state"`
	Ticks   TicksConfig       `yaml:"ticks"`
	Sensors SensorsConfig     `yaml:"sensors"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Ticks.Validate(); err != nil {
		return err
	}
	if err := c.Sensors.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the path to the SQLite slot store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StateConfig holds the watched YAML state file. An empty path
// disables the file driver; the state store is then fed only through
// the API and MCP tools.
type StateConfig struct {
	File string `yaml:"file"`
}

// TicksConfig controls the wall-clock gateway that drives
// time-dependent expressions.
type TicksConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// Interval returns the tick period.
func (c *TicksConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Validate validates the tick configuration.
func (c *TicksConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IntervalMS, validation.Required, validation.Min(50), validation.Max(60_000)),
	)
}

// SensorsConfig controls the simulated sensor provider. With Sim off
// no sensor source is wired and sensor expressions stay unresolved.
type SensorsConfig struct {
	Sim        bool   `yaml:"sim"`
	Seed       uint64 `yaml:"seed"`
	IntervalMS int    `yaml:"interval_ms"`
}

// Interval returns the simulated reading period.
func (c *SensorsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Validate validates the sensor configuration.
func (c *SensorsConfig) Validate() error {
	if !c.Sim {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.IntervalMS, validation.Required, validation.Min(100), validation.Max(600_000)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./dagaz.db",
		},
		State: StateConfig{
			File: "./state.yaml",
		},
		Ticks: TicksConfig{
			IntervalMS: 1000,
		},
		Sensors: SensorsConfig{
			Sim:        true,
			Seed:       1,
			IntervalMS: 2000,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
