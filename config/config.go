// Package config provides configuration types for the mesh session.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string        `mapstructure:"log_level"` // Log level (debug, info, warn, error)
	Session  SessionConfig `mapstructure:"session"`
	Events   EventsConfig  `mapstructure:"events"`
}

// SessionConfig holds session orchestrator configuration.
type SessionConfig struct {
	// ClientID is the identifier sent with session start.
	ClientID string `mapstructure:"client_id"`

	// CommandTimeout bounds every synchronous command await.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	// WritePace is the delay between outbound frames, protecting the
	// device's transport buffering.
	WritePace time.Duration `mapstructure:"write_pace"`

	// FastWritePace is used instead when the device platform is in
	// FastPlatforms.
	FastWritePace time.Duration `mapstructure:"fast_write_pace"`

	// FastPlatforms lists model-name substrings known to tolerate
	// tighter write timing.
	FastPlatforms []string `mapstructure:"fast_platforms"`
}

// EventsConfig holds event publisher configuration.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// SetDefaults sets viper defaults for the session configuration when
// used as an embedded library.
func (c *Config) SetDefaults(v *viper.Viper, prefix string) {
	p := ""
	if prefix != "" {
		p = prefix + "."
	}

	v.SetDefault(p+"log_level", "info")

	// Session defaults
	v.SetDefault(p+"session.client_id", "PktMesh")
	v.SetDefault(p+"session.command_timeout", "5s")
	v.SetDefault(p+"session.write_pace", "50ms")
	v.SetDefault(p+"session.fast_write_pace", "20ms")
	v.SetDefault(p+"session.fast_platforms", []string{"ESP32", "RAK4631", "T1000"})

	// Events defaults
	v.SetDefault(p+"events.buffer_size", 64)
}

// GetLogLevel returns the log level, defaulting to "info".
func (c *Config) GetLogLevel() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return "info"
}

// Pace returns the write pacing delay for the given device model,
// falling back to the conservative default when the model is unknown.
func (s SessionConfig) Pace(model string) time.Duration {
	for _, fast := range s.FastPlatforms {
		if model != "" && containsFold(model, fast) {
			return s.FastWritePace
		}
	}
	return s.WritePace
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}
