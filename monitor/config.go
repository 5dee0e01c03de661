package monitor

import (
	"fmt"
	"time"
)

// Config holds monitor HTTP server configuration.
type Config struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  int           `yaml:"read_timeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int           `yaml:"write_timeout" mapstructure:"write_timeout"` // seconds
	IdleTimeout  int           `yaml:"idle_timeout" mapstructure:"idle_timeout"`   // seconds
	KeepAlive    time.Duration `yaml:"keep_alive" mapstructure:"keep_alive"`
	// Retain is how many finished runs stay queryable.
	Retain int `yaml:"retain" mapstructure:"retain"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8089
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 15 * time.Second
	}
	if c.Retain == 0 {
		c.Retain = 100
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("monitor.port must be between 0 and 65535 (got: %d)", c.Port)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("monitor.read_timeout must be non-negative (got: %d)", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("monitor.write_timeout must be non-negative (got: %d)", c.WriteTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("monitor.idle_timeout must be non-negative (got: %d)", c.IdleTimeout)
	}
	if c.Retain < 0 {
		return fmt.Errorf("monitor.retain must be non-negative (got: %d)", c.Retain)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
