package main

import (
	"fmt"
	"time"

	"github.com/kbukum/stagekit/config"
	"github.com/kbukum/stagekit/encryption"
	"github.com/kbukum/stagekit/monitor"
	"github.com/kbukum/stagekit/observability"
	"github.com/kbukum/stagekit/pipeline"
	"github.com/kbukum/stagekit/resilience"
	"github.com/kbukum/stagekit/validation"
)

// Config is the imagepipe configuration, loaded from config.yml, .env and
// IMAGEPIPE_* environment variables.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Encryption EncryptionConfig `yaml:"encryption" mapstructure:"encryption"`
	Monitor    monitor.Config   `yaml:"monitor" mapstructure:"monitor"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
}

// PipelineConfig shapes the demo run.
type PipelineConfig struct {
	URLs    int    `yaml:"urls" mapstructure:"urls" validate:"gte=1"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	Fetch   pipeline.StageConfig `yaml:"fetch" mapstructure:"fetch"`
	Process pipeline.StageConfig `yaml:"process" mapstructure:"process"`
	Seal    pipeline.StageConfig `yaml:"seal" mapstructure:"seal"`
	Save    pipeline.StageConfig `yaml:"save" mapstructure:"save"`

	FetchDelay   time.Duration `yaml:"fetch_delay" mapstructure:"fetch_delay"`
	ProcessDelay time.Duration `yaml:"process_delay" mapstructure:"process_delay"`
	SaveDelay    time.Duration `yaml:"save_delay" mapstructure:"save_delay"`

	// FailEvery makes the first processing attempt of every Nth image fail
	// with a retryable error. Zero disables it.
	FailEvery int                    `yaml:"fail_every" mapstructure:"fail_every" validate:"gte=0"`
	Retry     resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`

	// RateLimit and Breaker guard the download host in the fetch stage.
	RateLimit resilience.RateLimiterConfig    `yaml:"rate_limit" mapstructure:"rate_limit"`
	Breaker   resilience.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	// Disk caps concurrent writes to OutputDir whatever the save policy.
	Disk resilience.BulkheadConfig `yaml:"disk" mapstructure:"disk"`

	// OutputDir receives the saved images. Empty discards them.
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// EncryptionConfig enables the seal stage when Key is set.
type EncryptionConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm"`
}

// TelemetryConfig enables OTLP trace and metric export.
type TelemetryConfig struct {
	Enabled bool                       `yaml:"enabled" mapstructure:"enabled"`
	Tracer  observability.TracerConfig `yaml:"tracer" mapstructure:"tracer"`
	Meter   observability.MeterConfig  `yaml:"meter" mapstructure:"meter"`
}

func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()

	p := &c.Pipeline
	if p.URLs == 0 {
		p.URLs = 32
	}
	if p.BaseURL == "" {
		p.BaseURL = "https://example.com/image"
	}
	defaultStage(&p.Fetch, "fetch", "ordered", 4)
	defaultStage(&p.Process, "process", "unordered", 4)
	defaultStage(&p.Seal, "seal", "serial", 0)
	defaultStage(&p.Save, "save", "serial", 0)
	if p.FetchDelay == 0 {
		p.FetchDelay = 5 * time.Millisecond
	}
	if p.ProcessDelay == 0 {
		p.ProcessDelay = 20 * time.Millisecond
	}
	if p.SaveDelay == 0 {
		p.SaveDelay = 5 * time.Millisecond
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = resilience.DefaultRetryConfig()
		p.Retry.InitialBackoff = 10 * time.Millisecond
	}
	if p.RateLimit.Name == "" {
		p.RateLimit.Name = "fetch"
	}
	if p.RateLimit.Rate == 0 {
		p.RateLimit.Rate = 500
		if p.RateLimit.Burst == 0 {
			p.RateLimit.Burst = 64
		}
	}
	if p.Breaker.Name == "" {
		p.Breaker = resilience.DefaultCircuitBreakerConfig("fetch")
	}
	if p.Disk.Name == "" {
		p.Disk = resilience.DefaultBulkheadConfig("disk")
		p.Disk.MaxConcurrent = 2
	}

	c.Monitor.ApplyDefaults()

	if c.Telemetry.Tracer.ServiceName == "" {
		c.Telemetry.Tracer = observability.DefaultTracerConfig(c.Name)
		c.Telemetry.Tracer.ServiceVersion = c.Version
		c.Telemetry.Tracer.Environment = c.Environment
	}
	if c.Telemetry.Meter.ServiceName == "" {
		c.Telemetry.Meter = observability.DefaultMeterConfig(c.Name)
		c.Telemetry.Meter.ServiceVersion = c.Version
		c.Telemetry.Meter.Environment = c.Environment
	}
}

func defaultStage(s *pipeline.StageConfig, name, policy string, n int) {
	if s.Name == "" {
		s.Name = name
	}
	if s.Policy == "" {
		s.Policy = policy
		if s.Concurrency == 0 {
			s.Concurrency = n
		}
	}
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(c.Pipeline); err != nil {
		return fmt.Errorf("config.pipeline: %w", err)
	}
	p := c.Pipeline
	limits := validation.New().
		Custom(p.RateLimit.Rate > 0, "rate_limit.rate", "must be positive").
		Min("rate_limit.burst", p.RateLimit.Burst, 0).
		Min("breaker.max_failures", p.Breaker.MaxFailures, 1).
		Custom(p.Breaker.Timeout >= 0, "breaker.timeout", "must not be negative").
		Min("disk.max_concurrent", p.Disk.MaxConcurrent, 1)
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("config.pipeline: %w", err)
	}
	for _, s := range []pipeline.StageConfig{c.Pipeline.Fetch, c.Pipeline.Process, c.Pipeline.Seal, c.Pipeline.Save} {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("config.pipeline.%s: %w", s.Name, err)
		}
	}
	if _, err := encryption.ParseAlgorithm(c.Encryption.Algorithm); err != nil {
		return fmt.Errorf("config.encryption: %w", err)
	}
	return c.Monitor.Validate()
}
