// Package config loads engine configuration.
// Priority: defaults < file < env
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logflow/eventpipe/pkg/errors"
)

// Duration decodes YAML durations written either as strings ("5s",
// "250ms") or as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config holds all engine configuration.
type Config struct {
	Version int `yaml:"version"`

	Engine     EngineConfig     `yaml:"engine"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// EngineConfig controls workers and batching.
type EngineConfig struct {
	Workers       int      `yaml:"workers"`        // 0 = one per CPU
	BatchSize     int      `yaml:"batch_size"`     // events per read
	QueueCapacity int      `yaml:"queue_capacity"` // buffered events
	FlushInterval Duration `yaml:"flush_interval"` // periodic flush
	Ordered       string   `yaml:"ordered"`        // ordered | unordered
}

// ShutdownConfig controls stall detection during shutdown.
type ShutdownConfig struct {
	CheckInterval  Duration `yaml:"check_interval"`
	StallThreshold int      `yaml:"stall_threshold"` // stalled intervals before escalation
	Unsafe         bool     `yaml:"unsafe"`          // force termination on stall
}

// DeadLetterConfig controls where aborted batches are recorded.
type DeadLetterConfig struct {
	Backend string `yaml:"backend"` // file | redis | none
	Path    string `yaml:"path"`    // file backend
	Addr    string `yaml:"addr"`    // redis backend
	Key     string `yaml:"key"`     // redis list key
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Engine: EngineConfig{
			Workers:       0, // auto
			BatchSize:     128,
			QueueCapacity: 4096,
			FlushInterval: Duration(5 * time.Second),
			Ordered:       "unordered",
		},
		Shutdown: ShutdownConfig{
			CheckInterval:  Duration(time.Second),
			StallThreshold: 5,
			Unsafe:         false,
		},
		DeadLetter: DeadLetterConfig{
			Backend: "file",
			Path:    "dead_letters.jsonl",
			Key:     "eventpipe:dead_letters",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Load reads a config file over the defaults, then applies environment
// overrides. A missing file leaves the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "parse config").
				WithContext("path", path)
		}
	}

	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnv applies environment variable overrides.
func (c *Config) loadEnv() {
	if v := os.Getenv("EVENTPIPE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.Workers = n
		}
	}
	if v := os.Getenv("EVENTPIPE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.BatchSize = n
		}
	}
	if v := os.Getenv("EVENTPIPE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.FlushInterval = Duration(d)
		}
	}
	if v := os.Getenv("EVENTPIPE_ORDERED"); v != "" {
		c.Engine.Ordered = v
	}
	if v := os.Getenv("EVENTPIPE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Workers < 0 {
		return errors.New(errors.CodeInvalidConfig, "workers must not be negative").
			WithContext("workers", c.Engine.Workers)
	}
	if c.Engine.BatchSize < 1 {
		return errors.New(errors.CodeInvalidConfig, "batch_size must be at least 1").
			WithContext("batch_size", c.Engine.BatchSize)
	}
	if c.Engine.QueueCapacity < c.Engine.BatchSize {
		return errors.New(errors.CodeInvalidConfig, "queue_capacity must hold at least one batch").
			WithContext("queue_capacity", c.Engine.QueueCapacity).
			WithContext("batch_size", c.Engine.BatchSize)
	}
	if c.Engine.FlushInterval.Std() <= 0 {
		return errors.New(errors.CodeInvalidConfig, "flush_interval must be positive").
			WithContext("flush_interval", c.Engine.FlushInterval.String())
	}
	switch c.Engine.Ordered {
	case "", "ordered", "unordered", "true", "false":
	default:
		return errors.New(errors.CodeInvalidConfig, "ordered must be one of ordered, unordered").
			WithContext("ordered", c.Engine.Ordered)
	}
	if c.Shutdown.StallThreshold < 1 {
		return errors.New(errors.CodeInvalidConfig, "stall_threshold must be at least 1").
			WithContext("stall_threshold", c.Shutdown.StallThreshold)
	}
	switch c.DeadLetter.Backend {
	case "", "none":
	case "file":
		if c.DeadLetter.Path == "" {
			return errors.New(errors.CodeInvalidConfig, "file dead letter backend needs a path")
		}
	case "redis":
		if c.DeadLetter.Addr == "" {
			return errors.New(errors.CodeInvalidConfig, "redis dead letter backend needs an addr")
		}
	default:
		return errors.New(errors.CodeInvalidConfig, "unknown dead letter backend").
			WithContext("backend", c.DeadLetter.Backend)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New(errors.CodeInvalidConfig, "telemetry enabled without an endpoint")
	}
	return nil
}
