// Package config binds the service configuration from YAML with defaults
// and validation. One file configures the whole worker; every section has
// working defaults so a minimal file only overrides what differs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/dcvalidate/errors"
)

// Config is the root configuration.
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Rules    RulesConfig    `yaml:"rules"`
	Storage  StorageConfig  `yaml:"storage"`
	Worker   WorkerConfig   `yaml:"worker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string   `yaml:"url"`
	Name          string   `yaml:"name"`
	MaxReconnects int      `yaml:"max_reconnects"`
	ReconnectWait Duration `yaml:"reconnect_wait"`
}

// QueueConfig configures the job queue and dead-lettering.
type QueueConfig struct {
	Stream            string   `yaml:"stream"`
	Subject           string   `yaml:"subject"`
	Durable           string   `yaml:"durable"`
	Visibility        Duration `yaml:"visibility"`
	FetchMaxWait      Duration `yaml:"fetch_max_wait"`
	MaxDequeueCount   int      `yaml:"max_dequeue_count"`
	DeadLetterSubject string   `yaml:"dead_letter_subject"`
}

// PipelineConfig bounds the validation pipeline.
type PipelineConfig struct {
	Parallelism          int      `yaml:"parallelism"`
	BufferCapacity       int      `yaml:"buffer_capacity"`
	PersistenceBatchSize int      `yaml:"persistence_batch_size"`
	ProcessTimeout       Duration `yaml:"process_timeout"`
	DrainTimeout         Duration `yaml:"drain_timeout"`
	ResultsSubject       string   `yaml:"results_subject"`
}

// RulesConfig names the rule storage.
type RulesConfig struct {
	Bucket      string `yaml:"bucket"`
	JSONRuleSet string `yaml:"json_rule_set"`
	CodeRuleSet string `yaml:"code_rule_set"`
}

// StorageConfig names the KV buckets backing the repositories.
type StorageConfig struct {
	DeviceBucket   string `yaml:"device_bucket"`
	ReadingsBucket string `yaml:"readings_bucket"`
	RunsBucket     string `yaml:"runs_bucket"`
}

// WorkerConfig paces the dequeue loop.
type WorkerConfig struct {
	DequeueBatch  int      `yaml:"dequeue_batch"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	RateBurst     int      `yaml:"rate_burst"`
	RetryDelay    Duration `yaml:"retry_delay"`
}

// MetricsConfig configures the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration that runs against a local NATS.
func DefaultConfig() Config {
	return Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "dcvalidate",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Queue: QueueConfig{
			Stream:            "DCVALIDATE_JOBS",
			Subject:           "dcvalidate.jobs",
			Durable:           "dcvalidate-worker",
			Visibility:        Duration(5 * time.Minute),
			FetchMaxWait:      Duration(2 * time.Second),
			MaxDequeueCount:   5,
			DeadLetterSubject: "dcvalidate.jobs.dead",
		},
		Pipeline: PipelineConfig{
			Parallelism:          8,
			BufferCapacity:       256,
			PersistenceBatchSize: 100,
			ProcessTimeout:       Duration(10 * time.Minute),
			DrainTimeout:         Duration(30 * time.Second),
			ResultsSubject:       "dcvalidate.results",
		},
		Rules: RulesConfig{
			Bucket:      "dcvalidate_rules",
			JSONRuleSet: "json-rules",
			CodeRuleSet: "code-rules",
		},
		Storage: StorageConfig{
			DeviceBucket:   "dcvalidate_devices",
			ReadingsBucket: "dcvalidate_readings",
			RunsBucket:     "dcvalidate_runs",
		},
		Worker: WorkerConfig{
			DequeueBatch:  4,
			RatePerSecond: 2,
			RateBurst:     4,
			RetryDelay:    Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "config file reading")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "config file parsing")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	var problems []string

	if c.NATS.URL == "" {
		problems = append(problems, "nats.url is required")
	}
	if c.Queue.Subject == "" {
		problems = append(problems, "queue.subject is required")
	}
	if c.Queue.Visibility <= 0 {
		problems = append(problems, "queue.visibility must be positive")
	}
	if c.Queue.MaxDequeueCount < 1 {
		problems = append(problems, "queue.max_dequeue_count must be at least 1")
	}
	if c.Pipeline.Parallelism < 1 {
		problems = append(problems, "pipeline.parallelism must be at least 1")
	}
	if c.Pipeline.PersistenceBatchSize < 1 {
		problems = append(problems, "pipeline.persistence_batch_size must be at least 1")
	}
	if c.Pipeline.ProcessTimeout <= 0 {
		problems = append(problems, "pipeline.process_timeout must be positive")
	}
	if c.Pipeline.ResultsSubject == "" {
		problems = append(problems, "pipeline.results_subject is required")
	}
	if c.Worker.RatePerSecond <= 0 {
		problems = append(problems, "worker.rate_per_second must be positive")
	}
	if c.Worker.DequeueBatch < 1 {
		problems = append(problems, "worker.dequeue_batch must be at least 1")
	}
	if c.Rules.JSONRuleSet == "" || c.Rules.CodeRuleSet == "" {
		problems = append(problems, "rules.json_rule_set and rules.code_rule_set are required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug/info/warn/error", c.Logging.Level))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, problems),
			"config", "Validate", "configuration validation")
	}
	return nil
}
