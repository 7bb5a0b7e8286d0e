// Package config provides configuration file support for clusterstream.
// It handles loading, validation, and environment variable interpolation
// for clusterstream.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the full clusterstream configuration.
type Config struct {
	Clustering Clustering `mapstructure:"clustering"`
	Ingress    Ingress    `mapstructure:"ingress"`
	Checkpoint Checkpoint `mapstructure:"checkpoint"`
	Sink       Sink       `mapstructure:"sink"`
	AWS        AWS        `mapstructure:"aws"`
	Logging    Logging    `mapstructure:"logging"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Telemetry  Telemetry  `mapstructure:"telemetry"`
}

// Clustering holds the DBSCAN and distance-matrix parameters.
type Clustering struct {
	// EmbeddingDim is the dimensionality of every embedding. Required;
	// immutable once a pool exists.
	EmbeddingDim int `mapstructure:"embedding_dim"`

	// Eps is the DBSCAN neighborhood radius in cosine distance.
	Eps float64 `mapstructure:"eps"`

	// MinSamples is the DBSCAN core-point minimum (self-inclusive).
	MinSamples int `mapstructure:"min_samples"`

	// SparseThreshold is the pool size above which the distance matrix
	// switches to sparse CSR and the row sort goes parallel.
	SparseThreshold int `mapstructure:"sparse_threshold"`

	// BlockSize is the tile width for the batched distance kernel.
	BlockSize int `mapstructure:"block_size"`

	// CentroidPolicy selects how a survivor's centroid is recomputed
	// on merge: "batch_mean" (default) or "size_weighted".
	CentroidPolicy string `mapstructure:"centroid_policy"`
}

// Ingress holds queue consumption settings.
type Ingress struct {
	QueueURL         string `mapstructure:"queue_url"`
	BatchSize        int    `mapstructure:"batch_size"`
	ReceiverThreads  int    `mapstructure:"receiver_threads"`
	PerReceiverBatch int    `mapstructure:"per_receiver_batch"`
}

// Checkpoint holds pool snapshot settings.
type Checkpoint struct {
	Bucket string `mapstructure:"object_store_bucket"`
	Key    string `mapstructure:"checkpoint_key"`

	// Every is the number of processed batches between snapshots.
	Every int `mapstructure:"checkpoint_every"`
}

// Sink holds key-value store settings.
type Sink struct {
	Table string `mapstructure:"kv_table"`
}

// AWS holds client settings shared by the SQS, S3, and DynamoDB adapters.
type AWS struct {
	Region string `mapstructure:"region"`

	// Endpoint overrides the service endpoint, for localstack-style
	// test targets. Empty means the SDK default.
	Endpoint string `mapstructure:"endpoint"`
}

// Logging holds zerolog settings.
type Logging struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Console enables human-readable output instead of JSON.
	Console bool `mapstructure:"console"`
}

// Metrics holds the Prometheus listener settings.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Telemetry holds observability settings.
type Telemetry struct {
	Tracing Tracing `mapstructure:"tracing"`
}

// Tracing holds OpenTelemetry tracing settings.
type Tracing struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults. EmbeddingDim
// has no default; it must be configured before startup.
func DefaultConfig() *Config {
	return &Config{
		Clustering: Clustering{
			Eps:             0.10,
			MinSamples:      2,
			SparseThreshold: 15000,
			BlockSize:       120,
			CentroidPolicy:  "batch_mean",
		},
		Ingress: Ingress{
			BatchSize:        500,
			ReceiverThreads:  50,
			PerReceiverBatch: 10,
		},
		Checkpoint: Checkpoint{
			Key:   "cluster-pool-checkpoint",
			Every: 5,
		},
		AWS: AWS{
			Region: "us-east-1",
		},
		Logging: Logging{
			Level:   "info",
			Console: false,
		},
		Metrics: Metrics{
			Enabled: true,
			Addr:    ":9102",
		},
		Telemetry: Telemetry{
			Tracing: Tracing{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in the queue URL, bucket,
// checkpoint key, table, AWS region and endpoint, and tracing endpoint
// are interpolated using ${VAR} syntax; other fields are taken as is.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Clustering.EmbeddingDim <= 0 {
		errs = append(errs, "clustering.embedding_dim: required and must be positive")
	}
	if cfg.Clustering.Eps <= 0 || cfg.Clustering.Eps > 1 {
		errs = append(errs, fmt.Sprintf("clustering.eps: must be in (0, 1], got %f", cfg.Clustering.Eps))
	}
	if cfg.Clustering.MinSamples < 1 {
		errs = append(errs, fmt.Sprintf("clustering.min_samples: must be at least 1, got %d", cfg.Clustering.MinSamples))
	}
	if cfg.Clustering.SparseThreshold < 1 {
		errs = append(errs, "clustering.sparse_threshold: must be positive")
	}
	if cfg.Clustering.BlockSize < 1 {
		errs = append(errs, "clustering.block_size: must be positive")
	}
	validPolicies := map[string]bool{"batch_mean": true, "size_weighted": true, "": true}
	if !validPolicies[cfg.Clustering.CentroidPolicy] {
		errs = append(errs, fmt.Sprintf("clustering.centroid_policy: unsupported policy %q (supported: batch_mean, size_weighted)", cfg.Clustering.CentroidPolicy))
	}

	if cfg.Ingress.BatchSize < 1 {
		errs = append(errs, "ingress.batch_size: must be positive")
	}
	if cfg.Ingress.ReceiverThreads < 1 {
		errs = append(errs, "ingress.receiver_threads: must be positive")
	}
	if cfg.Ingress.PerReceiverBatch < 1 || cfg.Ingress.PerReceiverBatch > 10 {
		errs = append(errs, fmt.Sprintf("ingress.per_receiver_batch: must be between 1 and 10, got %d", cfg.Ingress.PerReceiverBatch))
	}

	if cfg.Checkpoint.Every < 1 {
		errs = append(errs, "checkpoint.checkpoint_every: must be positive")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level: unsupported level %q", cfg.Logging.Level))
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// interpolateConfig applies environment interpolation to the string
// fields that commonly carry secrets or per-environment endpoints.
func interpolateConfig(cfg *Config) {
	cfg.Ingress.QueueURL = InterpolateEnv(cfg.Ingress.QueueURL)
	cfg.Checkpoint.Bucket = InterpolateEnv(cfg.Checkpoint.Bucket)
	cfg.Checkpoint.Key = InterpolateEnv(cfg.Checkpoint.Key)
	cfg.Sink.Table = InterpolateEnv(cfg.Sink.Table)
	cfg.AWS.Region = InterpolateEnv(cfg.AWS.Region)
	cfg.AWS.Endpoint = InterpolateEnv(cfg.AWS.Endpoint)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}
