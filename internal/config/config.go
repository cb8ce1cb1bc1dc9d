// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// Chunking controls the content-defined chunker.
type Chunking struct {
	AvgBlockSize int `mapstructure:"avg_block_size"`
	WorkerCount  int `mapstructure:"worker_count"`
}

// Compression controls the dictionary trainer and zstd codec.
type Compression struct {
	Enabled        bool   `mapstructure:"enabled"`
	Level          int    `mapstructure:"level"`
	DictPath       string `mapstructure:"dict_path"`
	RegenDict      bool   `mapstructure:"regen_dict"`
	TargetDictSize int    `mapstructure:"target_dict_size"`
	SampleBlockCap int    `mapstructure:"sample_block_cap"`
	SampleByteCap  int64  `mapstructure:"sample_byte_cap"`
}

// Bundling controls the bundle packer.
type Bundling struct {
	SizeCap int64 `mapstructure:"size_cap"`
}

// Apply controls the apply engine's concurrency, retry and timeout behavior.
type Apply struct {
	FetchConcurrency int            `mapstructure:"fetch_concurrency"`
	MaxRetries       int            `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration  `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration  `mapstructure:"retry_max_delay"`
	RequestTimeout   time.Duration  `mapstructure:"request_timeout"`
	CircuitBreaker   CircuitBreaker `mapstructure:"circuit_breaker"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// ObjectStore holds S3-compatible object store connectivity, injected
// explicitly rather than read from module-level globals.
type ObjectStore struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	CDNID           string `mapstructure:"cdn_id"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// Configured reports whether enough credentials are present to perform
// remote operations; missing credentials disable upload but never
// local create/apply/validate.
func (o ObjectStore) Configured() bool {
	return o.AccessKeyID != "" && o.SecretAccessKey != "" && o.Bucket != ""
}

type Observability struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

type Config struct {
	Chunking      Chunking      `mapstructure:"chunking"`
	Compression   Compression   `mapstructure:"compression"`
	Bundling      Bundling      `mapstructure:"bundling"`
	Apply         Apply         `mapstructure:"apply"`
	ObjectStore   ObjectStore   `mapstructure:"object_store"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &Config{
		Chunking: Chunking{
			AvgBlockSize: 64 * 1024,
			WorkerCount:  workers,
		},
		Compression: Compression{
			Enabled:        false,
			Level:          5,
			TargetDictSize: 110 * 1024,
			SampleBlockCap: 10_000,
			SampleByteCap:  100 * 1024 * 1024,
		},
		Bundling: Bundling{
			SizeCap: 16 * 1024 * 1024,
		},
		Apply: Apply{
			FetchConcurrency: 16,
			MaxRetries:       3,
			RetryBaseDelay:   250 * time.Millisecond,
			RetryMaxDelay:    10 * time.Second,
			RequestTimeout:   30 * time.Second,
			CircuitBreaker: CircuitBreaker{
				FailureThreshold: 0.5,
				Window:           1 * time.Minute,
				CooldownPeriod:   30 * time.Second,
				MinSamples:       10,
			},
		},
		ObjectStore: ObjectStore{
			Region: "us-east-1",
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
	}
}

// Load reads configuration from a YAML file (if present) layered under
// environment variable overrides. Object-store credentials are also
// bound to dedicated environment variables (PATCHKIT_S3_*,
// PATCHKIT_CDN_ID, AWS_*), which take precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("PATCHKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("chunking.avg_block_size", def.Chunking.AvgBlockSize)
	v.SetDefault("chunking.worker_count", def.Chunking.WorkerCount)

	v.SetDefault("compression.enabled", def.Compression.Enabled)
	v.SetDefault("compression.level", def.Compression.Level)
	v.SetDefault("compression.target_dict_size", def.Compression.TargetDictSize)
	v.SetDefault("compression.sample_block_cap", def.Compression.SampleBlockCap)
	v.SetDefault("compression.sample_byte_cap", def.Compression.SampleByteCap)

	v.SetDefault("bundling.size_cap", def.Bundling.SizeCap)

	v.SetDefault("apply.fetch_concurrency", def.Apply.FetchConcurrency)
	v.SetDefault("apply.max_retries", def.Apply.MaxRetries)
	v.SetDefault("apply.retry_base_delay", def.Apply.RetryBaseDelay)
	v.SetDefault("apply.retry_max_delay", def.Apply.RetryMaxDelay)
	v.SetDefault("apply.request_timeout", def.Apply.RequestTimeout)
	v.SetDefault("apply.circuit_breaker.failure_threshold", def.Apply.CircuitBreaker.FailureThreshold)
	v.SetDefault("apply.circuit_breaker.window", def.Apply.CircuitBreaker.Window)
	v.SetDefault("apply.circuit_breaker.cooldown_period", def.Apply.CircuitBreaker.CooldownPeriod)
	v.SetDefault("apply.circuit_breaker.min_samples", def.Apply.CircuitBreaker.MinSamples)

	v.SetDefault("object_store.region", def.ObjectStore.Region)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)

	// Object store credentials: extra environment variable names; never required for local ops.
	_ = v.BindEnv("object_store.access_key_id", "PATCHKIT_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("object_store.secret_access_key", "PATCHKIT_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("object_store.endpoint", "PATCHKIT_S3_ENDPOINT")
	_ = v.BindEnv("object_store.bucket", "PATCHKIT_S3_BUCKET")
	_ = v.BindEnv("object_store.cdn_id", "PATCHKIT_CDN_ID")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error before any
// work begins (ConfigError class).
func Validate(cfg *Config) error {
	if cfg.Chunking.AvgBlockSize < 64 {
		return patcherr.Config("config.Validate", fmt.Errorf("chunking.avg_block_size must be >= 64 bytes"))
	}
	if cfg.Chunking.WorkerCount < 1 {
		return patcherr.Config("config.Validate", fmt.Errorf("chunking.worker_count must be >= 1"))
	}
	if cfg.Compression.Enabled && cfg.Compression.Level < 1 {
		return patcherr.Config("config.Validate", fmt.Errorf("compression.level must be >= 1 when compression is enabled"))
	}
	if cfg.Bundling.SizeCap < int64(cfg.Chunking.AvgBlockSize) {
		return patcherr.Config("config.Validate", fmt.Errorf("bundling.size_cap must be >= chunking.avg_block_size"))
	}
	if cfg.Apply.FetchConcurrency < 1 {
		return patcherr.Config("config.Validate", fmt.Errorf("apply.fetch_concurrency must be >= 1"))
	}
	if cfg.Apply.MaxRetries < 0 {
		return patcherr.Config("config.Validate", fmt.Errorf("apply.max_retries must be >= 0"))
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return patcherr.Config("config.Validate", fmt.Errorf("observability.metrics_port must be 1..65535"))
	}
	return nil
}
