package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml strings like "250ms" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config defines the storage service configuration schema.
type Config struct {
	Cluster   string          `yaml:"cluster"`
	LogLevel  string          `yaml:"log_level"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Retention RetentionConfig `yaml:"retention"`
}

type StorageConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	ProduceRetries  int      `yaml:"produce_retries"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type RetentionConfig struct {
	Interval    Duration `yaml:"interval"`
	KeepOffsets int64    `yaml:"keep_offsets"`
	Concurrency int      `yaml:"concurrency"`
}

// Load reads and validates the configuration. TANSU_PG_DSN overrides the
// configured DSN so secrets can stay out of the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if dsn := os.Getenv("TANSU_PG_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}

	if cfg.Cluster == "" {
		return Config{}, fmt.Errorf("cluster is required")
	}
	if cfg.Storage.DSN == "" {
		return Config{}, fmt.Errorf("storage.dsn is required")
	}

	return cfg, nil
}
