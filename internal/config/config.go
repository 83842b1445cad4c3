package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Source      Cluster   `yaml:"source"`
	Target      Cluster   `yaml:"target"`
	Migration   Migration `yaml:"migration"`
	Executor    Executor  `yaml:"executor"`
	LogLevel    string    `yaml:"log_level"`
	LogFile     string    `yaml:"log_file"`
	MetricsAddr string    `yaml:"metrics_addr"`
}

// Cluster represents one Elasticsearch/OpenSearch cluster endpoint
type Cluster struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
}

// Migration represents migration-specific configuration
type Migration struct {
	TimestampField    string `yaml:"timestamp_field"`
	IndexPattern      string `yaml:"index_pattern"`
	SnapshotRepo      string `yaml:"snapshot_repo"`
	Checkpoint        string `yaml:"checkpoint"`
	CheckpointBackend string `yaml:"checkpoint_backend"`
	BatchPauseSecs    int    `yaml:"batch_pause_secs"`
}

// Executor represents the external batch-sync executor configuration
type Executor struct {
	Home        string `yaml:"home"`
	JavaHome    string `yaml:"java_home"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		LogFile:  "./logs/migration.log",
		Migration: Migration{
			IndexPattern:      "*",
			SnapshotRepo:      "migration_assistant_repo",
			Checkpoint:        "./logs/.migration_progress",
			CheckpointBackend: BackendFile,
			BatchPauseSecs:    5,
		},
		Executor: Executor{
			TimeoutSecs: 3600,
			MaxRetries:  3,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("src-endpoint") {
		cfg.Source.Endpoint, _ = flags.GetString("src-endpoint")
	}
	if flags.Changed("src-username") {
		cfg.Source.Username, _ = flags.GetString("src-username")
	}
	if flags.Changed("src-password") {
		cfg.Source.Password, _ = flags.GetString("src-password")
	}
	if flags.Changed("src-insecure") {
		cfg.Source.Insecure, _ = flags.GetBool("src-insecure")
	}

	if flags.Changed("dst-endpoint") {
		cfg.Target.Endpoint, _ = flags.GetString("dst-endpoint")
	}
	if flags.Changed("dst-username") {
		cfg.Target.Username, _ = flags.GetString("dst-username")
	}
	if flags.Changed("dst-password") {
		cfg.Target.Password, _ = flags.GetString("dst-password")
	}
	if flags.Changed("dst-insecure") {
		cfg.Target.Insecure, _ = flags.GetBool("dst-insecure")
	}

	if flags.Changed("timestamp-field") {
		cfg.Migration.TimestampField, _ = flags.GetString("timestamp-field")
	}
	if flags.Changed("index-pattern") {
		cfg.Migration.IndexPattern, _ = flags.GetString("index-pattern")
	}
	if flags.Changed("snapshot-repo") {
		cfg.Migration.SnapshotRepo, _ = flags.GetString("snapshot-repo")
	}
	if flags.Changed("checkpoint") {
		cfg.Migration.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("checkpoint-backend") {
		cfg.Migration.CheckpointBackend, _ = flags.GetString("checkpoint-backend")
	}
	if flags.Changed("batch-pause") {
		cfg.Migration.BatchPauseSecs, _ = flags.GetInt("batch-pause")
	}

	if flags.Changed("executor-home") {
		cfg.Executor.Home, _ = flags.GetString("executor-home")
	}
	if flags.Changed("java-home") {
		cfg.Executor.JavaHome, _ = flags.GetString("java-home")
	}
	if flags.Changed("sync-timeout") {
		cfg.Executor.TimeoutSecs, _ = flags.GetInt("sync-timeout")
	}
	if flags.Changed("retries") {
		cfg.Executor.MaxRetries, _ = flags.GetInt("retries")
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.LogFile, _ = flags.GetString("log-file")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Source.Endpoint == "" {
		return fmt.Errorf("source endpoint is required")
	}
	if c.Target.Endpoint == "" {
		return fmt.Errorf("target endpoint is required")
	}

	if c.Migration.TimestampField == "" {
		return fmt.Errorf("timestamp field is required")
	}
	if c.Migration.Checkpoint == "" {
		return fmt.Errorf("checkpoint location is required")
	}
	if b := c.Migration.CheckpointBackend; b != BackendFile && b != BackendSQLite {
		return fmt.Errorf("checkpoint backend must be %q or %q", BackendFile, BackendSQLite)
	}
	if c.Migration.BatchPauseSecs < 0 {
		return fmt.Errorf("batch pause must not be negative")
	}

	if c.Executor.Home == "" {
		return fmt.Errorf("executor home is required")
	}
	if c.Executor.TimeoutSecs <= 0 {
		return fmt.Errorf("sync timeout must be positive")
	}
	if c.Executor.MaxRetries <= 0 {
		return fmt.Errorf("retries must be positive")
	}

	return nil
}
