package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Global  GlobalConfig   `yaml:"global" json:"global"`
	Dataset DatasetConfig  `yaml:"dataset" json:"dataset"`
	Scanner ScannerConfig  `yaml:"scanner" json:"scanner"`
	Gateway SecurityConfig `yaml:"gateway" json:"gateway"`
	Storage StorageConfig  `yaml:"storage" json:"storage"`
	Metrics MetricsConfig  `yaml:"metrics" json:"metrics"`
}

type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	LogFile   string `yaml:"log_file" json:"log_file"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
}

// DatasetConfig points at the out-of-band refreshed vulnerability and
// signature dataset.
type DatasetConfig struct {
	Path            string        `yaml:"path" json:"path"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
}

type ScannerConfig struct {
	Malware      MalwareConfig    `yaml:"malware" json:"malware"`
	Secrets      SecretsConfig    `yaml:"secrets" json:"secrets"`
	Dependencies DependencyConfig `yaml:"dependencies" json:"dependencies"`
	CacheTTL     time.Duration    `yaml:"cache_ttl" json:"cache_ttl"`
}

type MalwareConfig struct {
	Enabled         bool               `yaml:"enabled" json:"enabled"`
	ExtraSignatures []MalwareSignature `yaml:"extra_signatures,omitempty" json:"extra_signatures,omitempty"`
}

type SecretsConfig struct {
	// CustomPatterns maps a pattern name to its regular expression. They are
	// matched in addition to the built-in catalogue.
	CustomPatterns   map[string]string `yaml:"custom_patterns,omitempty" json:"custom_patterns,omitempty"`
	EntropyThreshold float64           `yaml:"entropy_threshold" json:"entropy_threshold"`
}

type DependencyConfig struct {
	CheckTransitive bool `yaml:"check_transitive" json:"check_transitive"`
	MaxDepth        int  `yaml:"max_depth" json:"max_depth"`
}

// SecurityConfig drives the secure storage gateway's scan and quarantine
// policy.
type SecurityConfig struct {
	EnableScanning      bool     `yaml:"enable_scanning" json:"enable_scanning"`
	QuarantineThreshold int      `yaml:"quarantine_threshold" json:"quarantine_threshold"`
	AutoQuarantine      bool     `yaml:"auto_quarantine" json:"auto_quarantine"`
	ScanPatterns        []string `yaml:"scan_patterns" json:"scan_patterns"`
	ExcludePatterns     []string `yaml:"exclude_patterns" json:"exclude_patterns"`
	MaxFileSize         int64    `yaml:"max_file_size" json:"max_file_size"`
	BatchConcurrency    int      `yaml:"batch_concurrency" json:"batch_concurrency"`
	RescanRateLimit     int      `yaml:"rescan_rate_limit" json:"rescan_rate_limit"`
}

type StorageConfig struct {
	BaseDir    string `yaml:"base_dir" json:"base_dir"`
	AuditLog   string `yaml:"audit_log" json:"audit_log"`
	HistoryDir string `yaml:"history_dir" json:"history_dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:  "info",
			LogFormat: "json",
			DataDir:   "./data",
		},
		Dataset: DatasetConfig{
			Path:            "./data/dataset.yaml",
			RefreshInterval: 6 * time.Hour,
		},
		Scanner: ScannerConfig{
			Malware: MalwareConfig{Enabled: true},
			Secrets: SecretsConfig{EntropyThreshold: 4.0},
			Dependencies: DependencyConfig{
				CheckTransitive: true,
				MaxDepth:        1,
			},
			CacheTTL: time.Hour,
		},
		Gateway: SecurityConfig{
			EnableScanning:      true,
			QuarantineThreshold: 50,
			AutoQuarantine:      true,
			ScanPatterns:        []string{"*"},
			MaxFileSize:         10 * 1024 * 1024,
			BatchConcurrency:    5,
			RescanRateLimit:     20,
		},
		Storage: StorageConfig{
			BaseDir:    "./data/store",
			AuditLog:   "./data/audit.log",
			HistoryDir: "./data/history",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9313",
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Global.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "global.log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	if c.Global.DataDir == "" {
		errs = append(errs, "global.data_dir must not be empty")
	}

	if c.Dataset.Path == "" {
		errs = append(errs, "dataset.path must not be empty")
	}
	if c.Dataset.RefreshInterval < 0 {
		errs = append(errs, "dataset.refresh_interval must be >= 0")
	}

	if c.Scanner.CacheTTL <= 0 {
		errs = append(errs, "scanner.cache_ttl must be > 0")
	}
	if c.Scanner.Secrets.EntropyThreshold < 0 {
		errs = append(errs, "scanner.secrets.entropy_threshold must be >= 0")
	}
	if c.Scanner.Dependencies.MaxDepth < 0 {
		errs = append(errs, "scanner.dependencies.max_depth must be >= 0")
	}

	if c.Gateway.QuarantineThreshold < 0 || c.Gateway.QuarantineThreshold > 100 {
		errs = append(errs, "gateway.quarantine_threshold must be in [0,100]")
	}
	if c.Gateway.MaxFileSize <= 0 {
		errs = append(errs, "gateway.max_file_size must be > 0")
	}
	if c.Gateway.BatchConcurrency <= 0 {
		errs = append(errs, "gateway.batch_concurrency must be > 0")
	}
	if c.Gateway.RescanRateLimit < 0 {
		errs = append(errs, "gateway.rescan_rate_limit must be >= 0")
	}

	if c.Storage.BaseDir == "" {
		errs = append(errs, "storage.base_dir must not be empty")
	}
	if c.Storage.AuditLog == "" {
		errs = append(errs, "storage.audit_log must not be empty")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen must be set when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	}

	return c.Validate()
}
