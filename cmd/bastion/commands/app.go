package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bastionhq/bastion/internal/dataset"
	"github.com/bastionhq/bastion/internal/gateway"
	"github.com/bastionhq/bastion/internal/scanner"
	"github.com/bastionhq/bastion/internal/storage"
	"github.com/bastionhq/bastion/pkg/models"
	"github.com/bastionhq/bastion/pkg/utils"
)

// app wires the configured components together for a single command run.
type app struct {
	cfg     *models.Config
	dataset *dataset.Store
	history *storage.ScanHistory
	scanner *scanner.Scanner
	gateway *gateway.Gateway
	audit   *storage.FileAuditLog
	metrics *utils.Metrics
	logger  *logrus.Logger
}

func buildApp(ctx context.Context) (*app, error) {
	cfg := resolveConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logrus.StandardLogger()
	metrics := utils.NewMetrics(cfg.Metrics.Enabled)

	ds := dataset.NewStore(logger)
	if err := ds.LoadFile(cfg.Dataset.Path); err != nil {
		logger.Warnf("Vulnerability dataset not loaded (%v); scans will fail until one is available", err)
	} else if cfg.Dataset.RefreshInterval > 0 {
		ds.StartRefresher(ctx, cfg.Dataset.RefreshInterval)
	}

	history, err := storage.NewScanHistory(cfg.Storage.HistoryDir, cfg.Scanner.CacheTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("build scan history: %w", err)
	}
	history.StartJanitor(ctx, 0)

	scn, err := scanner.NewScanner(ds, history, cfg.Scanner, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("build scanner: %w", err)
	}

	store, err := storage.NewLocalStore(cfg.Storage.BaseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("build object store: %w", err)
	}

	audit, err := storage.NewFileAuditLog(cfg.Storage.AuditLog, logger)
	if err != nil {
		return nil, fmt.Errorf("build audit log: %w", err)
	}

	gw, err := gateway.NewGateway(store, audit, scn, gateway.NewLogSink(logger), cfg.Gateway, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Warnf("Metrics server stopped: %v", err)
			}
		}()
	}

	return &app{
		cfg:     cfg,
		dataset: ds,
		history: history,
		scanner: scn,
		gateway: gw,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warnf("Failed to close audit log: %v", err)
		}
	}
}

// resolveConfig overlays viper-provided values on the defaults.
func resolveConfig() *models.Config {
	cfg := models.DefaultConfig()

	if v := viper.GetString("data_directory"); v != "" {
		cfg.Global.DataDir = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.Global.LogLevel = v
	}
	if v := viper.GetString("log_format"); v != "" {
		cfg.Global.LogFormat = v
	}

	if v := viper.GetString("dataset.path"); v != "" {
		cfg.Dataset.Path = v
	}
	if viper.IsSet("dataset.refresh_interval") {
		cfg.Dataset.RefreshInterval = viper.GetDuration("dataset.refresh_interval")
	}

	if viper.IsSet("scanner.cache_ttl") {
		cfg.Scanner.CacheTTL = viper.GetDuration("scanner.cache_ttl")
	}
	if viper.IsSet("scanner.malware.enabled") {
		cfg.Scanner.Malware.Enabled = viper.GetBool("scanner.malware.enabled")
	}
	if viper.IsSet("scanner.secrets.entropy_threshold") {
		cfg.Scanner.Secrets.EntropyThreshold = viper.GetFloat64("scanner.secrets.entropy_threshold")
	}
	if viper.IsSet("scanner.dependencies.check_transitive") {
		cfg.Scanner.Dependencies.CheckTransitive = viper.GetBool("scanner.dependencies.check_transitive")
	}

	if viper.IsSet("gateway.enable_scanning") {
		cfg.Gateway.EnableScanning = viper.GetBool("gateway.enable_scanning")
	}
	if viper.IsSet("gateway.quarantine_threshold") {
		cfg.Gateway.QuarantineThreshold = viper.GetInt("gateway.quarantine_threshold")
	}
	if viper.IsSet("gateway.auto_quarantine") {
		cfg.Gateway.AutoQuarantine = viper.GetBool("gateway.auto_quarantine")
	}
	if v := viper.GetStringSlice("gateway.scan_patterns"); len(v) > 0 {
		cfg.Gateway.ScanPatterns = v
	}
	if v := viper.GetStringSlice("gateway.exclude_patterns"); len(v) > 0 {
		cfg.Gateway.ExcludePatterns = v
	}
	if viper.IsSet("gateway.max_file_size") {
		cfg.Gateway.MaxFileSize = viper.GetInt64("gateway.max_file_size")
	}
	if viper.IsSet("gateway.batch_concurrency") {
		cfg.Gateway.BatchConcurrency = viper.GetInt("gateway.batch_concurrency")
	}
	if viper.IsSet("gateway.rescan_rate_limit") {
		cfg.Gateway.RescanRateLimit = viper.GetInt("gateway.rescan_rate_limit")
	}

	if v := viper.GetString("storage.base_dir"); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := viper.GetString("storage.audit_log"); v != "" {
		cfg.Storage.AuditLog = v
	}
	if v := viper.GetString("storage.history_dir"); v != "" {
		cfg.Storage.HistoryDir = v
	}

	if viper.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	}
	if v := viper.GetString("metrics.listen"); v != "" {
		cfg.Metrics.Listen = v
	}

	return cfg
}

// commandContext returns a context honoring an optional timeout flag value.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}
