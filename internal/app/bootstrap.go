package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"regionscan/internal/config"
	"regionscan/internal/inventory"
	"regionscan/internal/refresh"
	"regionscan/internal/remote"
	"regionscan/internal/storage"
	"regionscan/internal/task/retry"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

// validateRuntime rejects configs whose values only make sense to the
// components that consume them. Load and hot reload both run it.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	if spec := strings.TrimSpace(cfg.Scan.Refresh); spec != "" {
		if _, err := refresh.ParseSchedule(spec); err != nil {
			return fmt.Errorf("scan.refresh: %w", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Scan.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scan.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		driver = "memory"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapRetryPolicy(cfg *config.Config) (retry.Policy, error) {
	base, err := config.ParseDurationOrDefault("scan.retry.base", cfg.Scan.Retry.Base, config.DefaultRetryBase)
	if err != nil {
		return retry.Policy{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("scan.retry.max_delay", cfg.Scan.Retry.MaxDelay, config.DefaultRetryMaxDelay)
	if err != nil {
		return retry.Policy{}, err
	}
	attempts := config.DefaultRetryMax
	if cfg.Scan.Retry.Max != nil {
		attempts = *cfg.Scan.Retry.Max
	}
	return retry.Policy{Max: attempts, Base: base, MaxDelay: maxDelay}, nil
}

// progressInterval returns 0 when reports are disabled ("0s").
func progressInterval(cfg *config.Config) (time.Duration, error) {
	raw := strings.TrimSpace(cfg.Progress.Interval)
	if raw == "" {
		return config.DefaultProgressInterval, nil
	}
	return config.ParseDurationField("progress.interval", raw)
}

func newRemote(cfg *config.Config) (*remote.Simulated, error) {
	latency, err := config.ParseDurationField("remote.latency", cfg.Remote.Latency)
	if err != nil {
		return nil, err
	}
	return remote.NewSimulated(remote.SimulatedConfig{
		RatePerSec:         cfg.Remote.RatePerSec,
		Burst:              cfg.Remote.Burst,
		ResourcesPerTarget: cfg.Remote.ResourcesPerTarget,
		Latency:            latency,
	}), nil
}

// buildFleet creates one worker and producer per configured target.
func (a *App) buildFleet(cfg *config.Config, log logx.Logger) error {
	targets, err := cfg.Targets()
	if err != nil {
		return err
	}
	policy, err := mapRetryPolicy(cfg)
	if err != nil {
		return err
	}
	pageSize := cfg.Scan.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}

	var metrics remote.MetricSource
	if len(cfg.Scan.Metrics) > 0 {
		metrics = a.api
	}

	for _, st := range targets {
		_, err := a.fleet.Ensure(st.Target, func(t remote.Target) (*worker.Worker, error) {
			p, err := inventory.NewProducer(inventory.Config{
				Target:   t,
				PageSize: pageSize,
				Metrics:  cfg.Scan.Metrics,
				Retry:    policy,
				Replace:  cfg.Scan.Replace,
			}, inventory.Deps{
				Lister:  a.api,
				Metrics: metrics,
				Store:   a.store,
				Log:     log,
			})
			if err != nil {
				return nil, err
			}
			return worker.New(worker.Config{Name: t.Key(), Delay: st.Delay}, p, log, a.bus), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
