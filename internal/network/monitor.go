package network

import (
	"context"
	"log/slog"
	"time"
)

// MonitorConfig controls the background health sweep.
type MonitorConfig struct {
	Interval    time.Duration
	Concurrency int
}

// Monitor periodically health checks every chain with a client.
type Monitor struct {
	manager *Manager
	cfg     MonitorConfig
	report  func(Health)
	logger  *slog.Logger
}

// NewMonitor creates a monitor. report, when set, receives every result.
func NewMonitor(manager *Manager, cfg MonitorConfig, report func(Health)) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Monitor{
		manager: manager,
		cfg:     cfg,
		report:  report,
		logger:  manager.logger.With("component", "monitor"),
	}
}

// Run sweeps immediately and then on every interval until ctx is done.
func (mon *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(mon.cfg.Interval)
	defer ticker.Stop()

	mon.logger.Info("健康监控已启动", "interval", mon.cfg.Interval, "concurrency", mon.cfg.Concurrency)
	for {
		mon.Sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep checks every chain once and returns the results.
func (mon *Monitor) Sweep(ctx context.Context) map[string]Health {
	results := mon.manager.CheckAllHealth(ctx, mon.cfg.Concurrency)
	unhealthy := 0
	for _, h := range results {
		if !h.IsHealthy {
			unhealthy++
		}
		if mon.report != nil {
			mon.report(h)
		}
	}
	mon.logger.Debug("健康巡检完成", "chains", len(results), "unhealthy", unhealthy)
	return results
}
