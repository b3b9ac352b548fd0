package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

type MonitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Monitor periodically samples the registry and logs component state
// transitions, including demotions to stale that no component reports
// itself.
type Monitor struct {
	registry   *Registry
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:   registry,
		interval:   interval,
		staleAfter: cfg.StaleAfter,
		logger:     logger.With("component", "heartbeat"),
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.interval.String(), "stale_after", m.staleAfter.String())

	last := map[string]string{}
	for {
		m.scan(last)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) scan(last map[string]string) {
	for _, component := range m.registry.Snapshot(m.staleAfter).Components {
		before, seen := last[component.Name]
		last[component.Name] = component.State
		if !seen || before == component.State {
			continue
		}
		if component.State == StateDegraded || component.State == StateStale {
			m.logger.Warn("component state changed",
				"name", component.Name, "from", before, "to", component.State, "error", component.Error)
			continue
		}
		m.logger.Info("component state changed",
			"name", component.Name, "from", before, "to", component.State)
	}
}
