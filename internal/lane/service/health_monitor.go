package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker probes the backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// BackendHealth is the last observed backend reachability.
type BackendHealth struct {
	Reachable bool
	CheckedAt time.Time
	// Since is when Reachable last changed.
	Since time.Time
}

// HealthMonitor records backend reachability and tells listeners when it
// changes. Check can be called directly; Start additionally polls in the
// background so status surfaces stay current while the lane is blocked.
type HealthMonitor struct {
	checker  HealthChecker
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	notifyMu  sync.Mutex
	mu        sync.RWMutex
	health    BackendHealth
	checked   bool
	listeners []func(bool)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthMonitor(c HealthChecker, interval time.Duration, log zerolog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		checker:  c,
		interval: interval,
		log:      log.With().Str("component", "health_monitor").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		done:     make(chan struct{}),
	}
}

// OnChange registers fn to be called with the new reachability after the
// first check and on every change. Register before Start.
func (m *HealthMonitor) OnChange(fn func(reachable bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Check probes the backend once and records the result.
func (m *HealthMonitor) Check(ctx context.Context) bool {
	ok := m.checker.HealthCheck(ctx)

	// Record and fan-out are one step: listeners see changes in the order
	// they were recorded.
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	now := m.now()
	m.mu.Lock()
	changed := !m.checked || m.health.Reachable != ok
	m.health.CheckedAt = now
	if changed {
		m.health.Reachable = ok
		m.health.Since = now
	}
	m.checked = true
	listeners := append(([]func(bool))(nil), m.listeners...)
	m.mu.Unlock()

	if changed {
		if ok {
			m.log.Info().Msg("backend reachable")
		} else {
			m.log.Warn().Msg("backend unreachable, requests will be queued")
		}
		for _, fn := range listeners {
			fn(ok)
		}
	}
	return ok
}

func (m *HealthMonitor) Health() BackendHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.log.Info().Dur("interval", m.interval).Msg("health monitor started")
}

// Stop ends background polling and waits for it. It is a no-op when the
// monitor was never started.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
