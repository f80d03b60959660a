// Package zonemgr maintains zones in the background: it schedules refreshes of
// slave and stub zones from their SOA timers and hands the actual transfer to
// a Refresher.
//
// A zone stays managed until its last reference is dropped, at which point it
// is removed automatically.
package zonemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/hydranamed/internal/metrics"
	"github.com/jroosing/hydranamed/internal/zone"
)

// ErrShutdown is returned by Manage after Shutdown.
var ErrShutdown = errors.New("zone manager is shut down")

const (
	DefaultRetry      = 15 * time.Minute
	DefaultMinRefresh = 5 * time.Minute
)

// Refresher fetches fresh data for a transferred zone from its masters and
// installs it with zone.SetDatabase.
type Refresher interface {
	Refresh(ctx context.Context, z *zone.Zone) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, z *zone.Zone) error

func (f RefresherFunc) Refresh(ctx context.Context, z *zone.Zone) error { return f(ctx, z) }

// Config configures a Manager. Zero values select the defaults.
type Config struct {
	Logger     *slog.Logger
	Refresher  Refresher
	Retry      time.Duration // used when a refresh fails and the zone has no SOA
	MinRefresh time.Duration // lower bound for SOA-driven intervals
}

type entry struct {
	timer      *time.Timer
	due        time.Time // when timer fires; zero when no refresh is pending
	refreshing bool
}

// Manager is safe for concurrent use.
type Manager struct {
	logger     *slog.Logger
	refresher  Refresher
	retry      time.Duration
	minRefresh time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	zones  map[*zone.Zone]*entry
	closed bool
}

// New creates a running manager.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = DefaultMinRefresh
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:     cfg.Logger,
		refresher:  cfg.Refresher,
		retry:      cfg.Retry,
		minRefresh: cfg.MinRefresh,
		ctx:        ctx,
		cancel:     cancel,
		zones:      make(map[*zone.Zone]*entry),
	}
}

// Manage starts maintaining z. Managing an already managed zone is a no-op.
func (m *Manager) Manage(z *zone.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("manage %s: %w", z, ErrShutdown)
	}
	if _, ok := m.zones[z]; ok {
		return nil
	}
	m.zones[z] = &entry{}
	metrics.ZonesManaged.Set(float64(len(m.zones)))
	z.OnRelease(m.Unmanage)
	return nil
}

// Unmanage stops maintaining z and cancels any pending refresh.
func (m *Manager) Unmanage(z *zone.Zone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.zones[z]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(m.zones, z)
	metrics.ZonesManaged.Set(float64(len(m.zones)))
}

// Managed reports whether z is currently managed.
func (m *Manager) Managed(z *zone.Zone) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.zones[z]
	return ok
}

// Count returns the number of managed zones.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zones)
}

// ForceMaintenance re-evaluates the refresh deadline of every managed zone.
// Transferred zones without data are refreshed immediately; loaded ones wait
// for their SOA refresh. A pending refresh is only ever moved earlier.
func (m *Manager) ForceMaintenance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for z, e := range m.zones {
		s := z.Settings()
		if s == nil || !s.Type.Transferred() || e.refreshing {
			continue
		}
		delay := time.Duration(0)
		if z.Loaded() {
			delay = m.refreshInterval(z)
		}
		if e.timer != nil && !e.due.IsZero() && !time.Now().Add(delay).Before(e.due) {
			continue
		}
		m.scheduleLocked(z, e, delay)
	}
}

// Shutdown stops all timers and waits for running refreshes to return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, e := range m.zones {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) scheduleLocked(z *zone.Zone, e *entry, delay time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.due = time.Now().Add(delay)
	e.timer = time.AfterFunc(delay, func() { m.refresh(z) })
}

func (m *Manager) refresh(z *zone.Zone) {
	m.mu.Lock()
	e, ok := m.zones[z]
	if !ok || m.closed || e.refreshing {
		m.mu.Unlock()
		return
	}
	e.refreshing = true
	e.due = time.Time{}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	err := m.doRefresh(z)

	m.mu.Lock()
	defer m.mu.Unlock()
	e.refreshing = false
	if m.closed {
		return
	}
	if _, still := m.zones[z]; !still {
		return
	}
	if err != nil {
		metrics.ZoneRefreshes.WithLabelValues("failure").Inc()
		m.logger.Warn("zone refresh failed", "zone", z.String(), "err", err)
		m.scheduleLocked(z, e, m.retryInterval(z))
		return
	}
	metrics.ZoneRefreshes.WithLabelValues("success").Inc()
	m.scheduleLocked(z, e, m.refreshInterval(z))
}

func (m *Manager) doRefresh(z *zone.Zone) error {
	if m.refresher == nil {
		m.logger.Debug("no refresher configured", "zone", z.String())
		return nil
	}
	return m.refresher.Refresh(m.ctx, z)
}

func (m *Manager) refreshInterval(z *zone.Zone) time.Duration {
	if db := z.Database(); db != nil && db.SOA() != nil {
		return max(time.Duration(db.SOA().Refresh)*time.Second, m.minRefresh)
	}
	return m.retry
}

func (m *Manager) retryInterval(z *zone.Zone) time.Duration {
	if db := z.Database(); db != nil && db.SOA() != nil {
		return max(time.Duration(db.SOA().Retry)*time.Second, m.minRefresh)
	}
	return m.retry
}
