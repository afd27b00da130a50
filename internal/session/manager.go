package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/usestring/mitmsession/internal/config"
	"github.com/usestring/mitmsession/internal/metrics"
	"github.com/usestring/mitmsession/internal/upgrade"
	"github.com/usestring/mitmsession/pkg/resolvable"
	"github.com/usestring/mitmsession/pkg/types"
)

// Manager opens, resolves and closes sessions. It owns the session registry
// and shares the upgrade correlation table with every session it opens.
type Manager struct {
	cfg      *config.Config
	registry *Registry
	upgrades *upgrade.Table
	metrics  *metrics.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics records session and correlation metrics into m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a manager. A nil upgrades table gets a fresh one.
func NewManager(cfg *config.Config, upgrades *upgrade.Table, opts ...ManagerOption) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if upgrades == nil {
		upgrades = upgrade.NewTable()
	}
	m := &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		upgrades: upgrades,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Upgrades returns the upgrade correlation table.
func (m *Manager) Upgrades() *upgrade.Table {
	return m.upgrades
}

// Open creates and registers a session. An empty id gets a random UUID. An
// existing session with the same id is superseded in the registry but not
// closed.
func (m *Manager) Open(id, userAgent string, upstream UpstreamProxySupplier, opts ...Option) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s, err := newSession(id, userAgent, m.cfg.SessionHeaderPrefix, m.cfg.PendingResourceMax, upstream, m.upgrades, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening session %s: %w", id, err)
	}
	s.metrics = m.metrics
	m.metrics.SessionOpened()

	if prev := m.registry.Register(s); prev != nil {
		slog.Warn("session id reused, superseding previous session",
			slog.String("session_id", id),
		)
	}
	slog.Info("session opened",
		slog.String("session_id", id),
		slog.String("user_agent", userAgent),
	)
	return s, nil
}

// Get returns the session registered under id, or nil.
func (m *Manager) Get(id string) *Session {
	return m.registry.Get(id)
}

// Close marks s closing, drops its resolved upgrade entries, releases every
// goroutine waiting on its browser resources, discards its request log,
// closes its connection pool and deregisters it. Only the first call does
// any work.
func (m *Manager) Close(ctx context.Context, s *Session) error {
	start := time.Now()
	first, err := s.release()
	if !first {
		return nil
	}
	m.registry.Remove(s)
	m.metrics.SessionClosed()

	if err != nil {
		slog.WarnContext(ctx, "session closed with error",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("closing session %s: %w", s.id, err)
	}
	slog.InfoContext(ctx, "session closed",
		slog.String("session_id", s.id),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// CloseAll closes every registered session concurrently, giving up after
// the configured close-all timeout. See Registry.CloseAll.
func (m *Manager) CloseAll(ctx context.Context) error {
	if m.cfg.CloseAllTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CloseAllTimeout)
		defer cancel()
	}
	return m.registry.CloseAll(ctx, m.Close)
}

// ResolveSessionID extracts the session id marker from request headers.
func (m *Manager) ResolveSessionID(headers types.Headers, method string) (string, bool) {
	return ResolveSessionID(headers, method, m.cfg.SessionHeaderPrefix)
}

// ResolveSessionForRequest finds the session a proxied request belongs to.
// Requests carry the id in a marker header; upgrade requests that cannot fall
// back to waiting for a matching fingerprint report, bounded by timeout
// (the configured upgrade timeout when timeout is not positive).
//
// No matching session is reported as (nil, nil). Only the upgrade wait fails,
// with resolvable.ErrTimeout or the context's error.
func (m *Manager) ResolveSessionForRequest(ctx context.Context, headers types.Headers, method string, isUpgrade bool, timeout time.Duration) (*Session, error) {
	id, ok := m.ResolveSessionID(headers, method)
	if !ok && isUpgrade {
		if timeout <= 0 {
			timeout = m.cfg.UpgradeTimeout
		}
		lookup, err := m.upgrades.Await(ctx, headers, timeout)
		m.metrics.RecordUpgradeWait(upgradeOutcome(err))
		if err != nil {
			return nil, fmt.Errorf("correlating upgrade request: %w", err)
		}
		id, ok = lookup.SessionID, true
	}
	if !ok {
		return nil, nil
	}
	return m.registry.Lookup(id), nil
}

func upgradeOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeResolved
	case errors.Is(err, resolvable.ErrTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeCanceled
	}
}
