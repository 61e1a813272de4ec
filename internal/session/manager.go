package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/metrics"
	"aed_map/core-go/internal/viewport"
)

// Manager owns the mounted sessions.
type Manager struct {
	log      zerolog.Logger
	opts     Options
	provider Provider
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(log zerolog.Logger, opts Options, provider Provider, m *metrics.Metrics) *Manager {
	return &Manager{
		log:      log,
		opts:     opts,
		provider: provider,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create mounts a new session. A zero size uses the configured default.
func (m *Manager) Create(filter catalog.Filter, size geo.Size) (*Session, error) {
	opts := m.opts
	if size != (geo.Size{}) {
		if !size.Valid() {
			return nil, fmt.Errorf("%w: %dx%d", viewport.ErrInvalidSize, size.Width, size.Height)
		}
		opts.Viewport.Size = size
	}
	s := newSession(uuid.NewString(), m.log, opts, m.provider, filter, m.metrics)
	s.clock = m.now
	s.touch()
	if err := s.Mount(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	return s, nil
}

// Get returns the session and counts the lookup as activity on it.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Delete unmounts and forgets the session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Unmount()
	m.metrics.SetActiveSessions(n)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ReplaceCatalog tells every session the catalog was replaced wholesale.
func (m *Manager) ReplaceCatalog() {
	for _, s := range m.snapshot() {
		if err := s.Reload(); err != nil {
			m.log.Debug().Err(err).Str("session_id", s.ID()).Msg("catalog replacement skipped")
		}
	}
}

// Broadcast publishes topic on every mounted session's channel and returns
// how many sessions received it.
func (m *Manager) Broadcast(topic string) int {
	n := 0
	for _, s := range m.snapshot() {
		if err := s.Publish(topic); err == nil {
			n++
		}
	}
	return n
}

// RunReaper unmounts idle sessions until ctx is done. It returns at once
// when expiry is disabled.
func (m *Manager) RunReaper(ctx context.Context) {
	timeout := m.opts.IdleTimeout
	if timeout <= 0 {
		return
	}
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.Reap()
	}
}

// Reap unmounts every session that has had no lookups and no stream
// subscribers for the idle timeout, and returns how many it removed.
func (m *Manager) Reap() int {
	timeout := m.opts.IdleTimeout
	if timeout <= 0 {
		return 0
	}
	now := m.now()

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		last, idle := s.idleSince()
		if !idle || now.Sub(last) < timeout {
			continue
		}
		expired = append(expired, s)
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	for _, s := range expired {
		s.Unmount()
		m.log.Info().Str("session_id", s.ID()).Dur("idle_timeout", timeout).Msg("idle map session expired")
	}
	m.metrics.SetActiveSessions(n)
	return len(expired)
}

// Close unmounts every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Unmount()
	}
	m.metrics.SetActiveSessions(0)
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
