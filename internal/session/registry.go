// Package session keeps one generation Controller per presentation session
// and tears idle ones down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshforge/internal/generation"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many sessions")
)

const (
	DefaultIdleTTL     = 30 * time.Minute
	DefaultMaxSessions = 1000
)

// Factory builds the Controller of a new session.
type Factory func() *generation.Controller

// Session binds a Controller to an id.
type Session struct {
	ID         string
	Controller *generation.Controller
	CreatedAt  time.Time

	lastSeen atomic.Int64
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTTL sets how long an unused session survives before Sweep closes it.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithMaxSessions caps the number of open sessions.
func WithMaxSessions(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers fn to be called with the session count after each
// change, typically to feed a gauge.
func WithObserver(fn func(n int)) Option {
	return func(r *Registry) { r.observe = fn }
}

// Registry is a concurrency-safe set of sessions.
type Registry struct {
	factory Factory
	idleTTL time.Duration
	max     int
	logger  *slog.Logger
	observe func(int)
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		idleTTL:  DefaultIdleTTL,
		max:      DefaultMaxSessions,
		logger:   slog.Default(),
		observe:  func(int) {},
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a session with a fresh idle Controller.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("create session: %w", generation.ErrClosed)
	}
	if len(r.sessions) >= r.max {
		return nil, ErrTooManySessions
	}

	now := r.now()
	s := &Session{
		ID:         uuid.NewString(),
		Controller: r.factory(),
		CreatedAt:  now,
	}
	s.touch(now)
	r.sessions[s.ID] = s
	r.observe(len(r.sessions))

	r.logger.Info("session created", "session_id", s.ID)
	return s, nil
}

// Get returns the session and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(r.now())
	return s, nil
}

// Touch marks the session as used without returning it.
func (r *Registry) Touch(id string) {
	_, _ = r.Get(id)
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close removes the session and tears its Controller down.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.observe(len(r.sessions))
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Controller.Close()
	r.logger.Info("session closed", "session_id", id)
	return nil
}

// Sweep closes every session unused for longer than the idle TTL and
// returns how many were closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	if len(expired) > 0 {
		r.observe(len(r.sessions))
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Controller.Close()
		r.logger.Info("session expired", "session_id", s.ID, "idle_since", s.LastSeen())
	}
	return len(expired)
}

// CloseAll tears every session down and rejects further Create calls.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.observe(0)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(c *generation.Controller) {
			defer wg.Done()
			c.Close()
		}(s.Controller)
	}
	wg.Wait()
}

// Run sweeps idle sessions every interval until ctx is cancelled, then
// closes all remaining sessions.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = r.idleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept idle sessions", "count", n)
			}
		}
	}
}
