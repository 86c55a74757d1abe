package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/social"
)

var ErrNotFound = errors.New("session: not found")

// StoreFactory returns the blocked-set backend of a new session.
type StoreFactory func(sessionID string) social.BlockedStore

type ManagerOptions struct {
	Config    *config.Config
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Publisher events.Publisher
	Stores    StoreFactory
}

// Manager 管理所有会话, 按 ID 索引, 定期清理空闲会话
type Manager struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger *zap.Logger
	pub    events.Publisher
	stores StoreFactory

	mu       sync.RWMutex
	sessions map[string]*Session

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	if opts.Stores == nil {
		opts.Stores = func(string) social.BlockedStore { return social.NewMemoryStore() }
	}
	return &Manager{
		cfg:      opts.Config,
		clock:    opts.Clock,
		logger:   opts.Logger,
		pub:      opts.Publisher,
		stores:   opts.Stores,
		sessions: make(map[string]*Session),
		quit:     make(chan struct{}),
	}
}

// Create starts a new session under a fresh ID.
func (m *Manager) Create() (*Session, error) {
	id := uuid.NewString()
	s, err := New(Options{
		ID:        id,
		Config:    m.cfg,
		Clock:     m.clock,
		Logger:    m.logger,
		Publisher: m.pub,
		Store:     m.stores(id),
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session_id", id))
	return s, nil
}

// Get returns a live session and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Delete closes and forgets a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.Close(ctx)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL and
// returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	ttl := m.cfg.Session.IdleTTL
	if ttl <= 0 {
		return 0
	}
	now := m.clock.Now()

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) > ttl {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("close expired session", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Start runs Sweep every sweep interval until Close.
func (m *Manager) Start() {
	interval := m.cfg.Session.SweepInterval
	if interval <= 0 {
		return
	}
	ticker := m.clock.NewTicker(interval)
	m.wg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				m.Sweep(context.Background())
			case <-m.quit:
				return
			}
		}
	})
}

// Close stops the sweeper and closes every session.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.quit) })
	m.wg.Wait()

	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		errs = append(errs, s.Close(ctx))
	}
	return errors.Join(errs...)
}
