// Package social holds the session's blocked set and the sidebar views
// built on the mock user directory.
package social

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/loop"
	"github.com/Gopher0727/Strangers/internal/match"
	"github.com/Gopher0727/Strangers/internal/model"
)

var (
	ErrBusy        = errors.New("social: block update already in progress")
	ErrUnknownUser = errors.New("social: unknown user")
)

// PeerClearer drops the active conversation when it is with the given user.
type PeerClearer interface {
	ClearPeerIf(id string) bool
}

// Profile is the peer-detail view.
type Profile struct {
	User      model.User `json:"user"`
	IsBlocked bool       `json:"is_blocked"`
}

type Options struct {
	SessionID string
	Store     BlockedStore
	Directory *match.Directory
	Chat      PeerClearer
	Clock     clockwork.Clock
	// Latency is the simulated delay of block and unblock.
	Latency   time.Duration
	Logger    *zap.Logger
	Publisher events.Publisher
}

type Service struct {
	sessionID string
	store     BlockedStore
	dir       *match.Directory
	chat      PeerClearer
	clock     clockwork.Clock
	latency   time.Duration
	logger    *zap.Logger
	pub       events.Publisher

	mu      sync.Mutex
	pending bool
	viewed  string
}

func NewService(opts Options) *Service {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Directory == nil {
		opts.Directory = match.NewDirectory()
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
	return &Service{
		sessionID: opts.SessionID,
		store:     opts.Store,
		dir:       opts.Directory,
		chat:      opts.Chat,
		clock:     opts.Clock,
		latency:   opts.Latency,
		logger:    opts.Logger,
		pub:       opts.Publisher,
	}
}

// Store exposes the blocked set, e.g. as the matchmaking block list.
func (s *Service) Store() BlockedStore { return s.store }

// Block adds id to the blocked set after the block latency. Blocking the
// active peer ends the conversation at once, without the disconnected
// notice. Blocking twice is a no-op.
func (s *Service) Block(ctx context.Context, id string) error {
	return s.update(ctx, id, true)
}

// Unblock removes id from the blocked set. A cleared conversation is not
// restored.
func (s *Service) Unblock(ctx context.Context, id string) error {
	return s.update(ctx, id, false)
}

func (s *Service) update(ctx context.Context, id string, block bool) error {
	if _, ok := s.dir.Lookup(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUser, id)
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return ErrBusy
	}
	s.pending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
	}()

	if err := loop.Wait(ctx, s.clock, s.latency); err != nil {
		return err
	}

	typ := events.UserUnblocked
	if block {
		typ = events.UserBlocked
		if err := s.store.Add(ctx, id); err != nil {
			return fmt.Errorf("block %s: %w", id, err)
		}
		if s.chat != nil && s.chat.ClearPeerIf(id) {
			s.logger.Info("blocked active peer", zap.String("session_id", s.sessionID), zap.String("peer_id", id))
		}
	} else if err := s.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("unblock %s: %w", id, err)
	}

	s.DismissProfile()
	s.pub.Publish(events.Event{
		Type:      typ,
		SessionID: s.sessionID,
		At:        s.clock.Now(),
		Data:      map[string]any{"user_id": id},
	})
	return nil
}

// Pending reports whether a block or unblock is in flight.
func (s *Service) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Service) IsBlocked(ctx context.Context, id string) (bool, error) {
	return s.store.Contains(ctx, id)
}

// ViewProfile opens the peer-detail view for id.
func (s *Service) ViewProfile(ctx context.Context, id string) (*Profile, error) {
	if _, ok := s.dir.Lookup(id); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, id)
	}
	s.mu.Lock()
	s.viewed = id
	s.mu.Unlock()

	s.pub.Publish(events.Event{
		Type:      events.ProfileViewed,
		SessionID: s.sessionID,
		At:        s.clock.Now(),
		Data:      map[string]any{"user_id": id},
	})
	return s.ViewedProfile(ctx)
}

// ViewedProfile returns the open peer-detail view, or nil when closed.
func (s *Service) ViewedProfile(ctx context.Context) (*Profile, error) {
	s.mu.Lock()
	id := s.viewed
	s.mu.Unlock()
	if id == "" {
		return nil, nil
	}

	user, _ := s.dir.Lookup(id)
	blocked, err := s.store.Contains(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, IsBlocked: blocked}, nil
}

func (s *Service) DismissProfile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewed = ""
}

// Connections lists the mock connections that are not blocked.
func (s *Service) Connections(ctx context.Context) ([]model.User, error) {
	blocked, err := s.blockedSet(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.User
	for _, u := range s.dir.Connections() {
		if !blocked[u.ID] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) History() []model.User {
	return s.dir.History()
}

// BlockedUsers resolves the blocked IDs in directory order.
func (s *Service) BlockedUsers(ctx context.Context) ([]model.User, error) {
	blocked, err := s.blockedSet(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.User
	for _, u := range s.dir.All() {
		if blocked[u.ID] {
			out = append(out, u)
		}
	}
	return out, nil
}

// Search looks up directory users, never returning selfID.
func (s *Service) Search(query, selfID string) []model.User {
	return s.dir.Search(query, selfID)
}

// Reset closes the profile view and empties the blocked set.
func (s *Service) Reset(ctx context.Context) error {
	s.DismissProfile()
	return s.store.Clear(ctx)
}

// Close drops the blocked set at session teardown.
func (s *Service) Close(ctx context.Context) error {
	return s.Reset(ctx)
}

// KeepAlive extends the lifetime of a blocked set that would otherwise
// expire.
func (s *Service) KeepAlive(ctx context.Context) error {
	if r, ok := s.store.(Refresher); ok {
		return r.Refresh(ctx)
	}
	return nil
}

func (s *Service) blockedSet(ctx context.Context) (map[string]bool, error) {
	ids, err := s.store.Members(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
