// Package session assembles one independent app instance: the auth stage
// machine, the chat window, the social graph, and the pro subscription.
package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/auth"
	"github.com/Gopher0727/Strangers/internal/chat"
	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/loop"
	"github.com/Gopher0727/Strangers/internal/match"
	"github.com/Gopher0727/Strangers/internal/model"
	"github.com/Gopher0727/Strangers/internal/repository"
	"github.com/Gopher0727/Strangers/internal/social"
	"github.com/Gopher0727/Strangers/internal/utils"
	"github.com/Gopher0727/Strangers/utils/snowflake"
)

var (
	ErrBusy   = errors.New("session: update already in progress")
	ErrClosed = errors.New("session: closed")
)

var profileMessages = map[string]string{
	"username.required": "Name cannot be empty.",
	"age.adult":         "You must be 18 or older.",
	"gender.gender":     "Please choose a listed gender.",
	"interest.interest": "Please choose a listed interest.",
}

// ProfileUpdate is the profile editor form. Blank age, gender and interest
// keep the current values.
type ProfileUpdate struct {
	Username string `json:"username" validate:"required"`
	Age      string `json:"age" validate:"omitempty,adult"`
	Bio      string `json:"bio"`
	Location string `json:"location"`
	Avatar   string `json:"avatar"`
	Gender   string `json:"gender" validate:"omitempty,gender"`
	Interest string `json:"interest" validate:"omitempty,interest"`
}

// State is everything a view needs to render the session.
type State struct {
	SessionID     string          `json:"session_id"`
	Stage         auth.Stage      `json:"stage"`
	Pending       bool            `json:"pending"`
	User          *model.User     `json:"user,omitempty"`
	PendingEmail  string          `json:"pending_email,omitempty"`
	Pro           bool            `json:"pro"`
	UpgradePrompt bool            `json:"upgrade_prompt"`
	ProfileEditor bool            `json:"profile_editor"`
	Chat          chat.State      `json:"chat"`
	ViewedProfile *social.Profile `json:"viewed_profile,omitempty"`
}

type Options struct {
	ID        string
	Config    *config.Config
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Publisher events.Publisher
	// Store holds the blocked set; defaults to memory.
	Store social.BlockedStore
	Repo  repository.IUserRepository
	Rand  match.Rand
	IDs   *snowflake.Generator
}

type Session struct {
	id      string
	clock   clockwork.Clock
	latency config.LatencyConfig
	logger  *zap.Logger
	pub     events.Publisher
	loop    *loop.Loop
	forms   *utils.FormValidator

	Auth   *auth.Machine
	Chat   *chat.Controller
	Social *social.Service

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	upgradePrompt bool
	editorOpen    bool
	subscribing   bool
	saving        bool
	closed        bool
	lastSeen      time.Time
}

// New builds a session and starts its event loop. Close releases it.
func New(opts Options) (*Session, error) {
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
	if opts.Store == nil {
		opts.Store = social.NewMemoryStore()
	}
	if opts.Repo == nil {
		opts.Repo = repository.NewUserRepository()
	}
	logger := opts.Logger.With(zap.String("session_id", opts.ID))
	latency := opts.Config.Latency

	l := loop.New(opts.Clock, opts.Config.Session.LoopQueueSize, logger)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       opts.ID,
		clock:    opts.Clock,
		latency:  latency,
		logger:   logger,
		pub:      opts.Publisher,
		loop:     l,
		forms:    utils.NewFormValidator(profileMessages),
		ctx:      ctx,
		cancel:   cancel,
		lastSeen: opts.Clock.Now(),
	}

	s.Auth = auth.NewMachine(auth.Options{
		SessionID:     opts.ID,
		Repo:          opts.Repo,
		Clock:         opts.Clock,
		SubmitLatency: latency.AuthSubmit,
		Logger:        logger,
		Publisher:     opts.Publisher,
	})
	ctrl, err := chat.NewController(chat.Options{
		SessionID: opts.ID,
		Clock:     opts.Clock,
		Latency:   latency,
		Loop:      l,
		Pool:      match.NewPool(match.Candidates()),
		Gate:      s,
		Blocked:   opts.Store,
		Rand:      opts.Rand,
		IDs:       opts.IDs,
		Logger:    logger,
		Publisher: opts.Publisher,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.Chat = ctrl
	s.Social = social.NewService(social.Options{
		SessionID: opts.ID,
		Store:     opts.Store,
		Chat:      ctrl,
		Clock:     opts.Clock,
		Latency:   latency.Block,
		Logger:    logger,
		Publisher: opts.Publisher,
	})

	l.Start()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Bind derives a context that is also cancelled when the session closes,
// so no wait outlives its session.
func (s *Session) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Ready waits out the initial session check.
func (s *Session) Ready(ctx context.Context) error {
	ctx, cancel := s.Bind(ctx)
	defer cancel()
	return loop.Wait(ctx, s.clock, s.latency.SessionCheck)
}

// Touch records activity for idle expiry and keeps the blocked set alive.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.clock.Now()
	s.mu.Unlock()
	if err := s.Social.KeepAlive(s.ctx); err != nil {
		s.logger.Warn("refresh blocked set", zap.Error(err))
	}
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// IsPro reports whether the signed-in user has subscribed.
func (s *Session) IsPro() bool {
	u := s.Auth.CurrentUser()
	return u != nil && u.IsPro
}

// PromptUpgrade opens the upgrade prompt.
func (s *Session) PromptUpgrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upgradePrompt {
		return
	}
	s.upgradePrompt = true
	s.emit(events.UpgradePrompt, map[string]any{"open": true})
}

func (s *Session) UpgradePromptOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgradePrompt
}

func (s *Session) DismissUpgradePrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeUpgradePromptLocked()
}

func (s *Session) closeUpgradePromptLocked() {
	if !s.upgradePrompt {
		return
	}
	s.upgradePrompt = false
	s.emit(events.UpgradePrompt, map[string]any{"open": false})
}

// Subscribe upgrades the signed-in user to pro after the subscribe latency.
// Pro lasts until sign-out; subscribing again before that is a no-op.
func (s *Session) Subscribe(ctx context.Context) (*model.User, error) {
	user := s.Auth.CurrentUser()
	if user == nil {
		return nil, auth.ErrNotAuthenticated
	}
	if user.IsPro {
		s.DismissUpgradePrompt()
		return user, nil
	}
	if err := s.begin(&s.subscribing); err != nil {
		return nil, err
	}
	defer s.end(&s.subscribing)

	ctx, cancel := s.Bind(ctx)
	defer cancel()
	if err := loop.Wait(ctx, s.clock, s.latency.Subscribe); err != nil {
		return nil, err
	}

	user, err := s.Auth.GrantPro()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.closeUpgradePromptLocked()
	s.emit(events.SubscriptionActivated, map[string]any{"user_id": user.ID})
	s.mu.Unlock()
	s.logger.Info("subscription activated", zap.String("user_id", user.ID))
	return user, nil
}

func (s *Session) OpenProfileEditor() error {
	if !s.Auth.Authenticated() {
		return auth.ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editorOpen = true
	return nil
}

func (s *Session) CloseProfileEditor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editorOpen = false
}

func (s *Session) ProfileEditorOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editorOpen
}

// UpdateProfile validates the form, waits the save latency, then replaces
// the signed-in user and closes the editor. Nothing changes on a
// validation failure.
func (s *Session) UpdateProfile(ctx context.Context, form ProfileUpdate) (*model.User, error) {
	if !s.Auth.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	form = form.trimmed()
	if errs := s.forms.Struct(form); len(errs) > 0 {
		return nil, errs
	}
	if err := s.begin(&s.saving); err != nil {
		return nil, err
	}
	defer s.end(&s.saving)

	ctx, cancel := s.Bind(ctx)
	defer cancel()
	if err := loop.Wait(ctx, s.clock, s.latency.ProfileSave); err != nil {
		return nil, err
	}

	user := s.Auth.CurrentUser()
	if user == nil {
		return nil, auth.ErrNotAuthenticated
	}
	form.applyTo(user)
	if err := s.Auth.UpdateCurrentUser(ctx, user); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.editorOpen = false
	s.emit(events.ProfileUpdated, map[string]any{"user_id": user.ID})
	s.mu.Unlock()
	return user, nil
}

func (f ProfileUpdate) trimmed() ProfileUpdate {
	f.Username = strings.TrimSpace(f.Username)
	f.Age = strings.TrimSpace(f.Age)
	f.Location = strings.TrimSpace(f.Location)
	f.Avatar = strings.TrimSpace(f.Avatar)
	f.Gender = strings.TrimSpace(f.Gender)
	f.Interest = strings.TrimSpace(f.Interest)
	return f
}

// applyTo copies a validated form onto u.
func (f ProfileUpdate) applyTo(u *model.User) {
	u.Username = f.Username
	u.Bio = f.Bio
	u.Location = f.Location
	if f.Avatar != "" {
		u.Avatar = f.Avatar
	}
	if age, err := strconv.Atoi(f.Age); err == nil {
		u.Age = age
	}
	if g, err := model.ParseGender(f.Gender); err == nil {
		u.Gender = g
	}
	if i, err := model.ParseInterest(f.Interest); err == nil {
		u.Interest = i
	}
}

// Snapshot gathers the whole view state.
func (s *Session) Snapshot(ctx context.Context) State {
	user := s.Auth.CurrentUser()
	viewed, err := s.Social.ViewedProfile(ctx)
	if err != nil {
		s.logger.Warn("read viewed profile", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		SessionID:     s.id,
		Stage:         s.Auth.Stage(),
		Pending:       s.Auth.Pending() || s.Social.Pending() || s.subscribing || s.saving,
		User:          user,
		PendingEmail:  s.Auth.PendingEmail(),
		Pro:           user != nil && user.IsPro,
		UpgradePrompt: s.upgradePrompt,
		ProfileEditor: s.editorOpen,
		Chat:          s.Chat.Snapshot(),
		ViewedProfile: viewed,
	}
}

// Logout signs out and drops the chat, open views, blocked set, pro and
// pending follow-ups. Only the registered account is kept.
func (s *Session) Logout() {
	s.Chat.Reset()
	s.loop.CancelAll()
	if err := s.Social.Reset(s.ctx); err != nil {
		s.logger.Warn("clear blocked set on logout", zap.Error(err))
	}
	s.Auth.Logout()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upgradePrompt = false
	s.editorOpen = false
}

// Close tears the session down: in-flight waits are cancelled, timers are
// stopped and the blocked set is cleared. It is safe to call twice.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.loop.Stop()
	s.Chat.Reset()
	err := s.Social.Close(ctx)

	s.mu.Lock()
	s.emit(events.SessionClosed, nil)
	s.mu.Unlock()
	s.logger.Debug("session closed")
	return err
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) begin(flag *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if *flag {
		return ErrBusy
	}
	*flag = true
	return nil
}

func (s *Session) end(flag *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = false
}

// emit must be called with mu held.
func (s *Session) emit(t events.Type, data map[string]any) {
	s.pub.Publish(events.Event{Type: t, SessionID: s.id, At: s.clock.Now(), Data: data})
}
