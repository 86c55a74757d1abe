package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/loop"
	"github.com/Gopher0727/Strangers/internal/model"
	"github.com/Gopher0727/Strangers/internal/repository"
	"github.com/Gopher0727/Strangers/internal/utils"
)

var (
	ErrBusy                 = errors.New("auth: a submit is already in progress")
	ErrMissingFields        = errors.New("auth: identifier and password are required")
	ErrNoAccount            = errors.New("auth: no registered account")
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
	ErrNotVerified          = errors.New("auth: email not verified")
	ErrAlreadyAuthenticated = errors.New("auth: already signed in")
	ErrNotAuthenticated     = errors.New("auth: not signed in")
)

// ResetNotice is shown after any password reset request that does not lead
// to the reset-link page, whether or not an account exists.
const ResetNotice = "If an account with that email exists, we've sent a password reset link."

var signupMessages = map[string]string{
	"username.required": "Name is required.",
	"email.required":    "Email is required.",
	"email.emailshape":  "Email address is invalid.",
	"age.required":      "Age is required.",
	"age.adult":         "You must be 18 or older.",
	"location.required": "Location is required.",
	"gender.gender":     "Please choose a listed gender.",
	"interest.interest": "Please choose a listed interest.",
}

// SignupForm is the new-account form as typed by the user.
type SignupForm struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,emailshape"`
	Age      string `json:"age" validate:"required,adult"`
	Location string `json:"location" validate:"required"`
	Password string `json:"password"`
	Gender   string `json:"gender" validate:"omitempty,gender"`
	Interest string `json:"interest" validate:"omitempty,interest"`
}

func (f SignupForm) trimmed() SignupForm {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
	f.Age = strings.TrimSpace(f.Age)
	f.Location = strings.TrimSpace(f.Location)
	f.Gender = strings.TrimSpace(f.Gender)
	f.Interest = strings.TrimSpace(f.Interest)
	return f
}

// ResetRequest is the outcome of a forgot-password submit. Notice is empty
// when Matched, and ResetNotice otherwise.
type ResetRequest struct {
	Matched bool   `json:"matched"`
	Notice  string `json:"notice,omitempty"`
}

// Options wires a Machine.
type Options struct {
	SessionID string
	Repo      repository.IUserRepository
	Clock     clockwork.Clock
	// SubmitLatency is the simulated round-trip of every form submit.
	SubmitLatency time.Duration
	Logger        *zap.Logger
	Publisher     events.Publisher
}

// Machine drives the sign-in stages of one session and owns its current
// user.
type Machine struct {
	sessionID string
	repo      repository.IUserRepository
	clock     clockwork.Clock
	latency   time.Duration
	logger    *zap.Logger
	pub       events.Publisher
	forms     *utils.FormValidator

	mu           sync.Mutex
	stage        Stage
	pending      bool
	current      *model.User
	pendingEmail string
}

// NewMachine starts at the login stage with nobody signed in.
func NewMachine(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	return &Machine{
		sessionID: opts.SessionID,
		repo:      opts.Repo,
		clock:     opts.Clock,
		latency:   opts.SubmitLatency,
		logger:    opts.Logger,
		pub:       opts.Publisher,
		forms:     utils.NewFormValidator(signupMessages),
		stage:     StageLogin,
	}
}

func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Pending reports whether a submit is waiting on its simulated round-trip.
func (m *Machine) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *Machine) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (m *Machine) CurrentUser() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// PendingEmail is the address the verify-email stage refers to.
func (m *Machine) PendingEmail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingEmail
}

// Navigate fires a view-only event such as "show signup".
func (m *Machine) Navigate(ev Event) (Stage, error) {
	if !IsNavigation(ev) {
		return m.Stage(), fmt.Errorf("%w: %s needs a form submit", ErrInvalidTransition, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		return m.stage, ErrBusy
	}
	if err := m.apply(ev); err != nil {
		return m.stage, err
	}
	return m.stage, nil
}

// Register validates form, then after the submit latency stores the new
// account unverified and moves to verify-email.
func (m *Machine) Register(ctx context.Context, form SignupForm) (*model.User, error) {
	form = form.trimmed()
	errs := m.forms.Struct(form)
	if form.Password == "" {
		errs.Add("password", "Password is required.")
	} else {
		errs.Add("password", utils.CheckPasswordPolicy(form.Password)...)
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	if err := m.begin(StageSignup); err != nil {
		return nil, err
	}
	waitErr := loop.Wait(ctx, m.clock, m.latency)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	if waitErr != nil {
		return nil, waitErr
	}
	if err := m.still(StageSignup); err != nil {
		return nil, err
	}

	user, err := newUser(form)
	if err != nil {
		return nil, err
	}
	if err := m.repo.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	m.pendingEmail = user.Email
	m.emit(events.UserRegistered, map[string]any{"user_id": user.ID, "username": user.Username})
	m.logger.Info("user registered", zap.String("session_id", m.sessionID), zap.String("user_id", user.ID))
	if err := m.apply(EventRegistered); err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

func newUser(form SignupForm) (*model.User, error) {
	hash, err := utils.HashPassword(form.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	gender := model.DefaultGender
	if form.Gender != "" {
		gender, _ = model.ParseGender(form.Gender)
	}
	interest := model.DefaultInterest
	if form.Interest != "" {
		interest, _ = model.ParseInterest(form.Interest)
	}
	// already checked by the adult tag
	age, _ := strconv.Atoi(form.Age)

	return &model.User{
		ID:           uuid.NewString(),
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hash,
		Avatar:       model.AvatarFor(form.Username),
		IsOnline:     true,
		Age:          age,
		Location:     form.Location,
		Gender:       gender,
		Interest:     interest,
	}, nil
}

// VerifyEmail confirms the pending address and returns to login.
func (m *Machine) VerifyEmail(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		return ErrBusy
	}
	if _, err := Transition(m.stage, EventVerified); err != nil {
		return err
	}
	if err := m.repo.MarkVerified(ctx); err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	m.emit(events.EmailVerified, map[string]any{"email": m.pendingEmail})
	return m.apply(EventVerified)
}

// Login checks identifier (email or username) and password against the
// registered account after the submit latency.
func (m *Machine) Login(ctx context.Context, identifier, password string) (*model.User, error) {
	if identifier == "" || password == "" {
		return nil, ErrMissingFields
	}
	if m.Authenticated() {
		return nil, ErrAlreadyAuthenticated
	}
	if err := m.begin(StageLogin); err != nil {
		return nil, err
	}
	waitErr := loop.Wait(ctx, m.clock, m.latency)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	if waitErr != nil {
		return nil, waitErr
	}

	registered, err := m.repo.Registered(ctx)
	if errors.Is(err, repository.ErrNoUser) {
		_ = m.apply(EventLoginFailed)
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, err
	}

	idMatches := identifier == registered.Email || identifier == registered.Username
	if !idMatches || !utils.CheckPassword(registered.PasswordHash, password) {
		_ = m.apply(EventLoginFailed)
		m.logger.Info("login rejected", zap.String("session_id", m.sessionID))
		return nil, ErrInvalidCredentials
	}

	verified, err := m.repo.IsVerified(ctx)
	if err != nil {
		return nil, err
	}
	if !verified {
		m.pendingEmail = registered.Email
		if err := m.apply(EventLoginUnverified); err != nil {
			return nil, err
		}
		return nil, ErrNotVerified
	}

	if err := m.apply(EventLoginSucceeded); err != nil {
		return nil, err
	}
	m.current = registered
	m.emit(events.LoggedIn, map[string]any{"user_id": registered.ID})
	m.logger.Info("user signed in", zap.String("session_id", m.sessionID), zap.String("user_id", registered.ID))
	return registered.Clone(), nil
}

// RequestPasswordReset answers identically for an unknown address and for
// no account at all.
func (m *Machine) RequestPasswordReset(ctx context.Context, email string) (ResetRequest, error) {
	email = strings.TrimSpace(email)
	errs := utils.ValidationErrors{}
	switch {
	case email == "":
		errs.Add("email", "Email is required.")
	case !utils.ValidateEmail(email):
		errs.Add("email", "Please enter a valid email address.")
	}
	if err := errs.OrNil(); err != nil {
		return ResetRequest{}, err
	}

	if err := m.begin(StageForgotPassword); err != nil {
		return ResetRequest{}, err
	}
	waitErr := loop.Wait(ctx, m.clock, m.latency)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	if waitErr != nil {
		return ResetRequest{}, waitErr
	}

	registered, err := m.repo.Registered(ctx)
	if err != nil && !errors.Is(err, repository.ErrNoUser) {
		return ResetRequest{}, err
	}
	if registered != nil && registered.Email == email {
		return ResetRequest{Matched: true}, m.apply(EventResetMatched)
	}
	return ResetRequest{Notice: ResetNotice}, m.apply(EventResetUnmatched)
}

// ResetPassword overwrites the registered account's password. The current
// user, if any, is left alone.
func (m *Machine) ResetPassword(ctx context.Context, password, confirm string) (*model.User, error) {
	errs := utils.ValidationErrors{}
	if password == "" {
		errs.Add("password", "Password is required.")
	} else {
		errs.Add("password", utils.CheckPasswordPolicy(password)...)
	}
	switch {
	case confirm == "":
		errs.Add("confirm_password", "Please confirm your password.")
	case confirm != password:
		errs.Add("confirm_password", "Passwords do not match.")
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	if err := m.begin(StageResetPassword); err != nil {
		return nil, err
	}
	waitErr := loop.Wait(ctx, m.clock, m.latency)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	if waitErr != nil {
		return nil, waitErr
	}
	if err := m.still(StageResetPassword); err != nil {
		return nil, err
	}

	registered, err := m.repo.Registered(ctx)
	if errors.Is(err, repository.ErrNoUser) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	registered.PasswordHash = hash
	if err := m.repo.Update(ctx, registered); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	m.emit(events.PasswordReset, map[string]any{"user_id": registered.ID})
	if err := m.apply(EventPasswordReset); err != nil {
		return nil, err
	}
	return registered.Clone(), nil
}

// UpdateCurrentUser replaces the signed-in user and writes the profile
// through to the registered account. Pro stays with the sign-in and is
// never written through.
func (m *Machine) UpdateCurrentUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNotAuthenticated
	}
	if user == nil || user.ID != m.current.ID {
		return repository.ErrUserMismatch
	}
	// the form never carries the hash
	next := user.Clone()
	next.PasswordHash = m.current.PasswordHash
	if registered, err := m.repo.Registered(ctx); err == nil && registered.ID == next.ID {
		next.PasswordHash = registered.PasswordHash
		stored := next.Clone()
		stored.IsPro = registered.IsPro
		if err := m.repo.Update(ctx, stored); err != nil {
			return fmt.Errorf("update registered user: %w", err)
		}
	}
	m.current = next
	return nil
}

// GrantPro marks the signed-in user as pro until sign-out.
func (m *Machine) GrantPro() (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNotAuthenticated
	}
	m.current.IsPro = true
	return m.current.Clone(), nil
}

// Logout signs out and returns to the login stage. The registered account
// is kept.
func (m *Machine) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasSignedIn := m.current != nil
	m.current = nil
	m.pendingEmail = ""
	m.setStage(StageLogin)
	if wasSignedIn {
		m.emit(events.LoggedOut, nil)
	}
}

func (m *Machine) begin(expect Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		return ErrBusy
	}
	if m.stage != expect {
		return fmt.Errorf("%w: submit on %s, expected %s", ErrInvalidTransition, m.stage, expect)
	}
	m.pending = true
	return nil
}

// still reports whether the submit started on expect can still land. A
// sign-out during the wait moves the stage and drops the submit unsaved.
// Must be called with mu held.
func (m *Machine) still(expect Stage) error {
	if m.stage != expect {
		return fmt.Errorf("%w: left %s during submit", ErrInvalidTransition, expect)
	}
	return nil
}

// apply must be called with mu held.
func (m *Machine) apply(ev Event) error {
	to, err := Transition(m.stage, ev)
	if err != nil {
		return err
	}
	m.setStage(to)
	return nil
}

func (m *Machine) setStage(to Stage) {
	if to == m.stage {
		return
	}
	from := m.stage
	m.stage = to
	m.logger.Debug("auth stage changed",
		zap.String("session_id", m.sessionID), zap.String("from", string(from)), zap.String("to", string(to)))
	m.emit(events.StageChanged, map[string]any{"from": string(from), "to": string(to)})
}

func (m *Machine) emit(t events.Type, data map[string]any) {
	m.pub.Publish(events.Event{Type: t, SessionID: m.sessionID, At: m.clock.Now(), Data: data})
}
