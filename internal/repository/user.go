package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/Gopher0727/Strangers/internal/model"
)

var (
	ErrNoUser       = errors.New("no registered user")
	ErrUserMismatch = errors.New("user does not match the registered record")
)

// IUserRepository holds the single registered account of a session.
type IUserRepository interface {
	// Save replaces the registered record. The email starts unverified.
	Save(ctx context.Context, user *model.User) error
	Registered(ctx context.Context) (*model.User, error)
	// Update rewrites the registered record in place, keeping the
	// verification state.
	Update(ctx context.Context, user *model.User) error
	MarkVerified(ctx context.Context) error
	IsVerified(ctx context.Context) (bool, error)
}

// UserRepository implements IUserRepository in memory
type UserRepository struct {
	mu       sync.RWMutex
	user     *model.User
	verified bool
}

// NewUserRepository creates a new IUserRepository instance
func NewUserRepository() IUserRepository {
	return &UserRepository{}
}

func (r *UserRepository) Save(ctx context.Context, user *model.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = user.Clone()
	r.verified = false
	return nil
}

func (r *UserRepository) Registered(ctx context.Context) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.user == nil {
		return nil, ErrNoUser
	}
	return r.user.Clone(), nil
}

func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user == nil {
		return ErrNoUser
	}
	if user == nil || user.ID != r.user.ID {
		return ErrUserMismatch
	}
	r.user = user.Clone()
	return nil
}

func (r *UserRepository) MarkVerified(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user == nil {
		return ErrNoUser
	}
	r.verified = true
	return nil
}

func (r *UserRepository) IsVerified(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.user == nil {
		return false, ErrNoUser
	}
	return r.verified, nil
}
