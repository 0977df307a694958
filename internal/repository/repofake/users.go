// Package repofake holds in-memory stand-ins for the MySQL repositories.
// They follow the same contracts, including the sentinel errors, and are
// used by service and handler tests.
package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
)

type Users struct {
	lock   sync.RWMutex
	nextID uint64
	byID   map[uint64]*model.User
}

func NewUsers() *Users {
	return &Users{byID: make(map[uint64]*model.User)}
}

func (r *Users) Create(_ context.Context, u *model.User) (uint64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	email := repository.NormalizeEmail(u.Email)
	for _, existing := range r.byID {
		if existing.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	r.nextID++
	cp := *u
	cp.ID = r.nextID
	cp.Email = email
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		cp.UpdatedAt = cp.CreatedAt
	}
	r.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (r *Users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	email = repository.NormalizeEmail(email)
	for _, u := range r.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Users) GetByID(_ context.Context, id uint64) (*model.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *Users) GetByResetTokenHash(_ context.Context, hash string, now time.Time) (*model.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, u := range r.byID {
		if hash != "" && u.ResetTokenHash == hash && u.ResetTokenExpires != nil && u.ResetTokenExpires.After(now) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Users) RegisterFailedLogin(_ context.Context, id uint64, now time.Time, maxAttempts int, lockFor time.Duration) (repository.LoginFailure, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return repository.LoginFailure{}, repository.ErrNotFound
	}
	if u.LockUntil != nil && !u.LockUntil.After(now) {
		u.LoginAttempts = 1
		u.LockUntil = nil
	} else {
		u.LoginAttempts++
	}
	failed := now
	u.LastFailedLogin = &failed

	out := repository.LoginFailure{Attempts: u.LoginAttempts}
	if u.LoginAttempts >= maxAttempts && u.LockUntil == nil {
		until := now.Add(lockFor)
		u.LockUntil = &until
		out.Locked = true
	}
	if u.LockUntil != nil {
		until := *u.LockUntil
		out.LockUntil = &until
	}
	return out, nil
}

func (r *Users) ResetLoginState(_ context.Context, id uint64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if u, ok := r.byID[id]; ok {
		u.LoginAttempts = 0
		u.LockUntil = nil
	}
	return nil
}

func (r *Users) UpdatePassword(_ context.Context, id uint64, hash string, now time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	changed := now
	u.PasswordChangedAt = &changed
	u.ResetTokenHash = ""
	u.ResetTokenExpires = nil
	u.LoginAttempts = 0
	u.LockUntil = nil
	return nil
}

func (r *Users) SetResetToken(_ context.Context, id uint64, hash string, expires time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if u, ok := r.byID[id]; ok {
		u.ResetTokenHash = hash
		exp := expires
		u.ResetTokenExpires = &exp
	}
	return nil
}

// Put stores u as-is, for arranging test state.
func (r *Users) Put(u *model.User) {
	r.lock.Lock()
	defer r.lock.Unlock()

	cp := *u
	if cp.ID == 0 {
		r.nextID++
		cp.ID = r.nextID
	} else if cp.ID > r.nextID {
		r.nextID = cp.ID
	}
	cp.Email = repository.NormalizeEmail(cp.Email)
	r.byID[cp.ID] = &cp
	u.ID = cp.ID
}
