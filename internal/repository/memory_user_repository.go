package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"accounts/backend/internal/model"
)

// MemoryUserRepository keeps users in process memory. It enforces the same
// unique email rule as the Mongo index and returns copies, so callers never
// share a record.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[bson.ObjectID]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[bson.ObjectID]model.User)}
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return model.User{}, ErrUserNotFound
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return model.User{}, ErrUserNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[oid]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return clone(u), nil
}

func (r *MemoryUserRepository) FindAll(_ context.Context) ([]model.User, error) {
	return r.filter(func(model.User) bool { return true }), nil
}

func (r *MemoryUserRepository) FindAllByRole(_ context.Context, role model.Role) ([]model.User, error) {
	return r.filter(func(u model.User) bool { return u.Role == role }), nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user.ID.IsZero() {
		user.ID = bson.NewObjectID()
	}
	if r.emailTaken(user.Email, user.ID) {
		return model.User{}, ErrDuplicateEmail
	}
	r.users[user.ID] = clone(user)
	return clone(user), nil
}

func (r *MemoryUserRepository) Update(_ context.Context, id bson.ObjectID, update UserUpdate) (model.User, error) {
	if err := update.check(); err != nil {
		return model.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	if update.Email != "" && r.emailTaken(update.Email, id) {
		return model.User{}, ErrDuplicateEmail
	}
	user = clone(user)
	update.apply(&user)
	r.users[id] = user
	return clone(user), nil
}

func (r *MemoryUserRepository) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, passwordHash string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.users {
		if !u.HasPendingReset(tokenHash, now) {
			continue
		}
		u = clone(u)
		u.Password = passwordHash
		u.ClearResetToken()
		u.UpdatedAt = now.UTC()
		r.users[id] = u
		return clone(u), nil
	}
	return model.User{}, ErrUserNotFound
}

func (r *MemoryUserRepository) DeleteByID(_ context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrUserNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[oid]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, oid)
	return nil
}

// emailTaken must be called with mu held.
func (r *MemoryUserRepository) emailTaken(email string, except bson.ObjectID) bool {
	for id, u := range r.users {
		if id != except && u.Email == email {
			return true
		}
	}
	return false
}

func (r *MemoryUserRepository) filter(keep func(model.User) bool) []model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		if keep(u) {
			users = append(users, clone(u))
		}
	}
	slices.SortFunc(users, func(a, b model.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.Hex(), b.ID.Hex())
	})
	return users
}

func clone(u model.User) model.User {
	if u.ResetPasswordExpires != nil {
		expires := *u.ResetPasswordExpires
		u.ResetPasswordExpires = &expires
	}
	return u
}
