package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"accounts/backend/internal/model"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// UserRepository is the user store. Implementations pass calls straight to
// the backing store; they do not cache.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	FindAll(ctx context.Context) ([]model.User, error)
	FindAllByRole(ctx context.Context, role model.Role) ([]model.User, error)
	// Create stores a new user, assigning an ID when user.ID is zero.
	Create(ctx context.Context, user model.User) (model.User, error)
	// Update applies update to the user with id in one write and returns the
	// stored result.
	Update(ctx context.Context, id bson.ObjectID, update UserUpdate) (model.User, error)
	// ConsumeResetToken sets passwordHash on the user whose pending reset
	// matches tokenHash and expires after now, clearing the reset in the same
	// write. Only one caller can consume a given token.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// UserUpdate names the fields one write changes. Empty fields are left as
// stored, so concurrent writes to different fields do not undo each other.
type UserUpdate struct {
	Name      string
	Email     string
	Role      model.Role
	Reset     *PendingReset
	UpdatedAt time.Time
}

type PendingReset struct {
	TokenHash string
	ExpiresAt time.Time
}

func (u UserUpdate) apply(user *model.User) {
	if u.Name != "" {
		user.Name = u.Name
	}
	if u.Email != "" {
		user.Email = u.Email
	}
	if u.Role != "" {
		user.Role = u.Role
	}
	if u.Reset != nil {
		user.SetResetToken(u.Reset.TokenHash, u.Reset.ExpiresAt)
	}
	if !u.UpdatedAt.IsZero() {
		user.UpdatedAt = u.UpdatedAt.UTC()
	}
}

func (u UserUpdate) fields() bson.M {
	set := bson.M{}
	if u.Name != "" {
		set["name"] = u.Name
	}
	if u.Email != "" {
		set["email"] = u.Email
	}
	if u.Role != "" {
		set["role"] = u.Role
	}
	if u.Reset != nil {
		set["resetPasswordToken"] = u.Reset.TokenHash
		set["resetPasswordExpires"] = u.Reset.ExpiresAt.UTC()
	}
	if !u.UpdatedAt.IsZero() {
		set["updatedAt"] = u.UpdatedAt.UTC()
	}
	return set
}

// check rejects a role outside the enum before it reaches the store.
func (u UserUpdate) check() error {
	if u.Role != "" && !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	return nil
}
