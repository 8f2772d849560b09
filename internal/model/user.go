package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is stored as one document in the users collection. Secrets never
// leave the process through the JSON view.
type User struct {
	ID                   bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name                 string        `bson:"name" json:"name"`
	Email                string        `bson:"email" json:"email"`
	Password             string        `bson:"password" json:"-"`
	Role                 Role          `bson:"role" json:"role"`
	ResetPasswordToken   string        `bson:"resetPasswordToken,omitempty" json:"-"`
	ResetPasswordExpires *time.Time    `bson:"resetPasswordExpires,omitempty" json:"-"`
	CreatedAt            time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// SetResetToken records a pending reset. tokenHash is the sha256 of the
// token handed to the user, never the token itself.
func (u *User) SetResetToken(tokenHash string, expiresAt time.Time) {
	expires := expiresAt.UTC()
	u.ResetPasswordToken = tokenHash
	u.ResetPasswordExpires = &expires
}

func (u *User) ClearResetToken() {
	u.ResetPasswordToken = ""
	u.ResetPasswordExpires = nil
}

// HasPendingReset reports whether tokenHash is the pending reset and has not
// expired at now.
func (u *User) HasPendingReset(tokenHash string, now time.Time) bool {
	if u.ResetPasswordToken == "" || u.ResetPasswordExpires == nil {
		return false
	}
	return u.ResetPasswordToken == tokenHash && u.ResetPasswordExpires.After(now)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
