package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"accounts/backend/internal/auth"
	"accounts/backend/internal/model"
	"accounts/backend/internal/repository"
)

type PasswordHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, hash string) bool
}

type TokenIssuer interface {
	Issue(userID, role string) (string, error)
}

type AccountConfig struct {
	Users  repository.UserRepository
	Hasher PasswordHasher
	Tokens TokenIssuer
	Logger *slog.Logger
	// ResetTTL is how long a reset token stays usable.
	ResetTTL time.Duration
	// ResetURL is the base of the logged reset link; the token is appended
	// as the last path segment.
	ResetURL string
	Now      func() time.Time
}

type AccountService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	tokens   TokenIssuer
	logger   *slog.Logger
	resetTTL time.Duration
	resetURL string
	now      func() time.Time
}

type RegisterInput struct {
	Name     string     `json:"name" validate:"required,min=3"`
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required,min=6,bcrypt"`
	Role     model.Role `json:"role" validate:"omitempty,oneof=user admin"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateProfileInput struct {
	Name  string `json:"name" validate:"omitempty,min=3"`
	Email string `json:"email" validate:"omitempty,email"`
}

type ResetRequestInput struct {
	Email string `json:"email" validate:"required,email"`
}

type CompleteResetInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,bcrypt"`
}

// Session is the outcome of a successful register or login.
type Session struct {
	User  model.User
	Token string
}

func NewAccountService(cfg AccountConfig) (*AccountService, error) {
	switch {
	case cfg.Users == nil:
		return nil, errors.New("users repository is required")
	case cfg.Hasher == nil:
		return nil, errors.New("password hasher is required")
	case cfg.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case cfg.Logger == nil:
		return nil, errors.New("logger is required")
	case cfg.ResetTTL <= 0:
		return nil, errors.New("reset ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AccountService{
		users:    cfg.Users,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		logger:   cfg.Logger,
		resetTTL: cfg.ResetTTL,
		resetURL: strings.TrimRight(cfg.ResetURL, "/"),
		now:      now,
	}, nil
}

func (s *AccountService) Register(ctx context.Context, input RegisterInput) (Session, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = model.NormalizeEmail(input.Email)
	if msgs := model.Validate(input); msgs != nil {
		return Session{}, validationError(msgs)
	}
	if input.Role == "" {
		input.Role = model.RoleUser
	}

	_, err := s.users.FindByEmail(ctx, input.Email)
	switch {
	case err == nil:
		return Session{}, errUserExists()
	case !errors.Is(err, repository.ErrUserNotFound):
		return Session{}, internalError("FindByEmail", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return Session{}, internalError("Hash", err)
	}

	now := s.now().UTC()
	user, err := s.users.Create(ctx, model.User{
		Name:      input.Name,
		Email:     input.Email,
		Password:  hash,
		Role:      input.Role,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return Session{}, errUserExists()
		}
		return Session{}, internalError("Create", err)
	}

	token, err := s.tokens.Issue(user.ID.Hex(), string(user.Role))
	if err != nil {
		return Session{}, internalError("Issue", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.Hex(), "role", user.Role)
	return Session{User: user, Token: token}, nil
}

func (s *AccountService) Login(ctx context.Context, input LoginInput) (Session, error) {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Session{}, errInvalidCredentials()
		}
		return Session{}, internalError("FindByEmail", err)
	}
	if input.Password == "" || !s.hasher.Verify(input.Password, user.Password) {
		return Session{}, errInvalidCredentials()
	}

	token, err := s.tokens.Issue(user.ID.Hex(), string(user.Role))
	if err != nil {
		return Session{}, internalError("Issue", err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.Hex())
	return Session{User: user, Token: token}, nil
}

// ListUsers returns every user, or only admins when role is "admin". Any
// other role value lists everyone.
func (s *AccountService) ListUsers(ctx context.Context, role string) ([]model.User, error) {
	var (
		users []model.User
		err   error
	)
	if model.Role(role) == model.RoleAdmin {
		users, err = s.users.FindAllByRole(ctx, model.RoleAdmin)
	} else {
		users, err = s.users.FindAll(ctx)
	}
	if err != nil {
		return nil, internalError("ListUsers", err)
	}
	return users, nil
}

// UpdateProfile changes the name and/or email of the requester's own record.
// Empty fields are left unchanged.
func (s *AccountService) UpdateProfile(ctx context.Context, requester auth.Identity, targetID string, input UpdateProfileInput) (model.User, error) {
	if requester.UserID != targetID {
		return model.User{}, errForbidden("You can only update your own data")
	}

	user, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.User{}, errNotFound()
		}
		return model.User{}, internalError("FindByID", err)
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Email = model.NormalizeEmail(input.Email)
	if msgs := model.Validate(input); msgs != nil {
		return model.User{}, validationError(msgs)
	}

	updated, err := s.users.Update(ctx, user.ID, repository.UserUpdate{
		Name:      input.Name,
		Email:     input.Email,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return model.User{}, errUserExists()
		case errors.Is(err, repository.ErrUserNotFound):
			return model.User{}, errNotFound()
		default:
			return model.User{}, internalError("Update", err)
		}
	}
	return updated, nil
}

func (s *AccountService) DeleteUser(ctx context.Context, requester auth.Identity, targetID string) error {
	if model.Role(requester.Role) != model.RoleAdmin {
		return errForbidden("Access denied. Admins only")
	}

	if err := s.users.DeleteByID(ctx, targetID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return errNotFound()
		}
		return internalError("DeleteByID", err)
	}

	s.logger.InfoContext(ctx, "user deleted", "user_id", targetID, "by", requester.UserID)
	return nil
}

// RequestPasswordReset stores a fresh reset token for the account and logs
// the reset link. Unknown emails get the same nil result.
func (s *AccountService) RequestPasswordReset(ctx context.Context, input ResetRequestInput) error {
	input.Email = model.NormalizeEmail(input.Email)
	if msgs := model.Validate(input); msgs != nil {
		return validationError(msgs)
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return internalError("FindByEmail", err)
	}

	token, hash, err := auth.GenerateResetToken()
	if err != nil {
		return internalError("GenerateResetToken", err)
	}

	now := s.now().UTC()
	_, err = s.users.Update(ctx, user.ID, repository.UserUpdate{
		Reset:     &repository.PendingReset{TokenHash: hash, ExpiresAt: now.Add(s.resetTTL)},
		UpdatedAt: now,
	})
	if errors.Is(err, repository.ErrUserNotFound) {
		s.logger.InfoContext(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return internalError("Update", err)
	}

	s.logger.InfoContext(ctx, "password reset link", "user_id", user.ID.Hex(), "url", s.resetURL+"/"+token)
	return nil
}

func (s *AccountService) CompletePasswordReset(ctx context.Context, input CompleteResetInput) error {
	input.Token = strings.TrimSpace(input.Token)
	if msgs := model.Validate(input); msgs != nil {
		return validationError(msgs)
	}

	// Hashing comes first so the token is consumed in a single store write.
	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return internalError("Hash", err)
	}

	user, err := s.users.ConsumeResetToken(ctx, auth.HashResetToken(input.Token), s.now().UTC(), hash)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return errResetTokenInvalid()
		}
		return internalError("ConsumeResetToken", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID.Hex())
	return nil
}

var errInvalidAdminInitInput = errors.New("name, email and password are required")

// EnsureAdmin makes sure at least one admin exists. When none does, the user
// with email is promoted, or created when missing. It does nothing once any
// admin is present.
func (s *AccountService) EnsureAdmin(ctx context.Context, name, email, password string) error {
	input := RegisterInput{
		Name:     strings.TrimSpace(name),
		Email:    model.NormalizeEmail(email),
		Password: password,
		Role:     model.RoleAdmin,
	}
	if input.Name == "" || input.Email == "" || input.Password == "" {
		return errInvalidAdminInitInput
	}

	admins, err := s.users.FindAllByRole(ctx, model.RoleAdmin)
	if err != nil {
		return internalError("FindAllByRole", err)
	}
	if len(admins) > 0 {
		return nil
	}

	existing, err := s.users.FindByEmail(ctx, input.Email)
	if err == nil {
		_, err := s.users.Update(ctx, existing.ID, repository.UserUpdate{
			Role:      model.RoleAdmin,
			UpdatedAt: s.now().UTC(),
		})
		if err != nil {
			return internalError("Update", err)
		}
		s.logger.InfoContext(ctx, "promoted user to admin", "user_id", existing.ID.Hex())
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return internalError("FindByEmail", err)
	}

	_, err = s.Register(ctx, input)
	return err
}
