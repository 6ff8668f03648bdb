package service

import (
	"context"
	"errors"
	"time"

	"signbridge/internal/middleware"
	"signbridge/internal/models"
	"signbridge/internal/repository"
	"signbridge/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// AuthService handles signup, login and logout.
type AuthService struct {
	users      repository.UserRepository
	auth       *middleware.Authenticator
	bcryptCost int
}

// AuthResult is a freshly issued session.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// NewAuthService returns an AuthService issuing tokens with auth.
func NewAuthService(users repository.UserRepository, auth *middleware.Authenticator) *AuthService {
	return &AuthService{users: users, auth: auth, bcryptCost: bcrypt.DefaultCost}
}

// Signup creates the account together with its profile and preferences and
// signs the user in.
func (s *AuthService) Signup(ctx context.Context, email, password string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	user := &models.User{Email: email, Password: string(hash)}
	if err := s.users.CreateWithDefaults(ctx, user); err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return s.issue(user)
}

// Login verifies credentials. Unknown emails and wrong passwords produce the
// same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := models.NewUnauthorizedError("invalid email or password")

	user, err := s.users.GetByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
			return nil, invalid
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, invalid
	}
	return s.issue(user)
}

// Logout revokes the token described by claims.
func (s *AuthService) Logout(ctx context.Context, claims *middleware.Claims) error {
	if err := s.auth.Revoke(ctx, claims); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// Me returns the signed-in user.
func (s *AuthService) Me(ctx context.Context, userID uint) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, exp, err := s.auth.IssueToken(user.ID, user.Email)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &AuthResult{Token: token, ExpiresAt: exp, User: user}, nil
}
