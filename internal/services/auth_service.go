// Package services – AuthService
//
// This file implements credential checks and token issuance. Unknown emails
// and wrong passwords are indistinguishable to the caller; a refresh for a
// user that no longer exists is refused.
package services

import (
	"context"
	"errors"

	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/domain"
)

// TokenIssuer issues token pairs for a user id.
type TokenIssuer interface {
	Pair(userID string) (auth.Pair, error)
}

// AuthService validates credentials and issues token pairs.
type AuthService struct {
	DB     *gorm.DB
	Repo   UserRepo
	Hasher PasswordHasher
	Tokens TokenIssuer

	EmailLocale language.Tag
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, r UserRepo, h PasswordHasher, t TokenIssuer) *AuthService {
	return &AuthService{DB: db, Repo: r, Hasher: h, Tokens: t, EmailLocale: language.Und}
}

// ValidateUser returns the user matching email and password. Any mismatch is
// an access-denied condition with a single generic message.
func (s *AuthService) ValidateUser(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := s.Repo.GetUserByEmail(ctx, s.DB, foldEmail(s.EmailLocale, email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.AccessDenied(MsgInvalidCredentials)
		}
		return nil, fromRepo(err, MsgInvalidCredentials)
	}
	ok, err := s.Hasher.Compare(u.Password, password)
	if err != nil || !ok {
		return nil, apperr.AccessDenied(MsgInvalidCredentials)
	}
	return u, nil
}

// Login validates credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (auth.Pair, error) {
	u, err := s.ValidateUser(ctx, email, password)
	if err != nil {
		return auth.Pair{}, err
	}
	return s.Tokens.Pair(u.ID)
}

// Refresh issues a new pair for the subject of a verified refresh token,
// provided the user still exists.
func (s *AuthService) Refresh(ctx context.Context, userID string) (auth.Pair, error) {
	u, err := s.Repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.Pair{}, apperr.AccessDenied(MsgAccessDenied)
		}
		return auth.Pair{}, fromRepo(err, MsgAccessDenied)
	}
	return s.Tokens.Pair(u.ID)
}
