// Package services – UserService
//
// This file implements the UserService, which lists, reads and updates user
// accounts. It normalises names and emails, hashes new passwords, and
// translates repository failures into response conditions (not found,
// duplicate email, query failure).
package services

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/repo"
)

// UserRepo defines the repository contract required by UserService and
// AuthService.
type UserRepo interface {
	CreateUser(ctx context.Context, db *gorm.DB, name, email, passwordHash string) (*domain.User, error)
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)
	ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error)
	ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error)
	CountUsers(ctx context.Context, db *gorm.DB) (int64, error)
	UpdateUser(ctx context.Context, db *gorm.DB, id string, fields repo.UserFields) (*domain.User, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) (bool, error)
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Name     *string
	Email    *string
	Password *string
}

// UserList is the {total, data} listing shape.
type UserList struct {
	Total int64
	Data  []domain.User
}

// UserService provides user account operations.
type UserService struct {
	DB     *gorm.DB
	Repo   UserRepo
	Hasher PasswordHasher

	// EmailLocale selects the case folding applied to emails before they
	// are stored or looked up.
	EmailLocale language.Tag
}

// NewUserService constructs a UserService with locale-neutral email folding.
func NewUserService(db *gorm.DB, r UserRepo, h PasswordHasher) *UserService {
	return &UserService{
		DB:          db,
		Repo:        r,
		Hasher:      h,
		EmailLocale: language.Und,
	}
}

// List returns every user and the total count.
func (s *UserService) List(ctx context.Context) (UserList, error) {
	total, err := s.Repo.CountUsers(ctx, s.DB)
	if err != nil {
		return UserList{}, fromRepo(err, MsgUserNotFound)
	}
	if total == 0 {
		return UserList{Data: []domain.User{}}, nil
	}
	items, err := s.Repo.ListUsers(ctx, s.DB)
	if err != nil {
		return UserList{}, fromRepo(err, MsgUserNotFound)
	}
	return UserList{Total: total, Data: items}, nil
}

// ListPage returns one page of users and the overall total. Invalid page or
// pageSize values fall back to 1 and 20.
func (s *UserService) ListPage(ctx context.Context, page, pageSize int) (UserList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := s.Repo.CountUsers(ctx, s.DB)
	if err != nil {
		return UserList{}, fromRepo(err, MsgUserNotFound)
	}
	if total == 0 {
		return UserList{Data: []domain.User{}}, nil
	}
	items, err := s.Repo.ListUsersPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	if err != nil {
		return UserList{}, fromRepo(err, MsgUserNotFound)
	}
	return UserList{Total: total, Data: items}, nil
}

// Get returns the user with the given id.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.Repo.GetUser(ctx, s.DB, id)
	if err != nil {
		return nil, fromRepo(err, MsgUserNotFound)
	}
	return u, nil
}

// GetByEmail returns the user registered under email, compared after case
// folding.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.Repo.GetUserByEmail(ctx, s.DB, s.foldEmail(email))
	if err != nil {
		return nil, fromRepo(err, MsgUserNotFound)
	}
	return u, nil
}

// Create stores a new user with a hashed password.
func (s *UserService) Create(ctx context.Context, name, email, password string) (*domain.User, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, apperr.Validation(apperr.ValidationPayload{{Field: "name", Error: "must not be empty"}})
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u, err := s.Repo.CreateUser(ctx, s.DB, name, s.foldEmail(email), hash)
	if err != nil {
		return nil, fromRepo(err, MsgUserNotFound)
	}
	return u, nil
}

// Update applies a partial update. Blank names are rejected, emails are
// folded, and a new password is hashed before it is stored.
func (s *UserService) Update(ctx context.Context, id string, in UserUpdate) (*domain.User, error) {
	var fields repo.UserFields
	if in.Name != nil {
		name := normalizeName(*in.Name)
		if name == "" {
			return nil, apperr.Validation(apperr.ValidationPayload{{Field: "name", Error: "must not be empty"}})
		}
		fields.Name = &name
	}
	if in.Email != nil {
		email := s.foldEmail(*in.Email)
		fields.Email = &email
	}
	if in.Password != nil {
		hash, err := s.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		fields.PasswordHash = &hash
	}

	u, err := s.Repo.UpdateUser(ctx, s.DB, id, fields)
	if err != nil {
		return nil, fromRepo(err, MsgUserNotFound)
	}
	return u, nil
}

func (s *UserService) hash(password string) (string, error) {
	if password == "" {
		return "", apperr.Validation(apperr.ValidationPayload{{Field: "password", Error: "must not be empty"}})
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return "", apperr.Data("password could not be hashed")
	}
	return hash, nil
}

func (s *UserService) foldEmail(email string) string {
	// Casers are stateful; build one per call.
	return foldEmail(s.EmailLocale, email)
}

func foldEmail(tag language.Tag, email string) string {
	return cases.Lower(tag).String(strings.TrimSpace(email))
}

// normalizeName trims whitespace and collapses runs of spaces to one.
func normalizeName(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
