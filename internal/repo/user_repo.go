// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateUser(ctx, db, name, email, passwordHash) -> *domain.User, error
//   - GetUser(ctx, db, id) -> *domain.User, error
//   - GetUserByEmail(ctx, db, email) -> *domain.User, error
//   - ListUsers(ctx, db) -> []domain.User, error
//   - ListUsersPage(ctx, db, offset, limit) -> []domain.User, error
//   - CountUsers(ctx, db) -> int64, error
//   - UpdateUser(ctx, db, id, fields) -> *domain.User, error
//
// This repository is wrapped by services.UserService and
// services.AuthService, which translate driver errors into response
// conditions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UserFields lists the columns a partial update may touch. Nil pointers are
// left unchanged.
type UserFields struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

func (f UserFields) updates() map[string]any {
	m := make(map[string]any, 3)
	if f.Name != nil {
		m["name"] = *f.Name
	}
	if f.Email != nil {
		m["email"] = *f.Email
	}
	if f.PasswordHash != nil {
		m["password"] = *f.PasswordHash
	}
	return m
}

// CreateUser inserts a new user with a random UUID and UTC timestamps.
func CreateUser(ctx context.Context, db *gorm.DB, name, email, passwordHash string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by primary key, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by login email, or ErrNotFound.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user ordered by creation time ascending.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListUsersPage returns a slice of users ordered by creation time ascending.
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("created_at asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountUsers returns the number of non-deleted users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error
	return total, err
}

// UpdateUser applies the non-nil fields to the user with the given id and
// returns the stored row. It returns ErrNotFound when no row matches.
func UpdateUser(ctx context.Context, db *gorm.DB, id string, fields UserFields) (*domain.User, error) {
	var out *domain.User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := GetUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd := fields.updates(); len(upd) > 0 {
			upd["updated_at"] = time.Now().UTC()
			if err := tx.Model(u).Updates(upd).Error; err != nil {
				return err
			}
		}
		out, err = GetUser(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
