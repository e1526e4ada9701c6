// Package services defines the business logic for users and authentication.
// This file centralizes the translation of repository errors into response
// conditions so that every service reports storage failures the same way.
//
// Handlers never inspect these errors: they hand them to the error chain,
// which owns status, code and message.
package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// User-facing messages.
const (
	MsgUserNotFound       = "user not found"
	MsgInvalidCredentials = "Invalid login or password"
	MsgAccessDenied       = "access denied"
)

// fromRepo maps a repository error to a condition:
//
//	gorm.ErrRecordNotFound → NotFound(notFound)
//	anything else          → query failure (driver text stays server-side)
//
// Constraint violations are query failures like any other driver error.
func fromRepo(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(notFound)
	default:
		if _, ok := apperr.As(err); ok {
			return err
		}
		return apperr.Query(err)
	}
}
