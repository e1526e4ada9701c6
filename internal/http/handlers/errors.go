package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// Messages for failures raised by the HTTP layer itself.
const (
	MsgMethodNotAllowed = "Method Not Allowed"
	MsgInvalidUserID    = "must be a UUID"
)

// RegisterValidation configures Gin's validator to report fields by their
// JSON names. Call once at startup, before serving requests.
func RegisterValidation() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		apperr.RegisterJSONTagNames(v)
	}
}

// RouteNotFound is the message for requests that match no route.
func RouteNotFound(method, path string) string {
	return fmt.Sprintf("Cannot %s %s", method, path)
}
