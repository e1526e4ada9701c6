// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints. Success
// bodies are written with ok(); failures are never rendered here. Handlers
// record them with fail(), and middleware.ErrorFilter turns them into the
// uniform error envelope:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "errorCode": "common-error-with-message",
//	  "message":   "user not found"
//	}
//
// Validation failures add a field list under "payload":
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "errorCode": "validation-failed",
//	  "message":   "Validation failed",
//	  "payload":   [{"field": "email", "error": "must be a valid email"}]
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/errfilter"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse = errfilter.Body

// ValidationErrorResponse documents the envelope of validation failures.
type ValidationErrorResponse struct {
	ErrorCode string                   `json:"errorCode" example:"validation-failed"`
	Message   string                   `json:"message" example:"Validation failed"`
	Payload   apperr.ValidationPayload `json:"payload"`
}

// fail records err for the error filter and stops the handler chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// failBinding records a request binding error as a validation or bad
// request condition.
func failBinding(c *gin.Context, err error) {
	fail(c, apperr.FromBinding(err))
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// notModified answers a conditional GET whose ETag still matches.
func notModified(c *gin.Context) {
	c.Status(http.StatusNotModified)
}
