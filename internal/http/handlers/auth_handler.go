package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/http/middleware"
)

// LoginRequest is the JSON payload for signing in.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255" example:"admin@test.com"`
	Password string `json:"password" binding:"required,max=255" example:"asdfasdf"`
}

// TokenPairResponse carries a freshly issued access/refresh token pair.
type TokenPairResponse struct {
	AccessToken  string `json:"accessToken" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	RefreshToken string `json:"refreshToken" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Description Exchanges email and password for an access/refresh token pair.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object} handlers.TokenPairResponse
// @Failure     400  {object} handlers.ValidationErrorResponse "Invalid input"
// @Failure     401  {object} handlers.ErrorResponse "Invalid login or password"
// @Failure     429  {object} handlers.ErrorResponse "Too many requests"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}
	pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, asUnauthorized(err))
		return
	}
	ok(c, http.StatusOK, TokenPairResponse(pair))
}

// Refresh godoc
// @ID          refreshTokens
// @Summary     Refresh tokens
// @Description Issues a new token pair for the bearer of a valid refresh token.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} handlers.TokenPairResponse
// @Failure     400  {object} handlers.ErrorResponse "User no longer exists"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid refresh token"
// @Router      /auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	uid, found := middleware.UserIDFrom(c)
	if !found {
		fail(c, apperr.Unauthorized("Unauthorized"))
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), uid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, TokenPairResponse(pair))
}

// asUnauthorized re-raises an access-denied credential check as 401 with
// the same message. Other failures pass through.
func asUnauthorized(err error) error {
	if c, isCond := apperr.As(err); isCond && c.Family() == apperr.FamilyAccess {
		return apperr.Unauthorized(c.Message())
	}
	return err
}
