// User and auth HTTP handlers.
//
// This file exposes REST endpoints for user resources:
//   - GET   /users       (list, optional paging, ETag support)
//   - GET   /users/{id}  (read)
//   - PATCH /users/{id}  (partial update)
//
// Handlers are transport-thin: they bind input, call application services,
// and record failures with c.Error for the error filter to render.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/repo"
	"github.com/tbourn/go-users-backend/internal/services"
	"github.com/tbourn/go-users-backend/internal/utils"
)

// UserService defines the user operations consumed by HTTP handlers.
type UserService interface {
	List(ctx context.Context) (services.UserList, error)
	ListPage(ctx context.Context, page, pageSize int) (services.UserList, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, id string, in services.UserUpdate) (*domain.User, error)
}

// AuthService defines the credential and token operations consumed by HTTP
// handlers.
type AuthService interface {
	Login(ctx context.Context, email, password string) (auth.Pair, error)
	Refresh(ctx context.Context, userID string) (auth.Pair, error)
}

// Handlers groups the HTTP endpoints for users and authentication.
type Handlers struct {
	users UserService
	auth  AuthService
}

// New constructs Handlers bound to the given services.
func New(users UserService, auth AuthService) *Handlers {
	return &Handlers{users: users, auth: auth}
}

//
// DTOs
//

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID    string `json:"id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Name  string `json:"name" example:"admin"`
	Email string `json:"email" example:"admin@test.com"`
}

// ListUsersResponse is the {total, data} listing shape. Page fields are set
// only when the request asked for a page.
type ListUsersResponse struct {
	Total      int64          `json:"total" example:"1"`
	Data       []UserResponse `json:"data"`
	Page       int            `json:"page,omitempty" example:"1"`
	PageSize   int            `json:"pageSize,omitempty" example:"20"`
	TotalPages int            `json:"totalPages,omitempty" example:"1"`
}

// UpdateUserRequest is the JSON payload for a partial user update.
type UpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitempty,min=1,max=255" example:"Ada Lovelace"`
	Email    *string `json:"email" binding:"omitempty,email,max=255" example:"ada@example.com"`
	Password *string `json:"password" binding:"omitempty,min=1,max=72" example:"s3cret"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}

//
// Handlers
//

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Description Returns all users, or one page when page or page_size is given. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"users:1:0:0:0\")
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListUsersResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid access token"
// @Failure     500  {object} handlers.ErrorResponse "Database error"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	paged := c.Query("page") != "" || c.Query("page_size") != ""
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))

	if etag, ok := h.usersETag(ctx, paged, page, pageSize); ok {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			notModified(c)
			return
		}
	}

	var (
		list services.UserList
		err  error
	)
	if paged {
		list, err = h.users.ListPage(ctx, page, pageSize)
	} else {
		list, err = h.users.List(ctx)
	}
	if err != nil {
		fail(c, err)
		return
	}

	resp := ListUsersResponse{Total: list.Total, Data: make([]UserResponse, 0, len(list.Data))}
	for i := range list.Data {
		resp.Data = append(resp.Data, toUserResponse(&list.Data[i]))
	}
	if paged {
		resp.Page, resp.PageSize = page, pageSize
		resp.TotalPages = utils.TotalPages(list.Total, pageSize)
	}
	ok(c, http.StatusOK, resp)
}

// usersETag derives a weak ETag from the user count and latest update. It
// is best effort: any failure just skips the conditional check.
func (h *Handlers) usersETag(ctx context.Context, paged bool, page, pageSize int) (string, bool) {
	svc, isSvc := h.users.(*services.UserService)
	if !isSvc || svc.DB == nil {
		return "", false
	}
	count, maxTS, err := repo.UsersStats(ctx, svc.DB)
	if err != nil {
		return "", false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	if !paged {
		page, pageSize = 0, 0
	}
	return fmt.Sprintf(`W/"users:%d:%d:%d:%d"`, count, ts, page, pageSize), true
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "User ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.UserResponse
// @Failure     400  {object} handlers.ValidationErrorResponse "Invalid id"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid access token"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	id, valid := userIDParam(c)
	if !valid {
		return
	}
	u, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toUserResponse(u))
}

// UpdateUser godoc
// @ID          updateUser
// @Summary     Update a user
// @Description Partially updates name, email and/or password. Passwords are stored hashed.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                      true  "User ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateUserRequest  true  "Fields to change"
//
// @Success     200  {object} handlers.UserResponse
// @Failure     400  {object} handlers.ValidationErrorResponse "Invalid input"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid access token"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Failure     500  {object} handlers.ErrorResponse "Database error"
// @Router      /users/{id} [patch]
func (h *Handlers) UpdateUser(c *gin.Context) {
	id, valid := userIDParam(c)
	if !valid {
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBinding(c, err)
		return
	}
	u, err := h.users.Update(c.Request.Context(), id, services.UserUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toUserResponse(u))
}

// userIDParam returns the :id path parameter, recording a validation
// failure when it is not a UUID.
func userIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, apperr.Validation(apperr.ValidationPayload{{Field: "id", Error: MsgInvalidUserID}}))
		return "", false
	}
	return id, true
}
