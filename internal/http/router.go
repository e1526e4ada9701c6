// Package httpapi wires the Gin transport to the user and auth services.
// Every failure raised by a handler or middleware is recorded on the Gin
// context and rendered once by the error filter, so all error responses
// share the {errorCode, message, payload} envelope.
//
// @title                      Users API
// @version                    1.0
// @description                Users and JWT authentication with a uniform error envelope.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the JWT.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/docs"
	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/config"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/errfilter"
	"github.com/tbourn/go-users-backend/internal/http/handlers"
	"github.com/tbourn/go-users-backend/internal/http/middleware"
	"github.com/tbourn/go-users-backend/internal/repo"
	"github.com/tbourn/go-users-backend/internal/services"
)

const maxBodyBytes = 1 << 20

// UserRepoShim adapts the repo package functions to services.UserRepo.
type UserRepoShim struct{}

func (UserRepoShim) CreateUser(ctx context.Context, db *gorm.DB, name, email, passwordHash string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, name, email, passwordHash)
}

func (UserRepoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (UserRepoShim) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}

func (UserRepoShim) ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListUsers(ctx, db)
}

func (UserRepoShim) ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	return repo.ListUsersPage(ctx, db, offset, limit)
}

func (UserRepoShim) CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountUsers(ctx, db)
}

func (UserRepoShim) UpdateUser(ctx context.Context, db *gorm.DB, id string, fields repo.UserFields) (*domain.User, error) {
	return repo.UpdateUser(ctx, db, id, fields)
}

// NewSigner builds the token signer from auth settings.
func NewSigner(a config.AuthConfig) *auth.Signer {
	return &auth.Signer{
		AccessSecret:  a.SecretKey,
		RefreshSecret: a.RefreshSecretKey,
		AccessTTL:     a.AccessTokenTTL,
		RefreshTTL:    a.RefreshTokenTTL,
	}
}

// NewUserService builds the user service over db with a bcrypt hasher.
func NewUserService(db *gorm.DB, a config.AuthConfig) *services.UserService {
	return services.NewUserService(db, UserRepoShim{}, auth.NewHasher(a.BcryptCost))
}

// RegisterRoutes attaches middleware, fallbacks, operational endpoints and
// the versioned API to r.
//
// Middleware order matters:
//  1. OpenTelemetry span per request
//  2. RequestID and the request-scoped logger
//  3. Metrics, outside the error filter so it sees the final status
//  4. gzip, outside the error filter so error bodies are compressed too
//  5. ErrorFilter renders c.Errors and recovered panics
//  6. Security headers and CORS, so rejections still carry them
//  7. Body size cap
//  8. Rate limiter (per user/IP)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, chain *errfilter.Chain, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	handlers.RegisterValidation()

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", "/api/docs"})))
	r.Use(middleware.ErrorFilter(chain))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler())

	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperr.NotFound(handlers.RouteNotFound(c.Request.Method, c.Request.URL.Path)))
	})
	r.NoMethod(func(c *gin.Context) {
		_ = c.Error(apperr.Common(http.StatusMethodNotAllowed, handlers.MsgMethodNotAllowed))
	})

	r.GET("/health", health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	signer := NewSigner(cfg.Auth)
	userSvc := NewUserService(db, cfg.Auth)
	authSvc := services.NewAuthService(db, UserRepoShim{}, userSvc.Hasher, signer)
	h := handlers.New(userSvc, authSvc)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/auth/login", h.Login)
		api.POST("/auth/refresh", middleware.RequireRefreshToken(signer), h.Refresh)

		users := api.Group("/users", middleware.RequireAccessToken(signer))
		users.GET("", h.ListUsers)
		users.GET("/:id", h.GetUser)
		users.PATCH("/:id", h.UpdateUser)
	}
}

// health reports ok once the database answers a ping. A failed ping is a
// query failure and surfaces as a database-server-error.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			_ = c.Error(apperr.Query(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies at maxBytes. Reads past the cap fail, which
// binding reports as a malformed body.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
