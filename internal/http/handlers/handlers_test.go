package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/errfilter"
	"github.com/tbourn/go-users-backend/internal/http/middleware"
	"github.com/tbourn/go-users-backend/internal/repo"
	"github.com/tbourn/go-users-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newUserDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:user_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testUserRepo struct{}

func (testUserRepo) CreateUser(ctx context.Context, db *gorm.DB, name, email, hash string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, name, email, hash)
}
func (testUserRepo) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}
func (testUserRepo) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}
func (testUserRepo) ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListUsers(ctx, db)
}
func (testUserRepo) ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	return repo.ListUsersPage(ctx, db, offset, limit)
}
func (testUserRepo) CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountUsers(ctx, db)
}
func (testUserRepo) UpdateUser(ctx context.Context, db *gorm.DB, id string, f repo.UserFields) (*domain.User, error) {
	return repo.UpdateUser(ctx, db, id, f)
}

// plainHasher keeps tests fast; bcrypt is covered in the auth package.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error)     { return "h:" + p, nil }
func (plainHasher) Compare(h, p string) (bool, error) { return h == "h:"+p, nil }

// ---------- fixture ----------

type fixture struct {
	db     *gorm.DB
	users  *services.UserService
	signer *auth.Signer
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	RegisterValidation()

	db := newUserDB(t)
	signer := &auth.Signer{AccessSecret: "access-secret", RefreshSecret: "refresh-secret", AccessTTL: time.Hour, RefreshTTL: time.Hour}
	users := services.NewUserService(db, testUserRepo{}, plainHasher{})
	authSvc := services.NewAuthService(db, testUserRepo{}, plainHasher{}, signer)
	h := New(users, authSvc)

	chain := errfilter.New(errfilter.PolicyFor("production"), zerolog.Nop())
	r := gin.New()
	r.Use(middleware.ErrorFilter(chain))
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", middleware.RequireRefreshToken(signer), h.Refresh)
	r.GET("/users", h.ListUsers)
	r.GET("/users/:id", h.GetUser)
	r.PATCH("/users/:id", h.UpdateUser)

	return &fixture{db: db, users: users, signer: signer, router: r}
}

func (f *fixture) seed(t *testing.T, name, email, password string) *domain.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), name, email, password)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return u
}

func (f *fixture) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json %q: %v", w.Body.String(), err)
	}
	return v
}

// ---------- users ----------

func TestListUsers_AllAndPaged(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "a@test.com", "pw")
	f.seed(t, "b", "b@test.com", "pw")
	f.seed(t, "c", "c@test.com", "pw")

	w := f.do(http.MethodGet, "/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	all := decode[ListUsersResponse](t, w)
	if all.Total != 3 || len(all.Data) != 3 || all.Page != 0 {
		t.Fatalf("unexpected list: %+v", all)
	}
	if strings.Contains(w.Body.String(), "password") || strings.Contains(w.Body.String(), "h:pw") {
		t.Fatalf("password leaked: %s", w.Body.String())
	}

	w = f.do(http.MethodGet, "/users?page=2&page_size=2", "")
	page := decode[ListUsersResponse](t, w)
	if page.Total != 3 || len(page.Data) != 1 || page.Page != 2 || page.PageSize != 2 || page.TotalPages != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestListUsers_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/users", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestListUsers_ETag304(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "a@test.com", "pw")

	w := f.do(http.MethodGet, "/users", "")
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	if w = f.do(http.MethodGet, "/users", "", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	f.seed(t, "b", "b@test.com", "pw")
	if w = f.do(http.MethodGet, "/users", "", "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("stale ETag should miss, got %d", w.Code)
	}
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "Ada", "ada@test.com", "pw")

	w := f.do(http.MethodGet, "/users/"+u.ID, "")
	if got := decode[UserResponse](t, w); w.Code != http.StatusOK || got.Email != "ada@test.com" {
		t.Fatalf("got %d %+v", w.Code, got)
	}

	w = f.do(http.MethodGet, "/users/"+uuid.NewString(), "")
	body := decode[ErrorResponse](t, w)
	if w.Code != http.StatusNotFound || body.ErrorCode != apperr.KindCommonWithMessage || body.Message != services.MsgUserNotFound {
		t.Fatalf("got %d %+v", w.Code, body)
	}

	w = f.do(http.MethodGet, "/users/not-a-uuid", "")
	vb := decode[ValidationErrorResponse](t, w)
	if w.Code != http.StatusBadRequest || vb.ErrorCode != string(apperr.KindValidationFailed) || len(vb.Payload) != 1 || vb.Payload[0].Field != "id" {
		t.Fatalf("got %d %+v", w.Code, vb)
	}
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "Old", "old@test.com", "pw")
	f.seed(t, "Other", "taken@test.com", "pw")

	w := f.do(http.MethodPatch, "/users/"+u.ID, `{"name":"  New   Name ","email":"NEW@test.com"}`)
	got := decode[UserResponse](t, w)
	if w.Code != http.StatusOK || got.Name != "New Name" || got.Email != "new@test.com" {
		t.Fatalf("got %d %+v", w.Code, got)
	}

	w = f.do(http.MethodPatch, "/users/"+u.ID, `{"email":"taken@test.com"}`)
	if body := decode[ErrorResponse](t, w); w.Code != http.StatusInternalServerError || body.ErrorCode != apperr.KindDatabaseServer || body.Message != "database error" {
		t.Fatalf("duplicate email: %d %+v", w.Code, body)
	}
	if strings.Contains(w.Body.String(), "UNIQUE") {
		t.Fatalf("driver text leaked: %s", w.Body.String())
	}
}

func TestUpdateUser_ValidationPayload(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "Old", "old@test.com", "pw")

	long := strings.Repeat("x", 256)
	w := f.do(http.MethodPatch, "/users/"+u.ID, `{"email":"nope","name":"`+long+`"}`)
	body := decode[ValidationErrorResponse](t, w)
	if w.Code != http.StatusBadRequest || body.ErrorCode != string(apperr.KindValidationFailed) {
		t.Fatalf("got %d %+v", w.Code, body)
	}
	fields := map[string]string{}
	for _, fe := range body.Payload {
		fields[fe.Field] = fe.Error
	}
	if fields["email"] != "must be a valid email" || fields["name"] != "too long. Maximum is 255 symbols." {
		t.Fatalf("unexpected payload: %+v", body.Payload)
	}

	w = f.do(http.MethodPatch, "/users/"+u.ID, `{"name":`)
	if eb := decode[ErrorResponse](t, w); w.Code != http.StatusBadRequest || eb.ErrorCode != apperr.KindCommonWithMessage {
		t.Fatalf("malformed json: %d %+v", w.Code, eb)
	}
}

// ---------- auth ----------

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "admin", "admin@test.com", "asdfasdf")

	w := f.do(http.MethodPost, "/auth/login", `{"email":"admin@test.com","password":"asdfasdf"}`)
	pair := decode[TokenPairResponse](t, w)
	if w.Code != http.StatusOK || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if sub, err := f.signer.Parse(auth.AccessToken, pair.AccessToken); err != nil || sub != u.ID {
		t.Fatalf("access token subject %q err=%v", sub, err)
	}

	for _, body := range []string{
		`{"email":"admin@test.com","password":"wrong"}`,
		`{"email":"ghost@test.com","password":"asdfasdf"}`,
	} {
		w = f.do(http.MethodPost, "/auth/login", body)
		eb := decode[ErrorResponse](t, w)
		if w.Code != http.StatusUnauthorized || eb.ErrorCode != apperr.KindCommonWithMessage || eb.Message != services.MsgInvalidCredentials {
			t.Fatalf("%s: got %d %+v", body, w.Code, eb)
		}
	}

	w = f.do(http.MethodPost, "/auth/login", `{"email":"","password":""}`)
	if vb := decode[ValidationErrorResponse](t, w); w.Code != http.StatusBadRequest || len(vb.Payload) != 2 {
		t.Fatalf("empty credentials: %d %+v", w.Code, vb)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	u := f.seed(t, "admin", "admin@test.com", "asdfasdf")

	tok, err := f.signer.Sign(auth.RefreshToken, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	w := f.do(http.MethodPost, "/auth/refresh", "", "Authorization", "Bearer "+tok)
	if pair := decode[TokenPairResponse](t, w); w.Code != http.StatusOK || pair.AccessToken == "" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}

	ghost, _ := f.signer.Sign(auth.RefreshToken, uuid.NewString())
	w = f.do(http.MethodPost, "/auth/refresh", "", "Authorization", "Bearer "+ghost)
	eb := decode[ErrorResponse](t, w)
	if w.Code != http.StatusBadRequest || eb.Message != services.MsgAccessDenied {
		t.Fatalf("ghost user: %d %+v", w.Code, eb)
	}

	w = f.do(http.MethodPost, "/auth/refresh", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", w.Code)
	}
}

func TestAsUnauthorized(t *testing.T) {
	if c, _ := apperr.As(asUnauthorized(apperr.AccessDenied("x"))); c.Status() != http.StatusUnauthorized || c.Message() != "x" {
		t.Fatalf("access denied should become 401")
	}
	q := apperr.Query(fmt.Errorf("db down"))
	if asUnauthorized(q) != q {
		t.Fatalf("non-access conditions pass through")
	}
}

func TestRouteNotFound(t *testing.T) {
	if got := RouteNotFound(http.MethodGet, "/nope"); got != "Cannot GET /nope" {
		t.Fatalf("got %q", got)
	}
}
