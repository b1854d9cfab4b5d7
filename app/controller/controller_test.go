package controller_test

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/upak-space/upak-auth/app/controller"
	"github.com/upak-space/upak-auth/app/middleware"
	"github.com/upak-space/upak-auth/app/repository"
	"github.com/upak-space/upak-auth/app/security"
	"github.com/upak-space/upak-auth/app/service"
	"github.com/upak-space/upak-auth/app/webhook"
	"github.com/upak-space/upak-auth/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret        = "0123456789abcdef0123456789abcdef-test"
	testWebhookSecret = "whsec_0123456789abcdef0123456789abcdef"

	insertUserQuery     = `(?s)INSERT INTO users \(email, username, password_hash, is_active, is_verified, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?, \?\)`
	findByEmailQuery    = `(?s)SELECT id, email, username, password_hash, is_active, is_verified, created_at, updated_at\s+FROM users WHERE email = \?`
	findByUsernameQuery = `(?s)SELECT id, email, username, password_hash, is_active, is_verified, created_at, updated_at\s+FROM users WHERE username = \?`
	findByIDQuery       = `(?s)SELECT id, email, username, password_hash, is_active, is_verified, created_at, updated_at\s+FROM users WHERE id = \?`
	updatePasswordQuery = `(?s)UPDATE users SET password_hash = \?, updated_at = \? WHERE id = \?`
)

var (
	createdAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	userColumns = []string{
		"id",
		"email",
		"username",
		"password_hash",
		"is_active",
		"is_verified",
		"created_at",
		"updated_at",
	}
)

type testServer struct {
	e        *echo.Echo
	mock     sqlmock.Sqlmock
	hasher   *security.Hasher
	verifier *webhook.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hasher := security.NewHasher(bcrypt.MinCost)
	tokens := security.NewTokenService(testSecret, 7*24*time.Hour)
	cookies := security.NewCookieManager("access_token", "", false, tokens.DefaultTTL())
	userRepo := repository.NewUserRepository(db)

	revocations := webhook.NewMemoryStore(100)
	gate := service.NewGate(tokens, cookies, userRepo, config.GateConfig{
		TokenSources:  []string{config.TokenSourceCookie, config.TokenSourceBearer},
		RequireActive: true,
	}, service.WithRevocationStore(revocations))

	authService := service.NewAuthService(
		db,
		userRepo,
		service.NewResetTokenStore(repository.NewPasswordResetTokenRepository(db), time.Hour),
		hasher,
		tokens,
		config.PasswordPolicy{MinLength: 8},
		service.WithAsyncRunner(func(task func()) { task() }),
		service.WithSessionRevoker(gate),
	)

	verifier := webhook.NewVerifier(testWebhookSecret, 300*time.Second)
	validator := webhook.NewValidator(verifier, webhook.NewReplayGuard(nil, webhook.NewMemoryStore(100)), webhook.ValidatorConfig{})

	e := echo.New()
	router := &controller.Router{
		Auth:        controller.NewAuthController(authService, gate, cookies),
		Webhook:     controller.NewWebhookController(validator, service.NewLogPaymentHandler()),
		RequireAuth: middleware.NewAuthMiddleware(gate).RequireAuth,
	}
	router.Register(e)

	return &testServer{e: e, mock: mock, hasher: hasher, verifier: verifier}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "access_token" {
			return c
		}
	}
	return nil
}

// capture is a sqlmock.Argument that records the value it matches.
type capture struct {
	dst *string
}

func (c capture) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.dst = s
	}
	return ok
}

func (s *testServer) userRow(id uint64, email, username, hash string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(userColumns).AddRow(id, email, username, hash, active, false, createdAt, createdAt)
}

func (s *testServer) hash(t *testing.T, password string) string {
	t.Helper()
	h, err := s.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return h
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
