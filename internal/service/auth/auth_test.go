package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalDesk/pkg/cache"
	"SignalDesk/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const testSecret = "unit-test-secret"

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fakeSessions struct {
	data map[string]struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: make(map[string]struct{})}
}

func (f *fakeSessions) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.data[key] = struct{}{}
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, key string, dest interface{}) error {
	if _, ok := f.data[key]; !ok {
		return cache.ErrCacheMiss
	}
	return nil
}

func (f *fakeSessions) DeleteByPattern(ctx context.Context, pattern string) error { return nil }

func (f *fakeSessions) Exists(ctx context.Context, keys ...string) (bool, error) {
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSessions) MSet(ctx context.Context, values map[string]interface{}, expiration time.Duration) error {
	return nil
}

func (f *fakeSessions) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeSessions) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeSessions) Unlock(ctx context.Context, key string) error { return nil }

func signToken(t *testing.T, secret, subject, id string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Plan: "pro",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestService(t *testing.T, sessions cache.Service) *Service {
	t.Helper()
	s, err := New(testSecret, sessions, time.Hour, testLogger(t))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func TestAuthenticateValidToken(t *testing.T) {
	sessions := newFakeSessions()
	s := newTestService(t, sessions)

	token := signToken(t, testSecret, "user-1", "jti-1", time.Hour)
	claims, err := s.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.UserID() != "user-1" {
		t.Fatalf("subject = %q, want user-1", claims.UserID())
	}
	if claims.Plan != "pro" {
		t.Fatalf("plan = %q, want pro", claims.Plan)
	}
	if _, ok := sessions.data[sessionKey("user-1")]; !ok {
		t.Fatalf("expected session record for user-1")
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	s := newTestService(t, newFakeSessions())
	ctx := context.Background()

	if _, err := s.Authenticate(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty token: err = %v, want ErrMissingToken", err)
	}
	if _, err := s.Authenticate(ctx, "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: err = %v, want ErrInvalidToken", err)
	}

	wrongKey := signToken(t, "other-secret", "user-1", "jti-1", time.Hour)
	if _, err := s.Authenticate(ctx, wrongKey); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: err = %v, want ErrInvalidToken", err)
	}

	expired := signToken(t, testSecret, "user-1", "jti-1", -time.Minute)
	if _, err := s.Authenticate(ctx, expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateRevokedToken(t *testing.T) {
	s := newTestService(t, newFakeSessions())
	ctx := context.Background()

	token := signToken(t, testSecret, "user-1", "jti-revoked", time.Hour)
	if _, err := s.Authenticate(ctx, token); err != nil {
		t.Fatalf("authenticate before revoke: %v", err)
	}

	if err := s.Revoke(ctx, "jti-revoked", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Authenticate(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("after revoke: err = %v, want ErrTokenRevoked", err)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New("", nil, 0, testLogger(t)); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestTokenFromRequest(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer header-token")
	c := e.NewContext(req, httptest.NewRecorder())
	if got := TokenFromRequest(c); got != "header-token" {
		t.Fatalf("header token = %q, want header-token", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream?token=query-token", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if got := TokenFromRequest(c); got != "query-token" {
		t.Fatalf("query token = %q, want query-token", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set(echo.HeaderAuthorization, "Basic abc123")
	c = e.NewContext(req, httptest.NewRecorder())
	if got := TokenFromRequest(c); got != "" {
		t.Fatalf("non-bearer header token = %q, want empty", got)
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t, newFakeSessions())
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			return fmt.Errorf("claims missing from context")
		}
		return c.String(http.StatusOK, claims.UserID())
	}, s.Middleware())

	// No token.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 envelope", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":401`) {
		t.Fatalf("expected 401 envelope, got %s", rec.Body.String())
	}

	// Valid token.
	token := signToken(t, testSecret, "user-7", "jti-7", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "user-7" {
		t.Fatalf("body = %q, want user-7", rec.Body.String())
	}
}
