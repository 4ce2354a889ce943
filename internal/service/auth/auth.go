package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalDesk/pkg/cache"
	xhttp "SignalDesk/pkg/http"
	"SignalDesk/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var (
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned for malformed, mis-signed or expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenRevoked is returned for tokens on the revocation list.
	ErrTokenRevoked = errors.New("auth: token revoked")
)

const (
	claimsContextKey  = "auth_claims"
	defaultSessionTTL = 24 * time.Hour
)

// Claims carries the identity embedded in an access token.
type Claims struct {
	jwt.RegisteredClaims
	Plan string `json:"plan,omitempty"`
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Service validates HMAC-signed access tokens and tracks sessions in Redis.
type Service struct {
	secret     []byte
	sessions   cache.Service
	sessionTTL time.Duration
	logger     *logger.Logger
}

// New creates an auth service. The signing secret must be non-empty.
func New(secret string, sessions cache.Service, sessionTTL time.Duration, log *logger.Logger) (*Service, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Service{
		secret:     []byte(secret),
		sessions:   sessions,
		sessionTTL: sessionTTL,
		logger:     log,
	}, nil
}

// Authenticate parses and verifies a token, rejects revoked ones, and
// refreshes the subject's session record.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.sessions != nil {
		if claims.ID != "" {
			revoked, err := s.sessions.Exists(ctx, revocationKey(claims.ID))
			if err != nil {
				s.logger.Warn("auth: revocation check failed", logger.Error(err))
			} else if revoked {
				return nil, ErrTokenRevoked
			}
		}
		if claims.Subject != "" {
			if err := s.sessions.Set(ctx, sessionKey(claims.Subject), time.Now().UnixMilli(), s.sessionTTL); err != nil {
				s.logger.Debug("auth: session touch failed", logger.Error(err))
			}
		}
	}

	return claims, nil
}

// Revoke puts a token id on the revocation list until the given expiry.
// Expired markers are dropped by Redis, so the list stays bounded.
func (s *Service) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if s.sessions == nil {
		return errors.New("auth: no session store configured")
	}
	if tokenID == "" {
		return errors.New("auth: empty token id")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.sessions.Set(ctx, revocationKey(tokenID), 1, ttl)
}

// HasActiveSession reports whether a subject touched the API within the
// session TTL.
func (s *Service) HasActiveSession(ctx context.Context, userID string) (bool, error) {
	if s.sessions == nil {
		return false, nil
	}
	return s.sessions.Exists(ctx, sessionKey(userID))
}

func revocationKey(tokenID string) string { return "auth:revoked:" + tokenID }
func sessionKey(userID string) string     { return "auth:session:" + userID }

// TokenFromRequest extracts a bearer token from the Authorization header.
// Browser EventSource clients cannot set headers, so the token may also
// arrive as a query parameter.
func TokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token != header {
			return strings.TrimSpace(token)
		}
	}
	return c.QueryParam("token")
}

// Middleware authenticates every request on the wrapped routes and stores
// the claims in the request context. Failures stop the chain with a 401.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c)
			claims, err := s.Authenticate(c.Request().Context(), token)
			if err != nil {
				s.logger.Debug("auth: rejected request",
					logger.String("path", c.Path()),
					logger.Error(err))
				return xhttp.UnauthorizedResponse(c, authErrorMessage(err))
			}
			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(claimsContextKey).(*Claims)
	return claims, ok
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Authorization required"
	case errors.Is(err, ErrTokenRevoked):
		return "Token has been revoked"
	default:
		return "Token is invalid"
	}
}
