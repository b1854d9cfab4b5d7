package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/upak-space/upak-auth/app/entity"
	"github.com/upak-space/upak-auth/app/security"
	"github.com/upak-space/upak-auth/config"

	"github.com/sirupsen/logrus"
)

const revokedSessionPrefix = "session_revoked:"

type userFinder interface {
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
}

// revocationStore has the shape of webhook.KeyStore so the same Redis or
// in-process store can back the session denylist.
type revocationStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type GateOption func(*Gate)

// WithRevocationStore enables the session denylist checked on every request.
func WithRevocationStore(store revocationStore) GateOption {
	return func(g *Gate) {
		g.revoked = store
	}
}

func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// Gate resolves the caller of a request to an active user.
type Gate struct {
	tokens        *security.TokenService
	cookies       *security.CookieManager
	users         userFinder
	allowCookie   bool
	allowBearer   bool
	requireActive bool
	revoked       revocationStore
	now           func() time.Time
}

func NewGate(
	tokens *security.TokenService,
	cookies *security.CookieManager,
	users userFinder,
	cfg config.GateConfig,
	opts ...GateOption,
) *Gate {
	g := &Gate{
		tokens:        tokens,
		cookies:       cookies,
		users:         users,
		allowCookie:   cfg.AllowsCookie(),
		allowBearer:   cfg.AllowsBearer(),
		requireActive: cfg.RequireActive,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Token extracts the session token from the enabled sources. The cookie
// wins when both are present.
func (g *Gate) Token(r *http.Request) string {
	if g.allowCookie {
		if token := g.cookies.Read(r); token != "" {
			return token
		}
	}
	if g.allowBearer {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ""
}

// Resolve returns the user behind the request's session token.
func (g *Gate) Resolve(r *http.Request) (*entity.User, error) {
	token := g.Token(r)
	if token == "" {
		logrus.Debug("No session token on request")
		return nil, ErrUnauthenticated
	}

	ctx := r.Context()
	claims, err := g.tokens.Verify(token)
	if err != nil {
		logrus.WithError(err).Debug("Session token rejected")
		return nil, ErrUnauthenticated
	}
	if g.isRevoked(ctx, claims) {
		logrus.WithField("subject", claims.Subject).Info("Revoked session token presented")
		return nil, ErrUnauthenticated
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthenticated
	}
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		logrus.WithField("user_id", userID).Warn("Session token for missing user")
		return nil, ErrUnauthenticated
	}
	if g.requireActive && !user.IsActive {
		logrus.WithField("user_id", userID).Warn("Inactive user presented a valid session")
		return nil, ErrForbidden
	}

	return user, nil
}

// Revoke denylists token until it would have expired anyway. Invalid tokens
// and a gate without a revocation store are no-ops.
func (g *Gate) Revoke(ctx context.Context, token string) error {
	if g.revoked == nil || token == "" {
		return nil
	}
	claims, err := g.tokens.Verify(token)
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}

	ttl := claims.ExpiresAt.Time.Sub(g.now())
	if ttl <= 0 {
		return nil
	}
	_, err = g.revoked.SetNX(ctx, revokedSessionPrefix+claims.ID, ttl)
	return err
}

// isRevoked fails open: a denylist outage is logged and the token, which
// still carries a valid signature and expiry, is accepted.
func (g *Gate) isRevoked(ctx context.Context, claims *security.SessionClaims) bool {
	if g.revoked == nil || claims.ID == "" {
		return false
	}
	revoked, err := g.revoked.Exists(ctx, revokedSessionPrefix+claims.ID)
	if err != nil {
		logrus.WithError(err).Error("Session revocation lookup failed")
		return false
	}
	return revoked
}
