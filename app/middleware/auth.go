package middleware

import (
	"errors"
	"net/http"

	httpdto "github.com/upak-space/upak-auth/app/dto/http"
	"github.com/upak-space/upak-auth/app/entity"
	"github.com/upak-space/upak-auth/app/ids"
	"github.com/upak-space/upak-auth/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// UserContextKey is where RequireAuth stores the resolved *entity.User.
const UserContextKey = "user"

type userResolver interface {
	Resolve(r *http.Request) (*entity.User, error)
}

type AuthMiddleware struct {
	gate userResolver
}

func NewAuthMiddleware(gate userResolver) *AuthMiddleware {
	return &AuthMiddleware{gate: gate}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := m.gate.Resolve(c.Request())
		switch {
		case err == nil:
		case errors.Is(err, service.ErrUnauthenticated):
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "not authenticated"})
		case errors.Is(err, service.ErrForbidden):
			return c.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "account is inactive"})
		default:
			errorID := ids.New()
			logrus.WithError(err).WithField("error_id", errorID).Error("Failed to resolve session")
			return c.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error", ErrorID: errorID})
		}

		c.Set(UserContextKey, user)
		return next(c)
	}
}

// CurrentUser returns the user stored by RequireAuth.
func CurrentUser(c echo.Context) (*entity.User, bool) {
	user, ok := c.Get(UserContextKey).(*entity.User)
	return user, ok && user != nil
}
