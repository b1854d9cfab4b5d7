package controller

import (
	"errors"
	"net/http"

	httpdto "github.com/upak-space/upak-auth/app/dto/http"
	"github.com/upak-space/upak-auth/app/metrics"
	"github.com/upak-space/upak-auth/app/middleware"
	"github.com/upak-space/upak-auth/app/security"
	"github.com/upak-space/upak-auth/app/service"
	"github.com/upak-space/upak-auth/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const forgotPasswordMessage = "If the email exists, a reset link has been sent"

type sessionTokenReader interface {
	Token(r *http.Request) string
}

type AuthController struct {
	authService service.AuthService
	sessions    sessionTokenReader
	cookies     *security.CookieManager
}

func NewAuthController(authService service.AuthService, sessions sessionTokenReader, cookies *security.CookieManager) *AuthController {
	return &AuthController{
		authService: authService,
		sessions:    sessions,
		cookies:     cookies,
	}
}

func (c *AuthController) Register(ctx echo.Context) error {
	req, err := types.NewRegisterRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return badRequest(ctx, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Register validation failed")
		return badRequest(ctx, err.Error())
	}

	user, err := c.authService.Register(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserExists):
			logrus.WithField("email", req.Email).Warn("Register failed: email already registered")
			metrics.AuthEvent("register", "conflict")
			return badRequest(ctx, "Email already registered")
		case errors.Is(err, service.ErrUsernameTaken):
			logrus.WithField("username", req.Username).Warn("Register failed: username taken")
			metrics.AuthEvent("register", "conflict")
			return badRequest(ctx, "Username already taken")
		case errors.Is(err, service.ErrWeakPassword):
			logrus.WithField("email", req.Email).Debug("Register failed: weak password")
			return badRequest(ctx, err.Error())
		}
		return internalError(ctx, err, "Register failed", logrus.Fields{"email": req.Email})
	}

	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("User registered")
	metrics.AuthEvent("register", "success")

	return ctx.JSON(http.StatusCreated, httpdto.NewUserResponse(user))
}

func (c *AuthController) Login(ctx echo.Context) error {
	req, err := types.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return badRequest(ctx, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		return badRequest(ctx, err.Error())
	}

	result, err := c.authService.Login(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			logrus.WithFields(logrus.Fields{
				"email":     req.Email,
				"remote_ip": ctx.RealIP(),
			}).Warn("Login failed: invalid credentials")
			metrics.AuthEvent("login", "invalid_credentials")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "Incorrect email or password"})
		case errors.Is(err, service.ErrAccountInactive):
			logrus.WithField("email", req.Email).Warn("Login failed: account inactive")
			metrics.AuthEvent("login", "inactive")
			return ctx.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "Account is inactive"})
		}
		return internalError(ctx, err, "Login failed", logrus.Fields{"email": req.Email})
	}

	c.cookies.Attach(ctx.Response(), result.Token)

	logrus.WithField("user_id", result.User.ID).Info("User logged in")
	metrics.AuthEvent("login", "success")

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "Successfully logged in"})
}

// Logout clears the session cookie whether or not a session was present.
func (c *AuthController) Logout(ctx echo.Context) error {
	token := c.sessions.Token(ctx.Request())
	if token != "" {
		if err := c.authService.Logout(ctx.Request().Context(), token); err != nil {
			logrus.WithError(err).Error("Failed to revoke session on logout")
		}
	}

	c.cookies.Clear(ctx.Response())
	metrics.AuthEvent("logout", "success")

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "Successfully logged out"})
}

func (c *AuthController) Me(ctx echo.Context) error {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "not authenticated"})
	}
	return ctx.JSON(http.StatusOK, httpdto.NewUserResponse(user))
}

func (c *AuthController) ChangePassword(ctx echo.Context) error {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "not authenticated"})
	}

	req, err := types.NewChangePasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind change password request")
		return badRequest(ctx, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		return badRequest(ctx, err.Error())
	}

	if err = c.authService.ChangePassword(ctx.Request().Context(), user, req); err != nil {
		switch {
		case errors.Is(err, service.ErrPasswordMismatch):
			logrus.WithField("user_id", user.ID).Warn("Change password failed: incorrect old password")
			metrics.AuthEvent("change_password", "mismatch")
			return badRequest(ctx, "Incorrect old password")
		case errors.Is(err, service.ErrSamePassword):
			return badRequest(ctx, "New password must be different from old password")
		case errors.Is(err, service.ErrWeakPassword):
			return badRequest(ctx, err.Error())
		}
		return internalError(ctx, err, "Change password failed", logrus.Fields{"user_id": user.ID})
	}

	logrus.WithField("user_id", user.ID).Info("Password changed")
	metrics.AuthEvent("change_password", "success")

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "Password successfully changed"})
}

func (c *AuthController) ForgotPassword(ctx echo.Context) error {
	req, err := types.NewForgotPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind forgot password request")
		return badRequest(ctx, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		return badRequest(ctx, err.Error())
	}

	if err = c.authService.ForgotPassword(ctx.Request().Context(), req); err != nil {
		return internalError(ctx, err, "Forgot password failed", logrus.Fields{"email": req.Email})
	}
	metrics.AuthEvent("forgot_password", "accepted")

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: forgotPasswordMessage})
}

func (c *AuthController) ResetPassword(ctx echo.Context) error {
	req, err := types.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind reset password request")
		return badRequest(ctx, "invalid request body")
	}

	if err = req.Validate(); err != nil {
		return badRequest(ctx, err.Error())
	}

	if err = c.authService.ResetPassword(ctx.Request().Context(), req); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResetToken):
			logrus.WithField("token_fingerprint", service.TokenFingerprint(req.Token)).Warn("Reset password failed: invalid or expired token")
			metrics.AuthEvent("reset_password", "invalid_token")
			return badRequest(ctx, "Invalid or expired reset token")
		case errors.Is(err, service.ErrUserNotFound):
			logrus.WithField("token_fingerprint", service.TokenFingerprint(req.Token)).Warn("Reset password failed: user not found")
			return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "User not found"})
		case errors.Is(err, service.ErrWeakPassword):
			return badRequest(ctx, err.Error())
		}
		return internalError(ctx, err, "Reset password failed", nil)
	}
	metrics.AuthEvent("reset_password", "success")

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "Password successfully reset"})
}
