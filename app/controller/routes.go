package controller

import (
	"github.com/labstack/echo/v4"
)

type Router struct {
	Auth        *AuthController
	Webhook     *WebhookController
	RequireAuth echo.MiddlewareFunc
	RateLimit   echo.MiddlewareFunc
}

func (r *Router) Register(e *echo.Echo) {
	e.GET("/healthz", Health)

	auth := e.Group("/v2/auth")
	auth.POST("/register", r.Auth.Register)
	auth.POST("/login", r.Auth.Login, r.rateLimited()...)
	auth.POST("/logout", r.Auth.Logout)
	auth.POST("/forgot-password", r.Auth.ForgotPassword, r.rateLimited()...)
	auth.POST("/reset-password", r.Auth.ResetPassword)

	authProtected := auth.Group("")
	authProtected.Use(r.RequireAuth)
	authProtected.GET("/me", r.Auth.Me)
	authProtected.POST("/change-password", r.Auth.ChangePassword)

	e.POST("/payment-webhook", r.Webhook.Payment)
}

func (r *Router) rateLimited() []echo.MiddlewareFunc {
	if r.RateLimit == nil {
		return nil
	}
	return []echo.MiddlewareFunc{r.RateLimit}
}
