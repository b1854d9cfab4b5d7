package middleware

import (
	"net/http"
	"time"

	"github.com/upak-space/upak-auth/app/metrics"

	"github.com/labstack/echo/v4"
)

// Metrics records request counts and latency per route template. A panic is
// recorded as a 500 and re-raised for Recover.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics.RequestStarted()
		start := time.Now()

		defer func() {
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			if r := recover(); r != nil {
				metrics.RequestFinished(c.Request().Method, path, http.StatusInternalServerError, time.Since(start))
				panic(r)
			}
			metrics.RequestFinished(c.Request().Method, path, c.Response().Status, time.Since(start))
		}()

		if err = next(c); err != nil {
			c.Error(err)
		}
		return nil
	}
}
