package controller

import (
	"net/http"

	httpdto "github.com/upak-space/upak-auth/app/dto/http"

	"github.com/labstack/echo/v4"
)

func Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, httpdto.StatusResponse{Status: "ok"})
}
