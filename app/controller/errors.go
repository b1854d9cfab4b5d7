package controller

import (
	"net/http"

	httpdto "github.com/upak-space/upak-auth/app/dto/http"
	"github.com/upak-space/upak-auth/app/ids"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// internalError logs err under a fresh error id and answers with a generic
// 500 that carries only the id.
func internalError(ctx echo.Context, err error, msg string, fields logrus.Fields) error {
	errorID := ids.New()
	logrus.WithError(err).WithFields(fields).WithField("error_id", errorID).Error(msg)
	return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{
		Error:   "internal server error",
		ErrorID: errorID,
	})
}

func badRequest(ctx echo.Context, msg string) error {
	return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: msg})
}
