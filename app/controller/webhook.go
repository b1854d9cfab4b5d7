package controller

import (
	"errors"
	"net/http"

	httpdto "github.com/upak-space/upak-auth/app/dto/http"
	"github.com/upak-space/upak-auth/app/metrics"
	"github.com/upak-space/upak-auth/app/service"
	"github.com/upak-space/upak-auth/app/webhook"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type webhookValidator interface {
	Validate(r *http.Request) (*webhook.Event, error)
}

type WebhookController struct {
	validator webhookValidator
	payments  service.PaymentHandler
}

func NewWebhookController(validator webhookValidator, payments service.PaymentHandler) *WebhookController {
	return &WebhookController{validator: validator, payments: payments}
}

func (c *WebhookController) Payment(ctx echo.Context) error {
	event, err := c.validator.Validate(ctx.Request())
	if err != nil {
		fields := logrus.Fields{"remote_ip": ctx.RealIP()}
		switch {
		case errors.Is(err, webhook.ErrMissingSignature):
			logrus.WithFields(fields).Warn("Webhook rejected: missing signature")
			metrics.WebhookEvent("missing_signature")
			return badRequest(ctx, "missing signature")
		case errors.Is(err, webhook.ErrInvalidSignature):
			logrus.WithFields(fields).Warn("Webhook rejected: invalid signature")
			metrics.WebhookEvent("invalid_signature")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid signature"})
		case errors.Is(err, webhook.ErrDuplicateEvent):
			logrus.WithFields(fields).Info("Webhook rejected: duplicate event")
			metrics.WebhookEvent("duplicate")
			return ctx.JSON(http.StatusConflict, httpdto.ErrorResponse{Error: "event already processed"})
		case errors.Is(err, webhook.ErrPayloadTooLarge):
			metrics.WebhookEvent("too_large")
			return ctx.JSON(http.StatusRequestEntityTooLarge, httpdto.ErrorResponse{Error: "payload too large"})
		case errors.Is(err, webhook.ErrMalformedPayload):
			logrus.WithFields(fields).Warn("Webhook rejected: malformed payload")
			metrics.WebhookEvent("malformed")
			return badRequest(ctx, "invalid webhook request")
		}
		return internalError(ctx, err, "Webhook validation failed", fields)
	}

	if err = c.payments.HandlePayment(ctx.Request().Context(), event.ID, event.Raw); err != nil {
		metrics.WebhookEvent("handler_error")
		return internalError(ctx, err, "Payment webhook handling failed", logrus.Fields{"event_id": event.ID})
	}

	logrus.WithField("event_id", event.ID).Info("Webhook processed")
	metrics.WebhookEvent("accepted")

	return ctx.JSON(http.StatusOK, httpdto.StatusResponse{Status: "ok"})
}
