package service

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/sirupsen/logrus"
)

const (
	PaymentEventSucceeded  = "payment.succeeded"
	PaymentStatusSucceeded = "succeeded"
)

// PaymentNotification covers both the wrapped provider shape
// ({"event": ..., "object": {...}}) and a flat payment object.
type PaymentNotification struct {
	Event    string         `json:"event"`
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
	Object   *PaymentObject `json:"object"`
}

type PaymentObject struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

func (n *PaymentNotification) PaymentID() string {
	if n.Object != nil && n.Object.ID != "" {
		return n.Object.ID
	}
	return n.ID
}

func (n *PaymentNotification) PaymentStatus() string {
	if n.Object != nil && n.Object.Status != "" {
		return n.Object.Status
	}
	return n.Status
}

func (n *PaymentNotification) OrderID() string {
	if n.Object != nil {
		if id := metadataString(n.Object.Metadata, "order_id"); id != "" {
			return id
		}
	}
	return metadataString(n.Metadata, "order_id")
}

func (n *PaymentNotification) Succeeded() bool {
	return n.Event == PaymentEventSucceeded || n.PaymentStatus() == PaymentStatusSucceeded
}

func metadataString(metadata map[string]any, key string) string {
	switch v := metadata[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// PaymentHandler receives authenticated, first-seen payment webhooks.
type PaymentHandler interface {
	HandlePayment(ctx context.Context, eventID string, raw []byte) error
}

// LogPaymentHandler records paid orders. Order fulfilment happens outside
// this service.
type LogPaymentHandler struct{}

func NewLogPaymentHandler() *LogPaymentHandler {
	return &LogPaymentHandler{}
}

func (h *LogPaymentHandler) HandlePayment(_ context.Context, eventID string, raw []byte) error {
	var n PaymentNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}

	fields := logrus.Fields{
		"event_id":   eventID,
		"event":      n.Event,
		"payment_id": n.PaymentID(),
		"status":     n.PaymentStatus(),
	}
	if !n.Succeeded() {
		logrus.WithFields(fields).Info("Payment webhook received")
		return nil
	}

	orderID := n.OrderID()
	if orderID == "" {
		logrus.WithFields(fields).Warn("Successful payment without order_id")
		return nil
	}

	fields["order_id"] = orderID
	logrus.WithFields(fields).Info("Order paid")
	return nil
}
