package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrDuplicateEvent   = errors.New("webhook event already processed")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrPayloadTooLarge  = errors.New("webhook payload too large")
)

const DefaultMaxBodyBytes int64 = 1 << 20

// Event is an authenticated, first-seen webhook delivery.
type Event struct {
	ID      string
	Raw     []byte
	Payload map[string]any
}

type ValidatorConfig struct {
	Provider     string
	EventTTL     time.Duration
	MaxBodyBytes int64
}

// Validator authenticates inbound webhook requests and rejects replays.
type Validator struct {
	verifier     *Verifier
	replay       *ReplayGuard
	eventTTL     time.Duration
	maxBodyBytes int64

	signatureHeader string
	timestampHeader string
	eventIDHeader   string
}

func NewValidator(verifier *Verifier, replay *ReplayGuard, cfg ValidatorConfig) *Validator {
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = "Yookassa"
	}
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = DefaultEventTTL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Validator{
		verifier:        verifier,
		replay:          replay,
		eventTTL:        cfg.EventTTL,
		maxBodyBytes:    cfg.MaxBodyBytes,
		signatureHeader: "X-" + provider + "-Signature",
		timestampHeader: "X-" + provider + "-Timestamp",
		eventIDHeader:   "X-" + provider + "-Event-Id",
	}
}

func (v *Validator) SignatureHeader() string { return v.signatureHeader }
func (v *Validator) TimestampHeader() string { return v.timestampHeader }
func (v *Validator) EventIDHeader() string   { return v.eventIDHeader }

// Validate reads the request body and returns the decoded event. The event
// id is recorded as processed before the payload is decoded, so a replay of
// a malformed delivery is still rejected as a duplicate.
func (v *Validator) Validate(r *http.Request) (*Event, error) {
	signature := r.Header.Get(v.signatureHeader)
	if strings.TrimSpace(signature) == "" {
		return nil, ErrMissingSignature
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBodyBytes+1))
	if err != nil {
		return nil, ErrMalformedPayload
	}
	if int64(len(body)) > v.maxBodyBytes {
		return nil, ErrPayloadTooLarge
	}
	// Leave the body readable for anything downstream.
	r.Body = io.NopCloser(bytes.NewReader(body))

	timestamp := r.Header.Get(v.timestampHeader)
	if err := v.verifier.Check(body, signature, timestamp); err != nil {
		logrus.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("Webhook signature rejected")
		return nil, ErrInvalidSignature
	}

	eventID := strings.TrimSpace(r.Header.Get(v.eventIDHeader))
	if eventID != "" && !v.replay.Claim(r.Context(), eventID, v.eventTTL) {
		return nil, ErrDuplicateEvent
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, ErrMalformedPayload
	}

	return &Event{ID: eventID, Raw: body, Payload: payload}, nil
}
