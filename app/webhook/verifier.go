package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrStaleTimestamp    = errors.New("webhook timestamp outside tolerance")
	ErrBadTimestamp      = errors.New("webhook timestamp is not a unix time")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

const DefaultTolerance = 300 * time.Second

type VerifierOption func(*Verifier)

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verifier authenticates webhook payloads signed with a shared secret using
// hex encoded HMAC-SHA256 over the raw request body.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration, opts ...VerifierOption) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sign returns the hex HMAC-SHA256 of payload.
func (v *Verifier) Sign(payload []byte) string {
	return hex.EncodeToString(v.mac(payload))
}

// Verify reports whether signature authenticates payload and, when a
// timestamp is supplied, whether it is within the tolerance window.
func (v *Verifier) Verify(payload []byte, signature, timestamp string) bool {
	return v.Check(payload, signature, timestamp) == nil
}

// Check is Verify with the reason for rejection.
func (v *Verifier) Check(payload []byte, signature, timestamp string) error {
	if timestamp != "" {
		sent, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
		if err != nil {
			return ErrBadTimestamp
		}
		skew := v.now().Sub(time.Unix(sent, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return ErrStaleTimestamp
		}
	}

	provided, err := hex.DecodeString(normalizeSignature(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(v.mac(payload), provided) {
		return ErrSignatureMismatch
	}
	return nil
}

func (v *Verifier) mac(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func normalizeSignature(signature string) string {
	signature = strings.TrimSpace(signature)
	if idx := strings.Index(signature, "="); idx != -1 && strings.EqualFold(signature[:idx], "sha256") {
		signature = signature[idx+1:]
	}
	return strings.ToLower(signature)
}
