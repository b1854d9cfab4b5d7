package webhook_test

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/upak-space/upak-auth/app/webhook"
)

const testSecret = "whsec_0123456789abcdef0123456789abcdef"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newVerifier() *webhook.Verifier {
	return webhook.NewVerifier(testSecret, 300*time.Second, webhook.WithVerifierClock(func() time.Time { return fixedNow }))
}

func unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	v := newVerifier()
	payload := []byte(`{"event":"payment.succeeded"}`)
	sig := v.Sign(payload)

	assert.True(t, v.Verify(payload, sig, unix(fixedNow)))
	assert.True(t, v.Verify(payload, sig, ""), "timestamp is optional")
	assert.True(t, v.Verify(payload, "sha256="+sig, ""), "prefixed signature")
	assert.True(t, v.Verify(payload, strings.ToUpper(sig), ""), "upper-case hex")
}

func TestVerifier_RejectsTamperedPayload(t *testing.T) {
	v := newVerifier()
	sig := v.Sign([]byte(`{"amount":"10.00"}`))

	assert.False(t, v.Verify([]byte(`{"amount":"99.00"}`), sig, unix(fixedNow)))
	assert.False(t, v.Verify([]byte(`{"amount":"10.00"}`), "not-hex", unix(fixedNow)))
	assert.False(t, v.Verify([]byte(`{"amount":"10.00"}`), "", unix(fixedNow)))
}

func TestVerifier_RejectsOtherSecret(t *testing.T) {
	other := webhook.NewVerifier("another-secret-0123456789abcdef0123", 0)
	payload := []byte(`{}`)

	assert.False(t, newVerifier().Verify(payload, other.Sign(payload), ""))
}

func TestVerifier_TimestampWindow(t *testing.T) {
	v := newVerifier()
	payload := []byte(`{}`)
	sig := v.Sign(payload)

	assert.True(t, v.Verify(payload, sig, unix(fixedNow.Add(-300*time.Second))))
	assert.True(t, v.Verify(payload, sig, unix(fixedNow.Add(300*time.Second))))
	assert.ErrorIs(t, v.Check(payload, sig, unix(fixedNow.Add(-301*time.Second))), webhook.ErrStaleTimestamp)
	assert.ErrorIs(t, v.Check(payload, sig, unix(fixedNow.Add(301*time.Second))), webhook.ErrStaleTimestamp)
	assert.ErrorIs(t, v.Check(payload, sig, "yesterday"), webhook.ErrBadTimestamp)
}
