package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/upak-space/upak-auth/app/entity"

	"github.com/sirupsen/logrus"
)

// ResetNotifier delivers a password reset token to its owner.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *entity.User, token string, expiresAt time.Time) error
}

// LogNotifier stands in for a mail transport. It records the delivery
// without the token itself.
type LogNotifier struct {
	frontendURL string
}

func NewLogNotifier(frontendURL string) *LogNotifier {
	return &LogNotifier{frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, user *entity.User, token string, expiresAt time.Time) error {
	logrus.WithFields(logrus.Fields{
		"user_id":           user.ID,
		"email":             user.Email,
		"username":          user.Username,
		"reset_url":         n.frontendURL + "/reset-password",
		"token_fingerprint": TokenFingerprint(token),
		"expires_at":        expiresAt.UTC().Format(time.RFC3339),
	}).Info("Password reset notification queued")
	return nil
}

// TokenFingerprint identifies a secret in logs without disclosing it.
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
