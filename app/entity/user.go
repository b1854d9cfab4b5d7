package entity

import "time"

type User struct {
	ID           uint64
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PasswordResetToken is a single-use, time-limited credential for resetting
// the password of UserID.
type PasswordResetToken struct {
	ID        uint64
	UserID    uint64
	Token     string
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}

// IsValid reports whether the token is unused and not past its expiry at now.
func (t *PasswordResetToken) IsValid(now time.Time) bool {
	return !t.IsUsed && !now.After(t.ExpiresAt)
}
