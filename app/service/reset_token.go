package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"github.com/upak-space/upak-auth/app/entity"
	"github.com/upak-space/upak-auth/app/repository"
)

const resetTokenBytes = 32

type resetTokenRepository interface {
	Create(ctx context.Context, token *entity.PasswordResetToken) error
	FindByToken(ctx context.Context, token string) (*entity.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id uint64, now time.Time) (bool, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type ResetTokenStoreOption func(*ResetTokenStore)

func WithResetClock(now func() time.Time) ResetTokenStoreOption {
	return func(s *ResetTokenStore) {
		if now != nil {
			s.now = now
		}
	}
}

func WithResetEntropy(r io.Reader) ResetTokenStoreOption {
	return func(s *ResetTokenStore) {
		if r != nil {
			s.entropy = r
		}
	}
}

// ResetTokenStore issues and consumes single-use password reset tokens.
type ResetTokenStore struct {
	repo    resetTokenRepository
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
}

func NewResetTokenStore(repo resetTokenRepository, ttl time.Duration, opts ...ResetTokenStoreOption) *ResetTokenStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &ResetTokenStore{
		repo:    repo,
		ttl:     ttl,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ResetTokenStore) TTL() time.Duration {
	return s.ttl
}

// Create persists a fresh token for userID and returns it with its expiry.
func (s *ResetTokenStore) Create(ctx context.Context, userID uint64) (string, time.Time, error) {
	raw := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(s.entropy, raw); err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	token := &entity.PasswordResetToken{
		UserID:    userID,
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", time.Time{}, err
	}

	return token.Token, token.ExpiresAt, nil
}

// Consume marks token used and returns its owner. Of any number of
// concurrent callers presenting the same token, at most one succeeds.
func (s *ResetTokenStore) Consume(ctx context.Context, token string) (uint64, error) {
	return s.consume(ctx, s.repo, token)
}

// ConsumeTx is Consume on the caller's transaction.
func (s *ResetTokenStore) ConsumeTx(ctx context.Context, tx repository.DBTX, token string) (uint64, error) {
	return s.consume(ctx, repository.NewPasswordResetTokenRepository(tx), token)
}

// PurgeExpired deletes tokens that were used or expired before the cutoff.
func (s *ResetTokenStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteStale(ctx, before)
}

func (s *ResetTokenStore) consume(ctx context.Context, repo resetTokenRepository, token string) (uint64, error) {
	if token == "" {
		return 0, ErrInvalidResetToken
	}

	rt, err := repo.FindByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if rt == nil || !rt.IsValid(now) {
		return 0, ErrInvalidResetToken
	}

	claimed, err := repo.MarkUsed(ctx, rt.ID, now)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, ErrInvalidResetToken
	}

	return rt.UserID, nil
}
