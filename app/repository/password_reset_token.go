package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/upak-space/upak-auth/app/entity"
)

type PasswordResetTokenRepository struct {
	db DBTX
}

func NewPasswordResetTokenRepository(db DBTX) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{db: db}
}

func (r *PasswordResetTokenRepository) Create(ctx context.Context, token *entity.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (user_id, token, expires_at, is_used, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		token.UserID,
		token.Token,
		token.ExpiresAt,
		token.IsUsed,
		token.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	token.ID = uint64(id)
	return nil
}

func (r *PasswordResetTokenRepository) FindByToken(ctx context.Context, token string) (*entity.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, is_used, created_at
		FROM password_reset_tokens WHERE token = ?
	`
	rt := &entity.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.ExpiresAt,
		&rt.IsUsed,
		&rt.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// MarkUsed flips is_used for a token that is still unused and unexpired at
// now. It reports false when another caller consumed the token first or the
// token expired in between; the conditional update is what makes
// consumption exactly-once.
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE password_reset_tokens SET is_used = 1
		WHERE id = ? AND is_used = 0 AND expires_at >= ?
	`
	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteStale removes used tokens and tokens that expired before cutoff.
func (r *PasswordResetTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE is_used = 1 OR expires_at < ?`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
