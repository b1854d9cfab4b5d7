package service_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/upak-space/upak-auth/app/entity"
	"github.com/upak-space/upak-auth/app/repository"
	"github.com/upak-space/upak-auth/app/security"
	"github.com/upak-space/upak-auth/app/service"
	"github.com/upak-space/upak-auth/app/types"
	"github.com/upak-space/upak-auth/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef-test"

	insertUserQuery             = `(?s)INSERT INTO users \(email, username, password_hash, is_active, is_verified, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?, \?\)`
	findByEmailQuery            = `(?s)SELECT id, email, username, password_hash, is_active, is_verified, created_at, updated_at\s+FROM users WHERE email = \?`
	findByUsernameQuery         = `(?s)SELECT id, email, username, password_hash, is_active, is_verified, created_at, updated_at\s+FROM users WHERE username = \?`
	findByIDQuery               = `(?s)SELECT id, email, username, password_hash, is_active, is_verified, created_at, updated_at\s+FROM users WHERE id = \?`
	updatePasswordQuery         = `(?s)UPDATE users SET password_hash = \?, updated_at = \? WHERE id = \?`
	insertResetTokenQuery       = `(?s)INSERT INTO password_reset_tokens \(user_id, token, expires_at, is_used, created_at\)\s+VALUES \(\?, \?, \?, \?, \?\)`
	findResetTokenQuery         = `(?s)SELECT id, user_id, token, expires_at, is_used, created_at\s+FROM password_reset_tokens WHERE token = \?`
	markResetTokenUsedQuery     = `(?s)UPDATE password_reset_tokens SET is_used = 1\s+WHERE id = \? AND is_used = 0 AND expires_at >= \?`
	deleteStaleResetTokensQuery = `(?s)DELETE FROM password_reset_tokens WHERE is_used = 1 OR expires_at < \?`
)

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	userColumns = []string{
		"id",
		"email",
		"username",
		"password_hash",
		"is_active",
		"is_verified",
		"created_at",
		"updated_at",
	}
	resetTokenColumns = []string{
		"id",
		"user_id",
		"token",
		"expires_at",
		"is_used",
		"created_at",
	}
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

type recordingNotifier struct {
	user      *entity.User
	token     string
	expiresAt time.Time
	err       error
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, user *entity.User, token string, expiresAt time.Time) error {
	n.user = user
	n.token = token
	n.expiresAt = expiresAt
	return n.err
}

type authFixture struct {
	svc      service.AuthService
	mock     sqlmock.Sqlmock
	hasher   *security.Hasher
	tokens   *security.TokenService
	notifier *recordingNotifier
}

func newAuthFixture(t *testing.T, opts ...service.AuthServiceOption) (*authFixture, func()) {
	t.Helper()

	db, mock, cleanup := newMockDB(t)
	hasher := security.NewHasher(bcrypt.MinCost)
	tokens := security.NewTokenService(testSecret, 7*24*time.Hour)
	notifier := &recordingNotifier{}
	resetStore := service.NewResetTokenStore(
		repository.NewPasswordResetTokenRepository(db),
		time.Hour,
		service.WithResetClock(fixedClock()),
	)

	opts = append([]service.AuthServiceOption{
		service.WithAsyncRunner(func(task func()) { task() }),
		service.WithNotifier(notifier),
	}, opts...)

	svc := service.NewAuthService(
		db,
		repository.NewUserRepository(db),
		resetStore,
		hasher,
		tokens,
		config.PasswordPolicy{MinLength: 8},
		opts...,
	)

	return &authFixture{svc: svc, mock: mock, hasher: hasher, tokens: tokens, notifier: notifier}, cleanup
}

func (f *authFixture) userRow(t *testing.T, id uint64, email, username, password string, active bool) *sqlmock.Rows {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	return sqlmock.NewRows(userColumns).AddRow(id, email, username, hash, active, false, fixedNow, fixedNow)
}

func TestRegister_Success(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").WillReturnRows(sqlmock.NewRows(userColumns))
	f.mock.ExpectQuery(findByUsernameQuery).WithArgs("alice").WillReturnRows(sqlmock.NewRows(userColumns))
	f.mock.ExpectExec(insertUserQuery).
		WithArgs("alice@example.com", "alice", sqlmock.AnyArg(), true, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user, err := f.svc.Register(context.Background(), &types.RegisterRequest{
		Email:    "  Alice@Example.com ",
		Username: "alice",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.ID != 1 || user.Email != "alice@example.com" || !user.IsActive || user.IsVerified {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "password123" || !f.hasher.Verify("password123", user.PasswordHash) {
		t.Fatalf("expected stored bcrypt hash")
	}

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegister_EmailTaken(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))

	_, err := f.svc.Register(context.Background(), &types.RegisterRequest{Email: "alice@example.com", Username: "alice2", Password: "password123"})
	if !errors.Is(err, service.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegister_UsernameTaken(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("bob@example.com").WillReturnRows(sqlmock.NewRows(userColumns))
	f.mock.ExpectQuery(findByUsernameQuery).WithArgs("alice").
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))

	_, err := f.svc.Register(context.Background(), &types.RegisterRequest{Email: "bob@example.com", Username: "alice", Password: "password123"})
	if !errors.Is(err, service.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegister_ConcurrentDuplicateMapsToSentinel(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("bob@example.com").WillReturnRows(sqlmock.NewRows(userColumns))
	f.mock.ExpectQuery(findByUsernameQuery).WithArgs("bob").WillReturnRows(sqlmock.NewRows(userColumns))
	f.mock.ExpectExec(insertUserQuery).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'bob' for key 'users.username'"})

	_, err := f.svc.Register(context.Background(), &types.RegisterRequest{Email: "bob@example.com", Username: "bob", Password: "password123"})
	if !errors.Is(err, service.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	svc := service.NewAuthService(
		db,
		repository.NewUserRepository(db),
		service.NewResetTokenStore(repository.NewPasswordResetTokenRepository(db), time.Hour),
		security.NewHasher(bcrypt.MinCost),
		security.NewTokenService(testSecret, time.Hour),
		config.PasswordPolicy{MinLength: 8, RequireNumber: true},
	)

	mock.ExpectQuery(findByEmailQuery).WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectQuery(findByUsernameQuery).WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := svc.Register(context.Background(), &types.RegisterRequest{Email: "bob@example.com", Username: "bob", Password: "passwordonly"})
	if !errors.Is(err, service.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))

	result, err := f.svc.Login(context.Background(), &types.LoginRequest{Email: "Alice@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := f.tokens.Verify(result.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "1" {
		t.Fatalf("expected subject 1, got %q", claims.Subject)
	}
	if result.ExpiresIn != int64((7 * 24 * time.Hour).Seconds()) {
		t.Fatalf("unexpected expires_in: %d", result.ExpiresIn)
	}
}

func TestLogin_Failures(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()
	ctx := context.Background()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("ghost@example.com").WillReturnRows(sqlmock.NewRows(userColumns))
	if _, err := f.svc.Login(ctx, &types.LoginRequest{Email: "ghost@example.com", Password: "password123"}); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))
	if _, err := f.svc.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "wrong-password"}); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("carol@example.com").
		WillReturnRows(f.userRow(t, 3, "carol@example.com", "carol", "password123", false))
	if _, err := f.svc.Login(ctx, &types.LoginRequest{Email: "carol@example.com", Password: "password123"}); !errors.Is(err, service.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogin_InactiveAllowedWhenNotRequired(t *testing.T) {
	f, cleanup := newAuthFixture(t, service.WithRequireActive(false))
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("carol@example.com").
		WillReturnRows(f.userRow(t, 3, "carol@example.com", "carol", "password123", false))

	result, err := f.svc.Login(context.Background(), &types.LoginRequest{Email: "carol@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("expected inactive login to succeed, got %v", err)
	}
	if result.User.ID != 3 || result.Token == "" {
		t.Fatalf("unexpected login result: %+v", result)
	}

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()
	ctx := context.Background()

	hash, _ := f.hasher.Hash("password123")
	user := &entity.User{ID: 1, Email: "alice@example.com", PasswordHash: hash, IsActive: true}

	if err := f.svc.ChangePassword(ctx, user, &types.ChangePasswordRequest{OldPassword: "nope-nope", NewPassword: "password456"}); !errors.Is(err, service.ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, user, &types.ChangePasswordRequest{OldPassword: "password123", NewPassword: "password123"}); !errors.Is(err, service.ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}

	f.mock.ExpectExec(updatePasswordQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := f.svc.ChangePassword(ctx, user, &types.ChangePasswordRequest{OldPassword: "password123", NewPassword: "password456"}); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if !f.hasher.Verify("password456", user.PasswordHash) {
		t.Fatalf("expected user hash to be updated")
	}

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForgotPassword_UnknownEmailSucceedsSilently(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("ghost@example.com").WillReturnRows(sqlmock.NewRows(userColumns))

	if err := f.svc.ForgotPassword(context.Background(), &types.ForgotPasswordRequest{Email: "ghost@example.com"}); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if f.notifier.user != nil {
		t.Fatalf("expected no notification for unknown email")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForgotPassword_NotifierFailureIsNotReturned(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()
	f.notifier.err = errors.New("smtp down")

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))
	f.mock.ExpectExec(insertResetTokenQuery).WillReturnResult(sqlmock.NewResult(1, 1))

	if err := f.svc.ForgotPassword(context.Background(), &types.ForgotPasswordRequest{Email: "alice@example.com"}); err != nil {
		t.Fatalf("expected success despite notifier failure, got %v", err)
	}
	if f.notifier.token == "" {
		t.Fatalf("expected notifier to be invoked")
	}
}

// Scenario: forgot password, reset with the issued token, old password stops
// working and the new one logs in.
func TestForgotAndResetPassword(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()
	ctx := context.Background()

	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))
	f.mock.ExpectExec(insertResetTokenQuery).
		WithArgs(uint64(1), sqlmock.AnyArg(), fixedNow.Add(time.Hour), false, fixedNow).
		WillReturnResult(sqlmock.NewResult(4, 1))

	if err := f.svc.ForgotPassword(ctx, &types.ForgotPasswordRequest{Email: "alice@example.com"}); err != nil {
		t.Fatalf("forgot password failed: %v", err)
	}
	token := f.notifier.token
	if token == "" || f.notifier.user.ID != 1 {
		t.Fatalf("expected token to be delivered to alice")
	}
	if !f.notifier.expiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("expected 1h expiry, got %v", f.notifier.expiresAt)
	}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(findResetTokenQuery).WithArgs(token).
		WillReturnRows(sqlmock.NewRows(resetTokenColumns).AddRow(uint64(4), uint64(1), token, fixedNow.Add(time.Hour), false, fixedNow))
	f.mock.ExpectExec(markResetTokenUsedQuery).WithArgs(uint64(4), fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(findByIDQuery).WithArgs(uint64(1)).
		WillReturnRows(f.userRow(t, 1, "alice@example.com", "alice", "password123", true))

	var newHash string
	f.mock.ExpectExec(updatePasswordQuery).
		WithArgs(hashCapture{dst: &newHash}, sqlmock.AnyArg(), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	if err := f.svc.ResetPassword(ctx, &types.ResetPasswordRequest{Token: token, NewPassword: "password456"}); err != nil {
		t.Fatalf("reset password failed: %v", err)
	}
	if f.hasher.Verify("password123", newHash) || !f.hasher.Verify("password456", newHash) {
		t.Fatalf("expected stored hash to match only the new password")
	}

	newRow := sqlmock.NewRows(userColumns).AddRow(uint64(1), "alice@example.com", "alice", newHash, true, false, fixedNow, fixedNow)
	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").WillReturnRows(newRow)
	if _, err := f.svc.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "password123"}); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}

	newRow = sqlmock.NewRows(userColumns).AddRow(uint64(1), "alice@example.com", "alice", newHash, true, false, fixedNow, fixedNow)
	f.mock.ExpectQuery(findByEmailQuery).WithArgs("alice@example.com").WillReturnRows(newRow)
	if _, err := f.svc.Login(ctx, &types.LoginRequest{Email: "alice@example.com", Password: "password456"}); err != nil {
		t.Fatalf("expected new password to log in, got %v", err)
	}

	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetPassword_InvalidTokenRollsBack(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(findResetTokenQuery).WithArgs("bogus").WillReturnRows(sqlmock.NewRows(resetTokenColumns))
	f.mock.ExpectRollback()

	err := f.svc.ResetPassword(context.Background(), &types.ResetPasswordRequest{Token: "bogus", NewPassword: "password456"})
	if !errors.Is(err, service.ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetPassword_UserMissing(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(findResetTokenQuery).WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(resetTokenColumns).AddRow(uint64(4), uint64(77), "tok", fixedNow.Add(time.Hour), false, fixedNow))
	f.mock.ExpectExec(markResetTokenUsedQuery).WithArgs(uint64(4), fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery(findByIDQuery).WithArgs(uint64(77)).WillReturnRows(sqlmock.NewRows(userColumns))
	f.mock.ExpectRollback()

	err := f.svc.ResetPassword(context.Background(), &types.ResetPasswordRequest{Token: "tok", NewPassword: "password456"})
	if !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type stubRevoker struct {
	token string
}

func (r *stubRevoker) Revoke(_ context.Context, token string) error {
	r.token = token
	return nil
}

func TestLogout(t *testing.T) {
	f, cleanup := newAuthFixture(t)
	defer cleanup()
	if err := f.svc.Logout(context.Background(), "anything"); err != nil {
		t.Fatalf("logout without revoker failed: %v", err)
	}

	revoker := &stubRevoker{}
	f, cleanup2 := newAuthFixture(t, service.WithSessionRevoker(revoker))
	defer cleanup2()
	if err := f.svc.Logout(context.Background(), "tok"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if revoker.token != "tok" {
		t.Fatalf("expected token to be revoked, got %q", revoker.token)
	}
}

// hashCapture is a sqlmock.Argument that records the value it matches.
type hashCapture struct {
	dst *string
}

func (c hashCapture) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.dst = s
	}
	return ok
}
