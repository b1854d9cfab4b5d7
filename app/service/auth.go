package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/upak-space/upak-auth/app/dto"
	"github.com/upak-space/upak-auth/app/entity"
	"github.com/upak-space/upak-auth/app/repository"
	"github.com/upak-space/upak-auth/app/security"
	"github.com/upak-space/upak-auth/app/types"
	"github.com/upak-space/upak-auth/config"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

var (
	ErrUserExists         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrPasswordMismatch   = errors.New("incorrect old password")
	ErrSamePassword       = errors.New("new password must be different from old password")
	ErrWeakPassword       = errors.New("password does not meet policy requirements")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrForbidden          = errors.New("forbidden")
)

const mysqlDuplicateEntry = 1062

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	UpdatePassword(ctx context.Context, userID uint64, passwordHash string) error
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type sessionRevoker interface {
	Revoke(ctx context.Context, token string) error
}

type AuthService interface {
	Register(ctx context.Context, req *types.RegisterRequest) (*entity.User, error)
	Login(ctx context.Context, req *types.LoginRequest) (*dto.LoginResult, error)
	Logout(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, user *entity.User, req *types.ChangePasswordRequest) error
	ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error
}

type AsyncRunner func(task func())

type AuthServiceOption func(*authService)

type authService struct {
	db            txBeginner
	users         userRepository
	resetTokens   *ResetTokenStore
	hasher        *security.Hasher
	tokens        *security.TokenService
	revoker       sessionRevoker
	notifier      ResetNotifier
	policy        config.PasswordPolicy
	asyncRunner   AsyncRunner
	requireActive bool

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	db txBeginner,
	users userRepository,
	resetTokens *ResetTokenStore,
	hasher *security.Hasher,
	tokens *security.TokenService,
	policy config.PasswordPolicy,
	opts ...AuthServiceOption,
) AuthService {
	svc := &authService{
		db:          db,
		users:       users,
		resetTokens: resetTokens,
		hasher:      hasher,
		tokens:      tokens,
		policy:      policy,
		notifier:    NewLogNotifier(""),
		asyncRunner: func(task func()) {
			go task()
		},
		requireActive: true,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func WithAsyncRunner(runner AsyncRunner) AuthServiceOption {
	return func(s *authService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

func WithNotifier(notifier ResetNotifier) AuthServiceOption {
	return func(s *authService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithRequireActive controls whether Login refuses inactive accounts. It
// should match the gate's policy.
func WithRequireActive(required bool) AuthServiceOption {
	return func(s *authService) {
		s.requireActive = required
	}
}

// WithSessionRevoker makes Logout denylist the presented token.
func WithSessionRevoker(revoker sessionRevoker) AuthServiceOption {
	return func(s *authService) {
		s.revoker = revoker
	}
}

func (s *authService) Register(ctx context.Context, req *types.RegisterRequest) (*entity.User, error) {
	email := NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	existing, err = s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	if err = s.policy.Validate(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		Email:        email,
		Username:     username,
		PasswordHash: hashedPassword,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err = s.users.Create(ctx, user); err != nil {
		return nil, duplicateUserError(err)
	}

	return user, nil
}

func (s *authService) Login(ctx context.Context, req *types.LoginRequest) (*dto.LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Keep response time independent of whether the email exists.
		s.hasher.Verify(req.Password, s.placeholderHash())
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if s.requireActive && !user.IsActive {
		return nil, ErrAccountInactive
	}

	token, err := s.tokens.Issue(user.ID, 0)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResult{
		User:      user,
		Token:     token,
		ExpiresIn: int64(s.tokens.DefaultTTL().Seconds()),
	}, nil
}

func (s *authService) Logout(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.Revoke(ctx, token)
}

func (s *authService) ChangePassword(ctx context.Context, user *entity.User, req *types.ChangePasswordRequest) error {
	if !s.hasher.Verify(req.OldPassword, user.PasswordHash) {
		return ErrPasswordMismatch
	}
	if req.OldPassword == req.NewPassword {
		return ErrSamePassword
	}

	if err := s.policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	if err = s.users.UpdatePassword(ctx, user.ID, hashedPassword); err != nil {
		return err
	}
	user.PasswordHash = hashedPassword
	return nil
}

// ForgotPassword issues a reset token when the email belongs to a user. An
// unknown email is not an error so callers cannot probe for accounts.
func (s *authService) ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error {
	email := NormalizeEmail(req.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		logrus.WithField("email", email).Warn("Password reset requested for unknown email")
		return nil
	}

	token, expiresAt, err := s.resetTokens.Create(ctx, user.ID)
	if err != nil {
		return err
	}

	s.asyncRunner(func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if notifyErr := s.notifier.SendPasswordReset(notifyCtx, user, token, expiresAt); notifyErr != nil {
			logrus.WithError(notifyErr).WithField("user_id", user.ID).Error("failed to send password reset notification")
		}
	})

	logrus.WithField("user_id", user.ID).Info("Password reset token issued")
	return nil
}

// ResetPassword consumes the token and stores the new password in one
// transaction, so a failed update leaves the token usable.
func (s *authService) ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error {
	if err := s.policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	userID, err := s.resetTokens.ConsumeTx(ctx, tx, req.Token)
	if err != nil {
		return err
	}

	txUserRepo := repository.NewUserRepository(tx)
	user, err := txUserRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err = txUserRepo.UpdatePassword(ctx, user.ID, hashedPassword); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	logrus.WithField("user_id", user.ID).Info("Password reset completed")
	return nil
}

func (s *authService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(strconv.FormatInt(time.Now().UnixNano(), 36))
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

// duplicateUserError maps a unique-key violation from a concurrent
// registration onto the matching sentinel.
func duplicateUserError(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlDuplicateEntry {
		return err
	}
	if strings.Contains(mysqlErr.Message, "username") {
		return ErrUsernameTaken
	}
	return ErrUserExists
}
