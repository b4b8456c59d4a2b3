package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweetcrumb/accounts/internal/auth"
	"github.com/sweetcrumb/accounts/internal/logger"
	"github.com/sweetcrumb/accounts/internal/store"
	"github.com/sweetcrumb/accounts/types"
)

const otpMailSubject = "Password Reset OTP"

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (types.Account, error)
	FindByID(ctx context.Context, id string) (types.Account, error)
	Insert(ctx context.Context, account types.Account) (types.Account, error)
	Update(ctx context.Context, account types.Account) (types.Account, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// PasswordHasher hashes and checks account passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// Notifier delivers outbound mail.
type Notifier interface {
	Send(ctx context.Context, mail types.Mail) error
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Email      string
	Username   string
	Password   string
	ProfilePic *types.ProfilePic
}

// LoginResult is a freshly issued token and the account it identifies.
type LoginResult struct {
	Token   string
	Account types.Account
}

// ProfileUpdate lists the profile fields to change. Nil fields are kept.
type ProfileUpdate struct {
	Username   *string
	ProfilePic *types.ProfilePic
}

// ProfileUpdateResult is the updated account and the picture it replaced.
type ProfileUpdateResult struct {
	Account  types.Account
	Replaced *types.ProfilePic
}

// AuthService encapsulates the account credential lifecycle.
type AuthService struct {
	repo     AccountRepository
	hasher   PasswordHasher
	tokens   *auth.TokenService
	otps     *auth.OTPGenerator
	notifier Notifier
	now      func() time.Time
}

// Option customizes an AuthService.
type Option func(*AuthService)

// WithClock sets the clock used to evaluate reset code expiry.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAuthService(
	repo AccountRepository,
	hasher PasswordHasher,
	tokens *auth.TokenService,
	otps *auth.OTPGenerator,
	notifier Notifier,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		otps:     otps,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account with a hashed password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.Account, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if email == "" || username == "" || in.Password == "" {
		return types.Account{}, ErrMissingFields
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return types.Account{}, ErrPasswordTooLong
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return types.Account{}, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Account{}, dependency(err)
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.repo.Insert(ctx, types.Account{
		Email:        email,
		Username:     username,
		PasswordHash: hashed,
		ProfilePic:   in.ProfilePic,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return types.Account{}, ErrDuplicateEmail
		}
		return types.Account{}, dependency(err)
	}

	logger.FromContext(ctx).InfoContext(ctx, "account registered", "account_id", account.ID)
	return account, nil
}

// Login checks credentials and issues a bearer token.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrMissingFields
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrUnknownEmail
		}
		return LoginResult{}, dependency(err)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return LoginResult{}, ErrBadPassword
	}

	token, err := s.tokens.Issue(auth.ClaimsFor(account))
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, Account: account}, nil
}

// Verify decodes a bearer token. Expired and forged tokens are both
// reported as ErrInvalidToken.
func (s *AuthService) Verify(ctx context.Context, token string) (auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrMissingToken
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		logger.FromContext(ctx).DebugContext(ctx, "token rejected", "reason", err)
		return auth.Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// DeleteAccount removes the account identified by token and returns the
// removed record.
func (s *AuthService) DeleteAccount(ctx context.Context, token string) (types.Account, error) {
	claims, err := s.Verify(ctx, token)
	if err != nil {
		return types.Account{}, err
	}

	account, err := s.repo.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, ErrAccountNotFound
		}
		return types.Account{}, dependency(err)
	}

	deleted, err := s.repo.Delete(ctx, account.ID)
	if err != nil {
		return types.Account{}, dependency(err)
	}
	if !deleted {
		return types.Account{}, ErrAccountNotFound
	}

	logger.FromContext(ctx).InfoContext(ctx, "account deleted", "account_id", account.ID)
	return account, nil
}

// RequestReset stores a fresh reset code on the account and mails it.
// The code is persisted even when delivery fails.
func (s *AuthService) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrMissingFields
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownEmail
		}
		return dependency(err)
	}

	otp, err := s.otps.Generate()
	if err != nil {
		return err
	}
	account.PendingOTP = &otp
	if _, err := s.repo.Update(ctx, account); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownEmail
		}
		return dependency(err)
	}

	log := logger.FromContext(ctx)
	if err := s.notifier.Send(ctx, otpMail(account.Email, otp)); err != nil {
		log.WarnContext(ctx, "otp mail dispatch failed", "account_id", account.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrMailDispatch, err)
	}
	log.InfoContext(ctx, "otp issued", "account_id", account.ID, "expires_at", otp.ExpiresAt)
	return nil
}

// CompleteReset redeems a reset code and replaces the password.
func (s *AuthService) CompleteReset(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" || newPassword == "" {
		return ErrMissingFields
	}
	if len(newPassword) > auth.MaxPasswordBytes {
		return ErrPasswordTooLong
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownEmail
		}
		return dependency(err)
	}

	if account.PendingOTP == nil || !auth.MatchOTP(*account.PendingOTP, code) {
		return ErrInvalidOTP
	}
	if account.PendingOTP.Expired(s.now()) {
		return ErrExpiredOTP
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = hashed
	account.PendingOTP = nil

	if _, err := s.repo.Update(ctx, account); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownEmail
		}
		return dependency(err)
	}

	logger.FromContext(ctx).InfoContext(ctx, "password reset", "account_id", account.ID)
	return nil
}

// UpdateProfile changes the display name and/or picture of the account
// identified by token. Tokens issued earlier keep their old claims.
func (s *AuthService) UpdateProfile(ctx context.Context, token string, update ProfileUpdate) (ProfileUpdateResult, error) {
	claims, err := s.Verify(ctx, token)
	if err != nil {
		return ProfileUpdateResult{}, err
	}
	if update.Username == nil && update.ProfilePic == nil {
		return ProfileUpdateResult{}, ErrNothingToUpdate
	}

	account, err := s.repo.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProfileUpdateResult{}, ErrAccountNotFound
		}
		return ProfileUpdateResult{}, dependency(err)
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return ProfileUpdateResult{}, ErrMissingFields
		}
		account.Username = username
	}

	var replaced *types.ProfilePic
	if update.ProfilePic != nil {
		replaced = account.ProfilePic
		account.ProfilePic = update.ProfilePic
	}

	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProfileUpdateResult{}, ErrAccountNotFound
		}
		return ProfileUpdateResult{}, dependency(err)
	}
	return ProfileUpdateResult{Account: updated, Replaced: replaced}, nil
}

func otpMail(to string, otp types.PendingOTP) types.Mail {
	return types.Mail{
		To:      to,
		Subject: otpMailSubject,
		Body: fmt.Sprintf(
			"Your OTP code is: %s. It will expire in %d minutes.",
			otp.Code,
			int(auth.OTPValidity/time.Minute),
		),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func dependency(err error) error {
	return fmt.Errorf("%w: %w", ErrDependency, err)
}
