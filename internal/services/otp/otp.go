// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp gates registration and login behind a one-time code sent by
// email.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"codeberg.org/oliverandrich/feedtools/internal/metrics"
	"codeberg.org/oliverandrich/feedtools/internal/models"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
	"codeberg.org/oliverandrich/feedtools/internal/services/email"
)

// AccountStore is the persistence the engine needs.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	CreateAccount(ctx context.Context, acc *models.Account) error
	UpdateAccount(ctx context.Context, acc *models.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

// Notifier delivers a code to the account owner.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code string, purpose email.Purpose, ttl time.Duration) error
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
	CompareDummy(password string)
}

// PasswordPolicy rejects unacceptable passwords.
type PasswordPolicy interface {
	Validate(password string) error
}

// SessionIssuer mints the session credential returned by Verify.
type SessionIssuer interface {
	Issue(accountID string) (string, error)
}

// ContextResolver turns connection metadata into a login history entry.
type ContextResolver interface {
	Resolve(userAgent, address string, at time.Time) models.LoginEvent
}

// Config holds the engine's timing parameters.
type Config struct {
	CodeTTL          time.Duration
	Cooldown         time.Duration
	CodeLength       int
	MaxAttempts      int
	DefaultGameLimit int
}

// DefaultConfig returns a 6 digit code valid for 10 minutes and 3 guesses
// with a 60 s cooldown.
func DefaultConfig() Config {
	return Config{
		CodeTTL:          10 * time.Minute,
		Cooldown:         60 * time.Second,
		CodeLength:       6,
		MaxAttempts:      3,
		DefaultGameLimit: 5,
	}
}

// Deps are the collaborators of the engine.
type Deps struct {
	Store    AccountStore
	Notifier Notifier
	Hasher   PasswordHasher
	Policy   PasswordPolicy
	Sessions SessionIssuer
	Resolver ContextResolver
}

// Service is the OTP verification engine.
type Service struct {
	Deps
	cfg Config

	Now   func() time.Time
	NewID func() string
}

// NewService creates the engine. Zero config values take their defaults.
func NewService(deps Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DefaultGameLimit <= 0 {
		cfg.DefaultGameLimit = def.DefaultGameLimit
	}
	return &Service{Deps: deps, cfg: cfg, Now: time.Now, NewID: uuid.NewString}
}

// RegisterParams holds the parameters for a registration attempt.
type RegisterParams struct {
	Email    string
	Username string
	Password string
}

// Result is returned when a code was issued.
type Result struct {
	Email string
}

// ClientInfo is the connection metadata of the verifying request.
type ClientInfo struct {
	UserAgent string
	Address   string
}

// VerifyResult carries the session credential of a verified account.
type VerifyResult struct {
	Token   string
	Account *models.Account
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Register starts or restarts the signup of email. An existing pending
// account is overwritten in place; a verified one fails with
// ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*Result, error) {
	addr := NormalizeEmail(params.Email)
	username := strings.TrimSpace(params.Username)

	if err := s.validateRegistration(addr, username, params.Password); err != nil {
		s.reject("register", "invalid_input")
		return nil, err
	}

	acc, err := s.Store.GetAccountByEmail(ctx, addr)
	switch {
	case err == nil && acc.IsVerified:
		s.reject("register", "already_exists")
		return nil, ErrAlreadyExists
	case err == nil:
		if err := CheckCooldown(acc.LastVerificationSent, s.Now(), s.cfg.Cooldown); err != nil {
			s.reject("register", "throttled")
			return nil, err
		}
	case errors.Is(err, repository.ErrNotFound):
		acc = nil
	default:
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	passwordHash, err := s.Hasher.Hash(params.Password)
	if err != nil {
		return nil, err
	}

	created := acc == nil
	if created {
		acc = &models.Account{
			ID:        s.NewID(),
			Email:     addr,
			GameLimit: s.cfg.DefaultGameLimit,
		}
	}
	previousSent := acc.LastVerificationSent
	acc.Username = username
	acc.PasswordHash = passwordHash

	code, err := s.stampCode(acc)
	if err != nil {
		return nil, err
	}

	if created {
		err = s.Store.CreateAccount(ctx, acc)
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent registration won the insert
			s.reject("register", "already_exists")
			return nil, ErrAlreadyExists
		}
	} else {
		err = s.Store.UpdateAccount(ctx, acc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	if err := s.dispatch(ctx, acc, code, email.PurposeRegister); err != nil {
		s.rollbackRegistration(ctx, acc, created, previousSent)
		return nil, err
	}

	slog.InfoContext(ctx, "register_code_issued", "account_id", acc.ID, "email", addr, "new_account", created)
	return &Result{Email: addr}, nil
}

func (s *Service) validateRegistration(addr, username, password string) error {
	if parsed, err := mail.ParseAddress(addr); err != nil || parsed.Address != addr {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if s.Policy != nil {
		if err := s.Policy.Validate(password); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return nil
}

// rollbackRegistration removes a code the user never received. Fresh
// accounts are deleted; accounts updated in place only lose the code.
func (s *Service) rollbackRegistration(ctx context.Context, acc *models.Account, created bool, previousSent *time.Time) {
	ctx = context.WithoutCancel(ctx)

	if created {
		if err := s.Store.DeleteAccount(ctx, acc.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.ErrorContext(ctx, "register_rollback_failed", "account_id", acc.ID, "error", err)
		}
		return
	}
	s.clearPendingCode(ctx, acc, previousSent)
}

// Login checks the password and sends a login code.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*Result, error) {
	addr := NormalizeEmail(emailAddr)

	acc, err := s.Store.GetAccountByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Hasher.CompareDummy(password)
			slog.WarnContext(ctx, "login_failed", "email", addr, "reason", "user_not_found")
			s.reject("login", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if !s.Hasher.Compare(acc.PasswordHash, password) {
		slog.WarnContext(ctx, "login_failed", "email", addr, "reason", "invalid_password")
		s.reject("login", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if err := CheckCooldown(acc.LastVerificationSent, s.Now(), s.cfg.Cooldown); err != nil {
		s.reject("login", "throttled")
		return nil, err
	}

	previousSent := acc.LastVerificationSent
	code, err := s.stampCode(acc)
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	if err := s.dispatch(ctx, acc, code, email.PurposeLogin); err != nil {
		s.clearPendingCode(context.WithoutCancel(ctx), acc, previousSent)
		return nil, err
	}

	slog.InfoContext(ctx, "login_code_issued", "account_id", acc.ID, "email", addr)
	return &Result{Email: addr}, nil
}

// Verify consumes a code. Unknown email, wrong code and expired code all
// fail with ErrInvalidOrExpiredCode. After MaxAttempts wrong guesses the
// code is void and a new one has to be requested.
func (s *Service) Verify(ctx context.Context, emailAddr, code string, client ClientInfo) (*VerifyResult, error) {
	addr := NormalizeEmail(emailAddr)
	code = strings.TrimSpace(code)

	acc, err := s.Store.GetAccountByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.reject("verify", "invalid_code")
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	now := s.Now()
	if !acc.HasPendingCode() || !now.Before(*acc.VerificationCodeExpire) {
		slog.WarnContext(ctx, "verify_failed", "email", addr)
		s.reject("verify", "invalid_code")
		return nil, ErrInvalidOrExpiredCode
	}
	if !codesEqual(*acc.VerificationCode, code) {
		s.recordFailedAttempt(ctx, acc)
		slog.WarnContext(ctx, "verify_failed", "email", addr, "attempts", acc.VerificationAttempts)
		s.reject("verify", "invalid_code")
		return nil, ErrInvalidOrExpiredCode
	}

	acc.MarkVerified()
	if s.Resolver != nil {
		acc.PushLoginEvent(s.Resolver.Resolve(client.UserAgent, client.Address, now))
	}

	if err := s.Store.UpdateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	token, err := s.Sessions.Issue(acc.ID)
	if err != nil {
		return nil, err
	}

	metrics.Verifications.Inc()
	slog.InfoContext(ctx, "verify_success", "account_id", acc.ID, "email", addr)
	return &VerifyResult{Token: token, Account: acc}, nil
}

// recordFailedAttempt counts a wrong guess and voids the code once the
// limit is reached. The cooldown stamp stays.
func (s *Service) recordFailedAttempt(ctx context.Context, acc *models.Account) {
	acc.VerificationAttempts++
	if acc.VerificationAttempts >= s.cfg.MaxAttempts {
		acc.ClearPendingCode()
		slog.WarnContext(ctx, "verify_code_exhausted", "account_id", acc.ID)
	}
	if err := s.Store.UpdateAccount(ctx, acc); err != nil {
		slog.ErrorContext(ctx, "verify_attempt_store_failed", "account_id", acc.ID, "error", err)
	}
}

// Resend issues a fresh code for an account with an open challenge: a
// pending signup, or a verified account that passed the password check in
// Login. Verified accounts without a challenge fail like unknown ones. A
// failed dispatch clears the code and restores the previous cooldown stamp.
func (s *Service) Resend(ctx context.Context, emailAddr string) error {
	addr := NormalizeEmail(emailAddr)

	acc, err := s.Store.GetAccountByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.reject("resend", "not_found")
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if acc.IsVerified && acc.VerificationCode == nil {
		slog.WarnContext(ctx, "resend_without_challenge", "account_id", acc.ID)
		s.reject("resend", "not_found")
		return ErrNotFound
	}

	if err := CheckCooldown(acc.LastVerificationSent, s.Now(), s.cfg.Cooldown); err != nil {
		s.reject("resend", "throttled")
		return err
	}

	previousSent := acc.LastVerificationSent
	code, err := s.stampCode(acc)
	if err != nil {
		return err
	}
	if err := s.Store.UpdateAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}

	purpose := email.PurposeRegister
	if acc.IsVerified {
		purpose = email.PurposeLogin
	}
	if err := s.dispatch(ctx, acc, code, purpose); err != nil {
		s.clearPendingCode(context.WithoutCancel(ctx), acc, previousSent)
		return err
	}

	slog.InfoContext(ctx, "resend_code_issued", "account_id", acc.ID, "email", addr)
	return nil
}

// stampCode generates a code and records it on acc with the current time.
func (s *Service) stampCode(acc *models.Account) (string, error) {
	code, err := GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return "", err
	}
	now := s.Now()
	acc.SetPendingCode(code, now, now.Add(s.cfg.CodeTTL))
	return code, nil
}

func (s *Service) dispatch(ctx context.Context, acc *models.Account, code string, purpose email.Purpose) error {
	if err := s.Notifier.SendVerificationCode(ctx, acc.Email, code, purpose, s.cfg.CodeTTL); err != nil {
		slog.ErrorContext(ctx, "code_dispatch_failed", "account_id", acc.ID, "purpose", string(purpose), "error", err)
		s.reject(string(purpose), "dispatch_failed")
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	metrics.CodesIssued.WithLabelValues(string(purpose)).Inc()
	return nil
}

// clearPendingCode drops an undeliverable code and gives the cooldown back.
func (s *Service) clearPendingCode(ctx context.Context, acc *models.Account, previousSent *time.Time) {
	acc.ClearPendingCode()
	acc.LastVerificationSent = previousSent
	if err := s.Store.UpdateAccount(ctx, acc); err != nil {
		slog.ErrorContext(ctx, "pending_code_clear_failed", "account_id", acc.ID, "error", err)
	}
}

func (s *Service) reject(operation, reason string) {
	metrics.OTPRejections.WithLabelValues(operation, reason).Inc()
}
