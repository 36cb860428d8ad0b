// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"codeberg.org/oliverandrich/feedtools/internal/models"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
	"codeberg.org/oliverandrich/feedtools/internal/services/auth"
	"codeberg.org/oliverandrich/feedtools/internal/services/email"
	"codeberg.org/oliverandrich/feedtools/internal/services/otp"
	"codeberg.org/oliverandrich/feedtools/internal/testutil"
)

type sentCode struct {
	to      string
	code    string
	purpose email.Purpose
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (f *fakeNotifier) SendVerificationCode(_ context.Context, to, code string, purpose email.Purpose, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCode{to: to, code: code, purpose: purpose})
	return nil
}

func (f *fakeNotifier) last(t *testing.T) sentCode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no code was sent")
	return f.sent[len(f.sent)-1]
}

type fakeSessions struct{}

func (fakeSessions) Issue(accountID string) (string, error) {
	return "token-" + accountID, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(userAgent, address string, at time.Time) models.LoginEvent {
	return models.LoginEvent{IP: address, Browser: userAgent, Date: at.UTC().Format(time.RFC3339)}
}

type fixture struct {
	svc      *otp.Service
	repo     *repository.Repository
	notifier *fakeNotifier
	now      time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)

	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		repo:     repo,
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = otp.NewService(otp.Deps{
		Store:    repo,
		Notifier: f.notifier,
		Hasher:   hasher,
		Policy:   auth.DefaultPasswordValidator(),
		Sessions: fakeSessions{},
		Resolver: fakeResolver{},
	}, otp.DefaultConfig())
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) register(t *testing.T, addr, username, password string) {
	t.Helper()
	_, err := f.svc.Register(context.Background(), otp.RegisterParams{Email: addr, Username: username, Password: password})
	require.NoError(t, err)
}

func (f *fixture) verified(t *testing.T, addr string) *models.Account {
	t.Helper()
	f.register(t, addr, "alice", "secret123")
	_, err := f.svc.Verify(context.Background(), addr, f.notifier.last(t).code, otp.ClientInfo{})
	require.NoError(t, err)
	acc, err := f.repo.GetAccountByEmail(context.Background(), addr)
	require.NoError(t, err)
	return acc
}

func countAccounts(t *testing.T, f *fixture) int {
	t.Helper()
	var n int
	require.NoError(t, f.repo.DB().Get(&n, `SELECT count(*) FROM accounts`))
	return n
}

func TestRegister_NewAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, otp.RegisterParams{Email: "  Alice@Example.com ", Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res.Email)

	sent := f.notifier.last(t)
	assert.Equal(t, "alice@example.com", sent.to)
	assert.Equal(t, email.PurposeRegister, sent.purpose)
	assert.Len(t, sent.code, 6)

	acc, err := f.repo.GetAccountByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, acc.IsVerified)
	assert.Equal(t, "alice", acc.Username)
	assert.NotEqual(t, "secret123", acc.PasswordHash)
	assert.Equal(t, 5, acc.GameLimit)
	require.True(t, acc.HasPendingCode())
	assert.Equal(t, sent.code, *acc.VerificationCode)
	assert.True(t, f.now.Add(10*time.Minute).Equal(*acc.VerificationCodeExpire))
	assert.True(t, f.now.Equal(*acc.LastVerificationSent))
	require.NotNil(t, acc.UnverifiedExpire)
	assert.True(t, acc.VerificationCodeExpire.Equal(*acc.UnverifiedExpire))
}

func TestRegister_VerifiedAccountAlreadyExists(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "bob@example.com")
	f.advance(time.Hour)

	for _, password := range []string{"secret123", "another-password"} {
		_, err := f.svc.Register(context.Background(), otp.RegisterParams{Email: "bob@example.com", Username: "bob", Password: password})
		assert.ErrorIs(t, err, otp.ErrAlreadyExists)
	}
	assert.Equal(t, 1, countAccounts(t, f))
}

func TestRegister_PendingAccountOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "carol@example.com", "carol", "first-pass")
	first, err := f.repo.GetAccountByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	firstCode := f.notifier.last(t).code

	f.advance(61 * time.Second)
	f.register(t, "carol@example.com", "carol2", "second-pass")

	second, err := f.repo.GetAccountByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "carol2", second.Username)
	assert.NotEqual(t, first.PasswordHash, second.PasswordHash)
	assert.True(t, f.now.Equal(*second.LastVerificationSent))
	assert.Equal(t, 1, countAccounts(t, f))

	// the replaced code no longer works unless it happens to repeat
	if firstCode != f.notifier.last(t).code {
		_, err = f.svc.Verify(ctx, "carol@example.com", firstCode, otp.ClientInfo{})
		assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
	}

	_, err = f.svc.Login(ctx, "carol@example.com", "first-pass")
	assert.ErrorIs(t, err, otp.ErrInvalidCredentials)
}

func TestRegister_PendingAccountThrottled(t *testing.T) {
	f := newFixture(t)
	f.register(t, "dave@example.com", "dave", "secret123")
	f.advance(20 * time.Second)

	_, err := f.svc.Register(context.Background(), otp.RegisterParams{Email: "dave@example.com", Username: "dave", Password: "secret123"})

	var throttled *otp.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.ErrorIs(t, err, otp.ErrThrottled)
	assert.Equal(t, 40, throttled.SecondsRemaining())
}

func TestRegister_InvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params otp.RegisterParams
	}{
		{"bad email", otp.RegisterParams{Email: "not-an-email", Username: "x", Password: "secret123"}},
		{"display name email", otp.RegisterParams{Email: "Eve <eve@example.com>", Username: "x", Password: "secret123"}},
		{"missing username", otp.RegisterParams{Email: "eve@example.com", Username: "  ", Password: "secret123"}},
		{"short password", otp.RegisterParams{Email: "eve@example.com", Username: "eve", Password: "12345"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.params)
			assert.ErrorIs(t, err, otp.ErrInvalidInput)
		})
	}
	assert.Zero(t, countAccounts(t, f))
}

func TestRegister_DispatchFailureDeletesNewAccount(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")

	_, err := f.svc.Register(context.Background(), otp.RegisterParams{Email: "frank@example.com", Username: "frank", Password: "secret123"})

	assert.ErrorIs(t, err, otp.ErrDispatchFailed)
	_, err = f.repo.GetAccountByEmail(context.Background(), "frank@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegister_DispatchFailureClearsUpdatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "gina@example.com", "gina", "secret123")
	firstSent := f.now

	f.advance(2 * time.Minute)
	f.notifier.err = errors.New("smtp down")
	_, err := f.svc.Register(ctx, otp.RegisterParams{Email: "gina@example.com", Username: "gina", Password: "secret123"})
	require.ErrorIs(t, err, otp.ErrDispatchFailed)

	acc, err := f.repo.GetAccountByEmail(ctx, "gina@example.com")
	require.NoError(t, err)
	assert.False(t, acc.HasPendingCode())
	require.NotNil(t, acc.LastVerificationSent)
	assert.True(t, firstSent.Equal(*acc.LastVerificationSent))

	// the failed attempt does not hold the cooldown
	f.notifier.err = nil
	_, err = f.svc.Register(ctx, otp.RegisterParams{Email: "gina@example.com", Username: "gina", Password: "secret123"})
	assert.NoError(t, err)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.verified(t, "henry@example.com")
	f.advance(time.Hour)

	_, err := f.svc.Login(context.Background(), "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, otp.ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), "henry@example.com", "wrong-password")
	assert.ErrorIs(t, err, otp.ErrInvalidCredentials)
}

func TestLogin_IssuesLoginCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verified(t, "ida@example.com")
	f.advance(time.Hour)

	res, err := f.svc.Login(ctx, "IDA@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "ida@example.com", res.Email)

	sent := f.notifier.last(t)
	assert.Equal(t, email.PurposeLogin, sent.purpose)

	acc, err := f.repo.GetAccountByEmail(ctx, "ida@example.com")
	require.NoError(t, err)
	assert.True(t, acc.IsVerified)
	assert.True(t, acc.HasPendingCode())
	assert.Nil(t, acc.UnverifiedExpire)
}

func TestLogin_SharesCooldownWithRegistration(t *testing.T) {
	f := newFixture(t)
	f.register(t, "jack@example.com", "jack", "secret123")
	f.advance(30 * time.Second)

	_, err := f.svc.Login(context.Background(), "jack@example.com", "secret123")

	var throttled *otp.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, 30, throttled.SecondsRemaining())

	f.advance(30 * time.Second)
	_, err = f.svc.Login(context.Background(), "jack@example.com", "secret123")
	assert.NoError(t, err)
}

func TestLogin_DispatchFailureClearsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.verified(t, "kate@example.com")
	f.advance(time.Hour)
	f.notifier.err = errors.New("smtp down")

	_, err := f.svc.Login(ctx, "kate@example.com", "secret123")
	require.ErrorIs(t, err, otp.ErrDispatchFailed)

	acc, err := f.repo.GetAccountByEmail(ctx, "kate@example.com")
	require.NoError(t, err)
	assert.True(t, acc.IsVerified)
	assert.False(t, acc.HasPendingCode())
	assert.True(t, before.LastVerificationSent.Equal(*acc.LastVerificationSent))
}

func TestVerify_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "liam@example.com", "liam", "secret123")
	code := f.notifier.last(t).code

	res, err := f.svc.Verify(ctx, " Liam@Example.com", code, otp.ClientInfo{UserAgent: "curl/8", Address: "203.0.113.7"})
	require.NoError(t, err)

	acc, err := f.repo.GetAccountByEmail(ctx, "liam@example.com")
	require.NoError(t, err)
	assert.Equal(t, "token-"+acc.ID, res.Token)
	assert.True(t, acc.IsVerified)
	assert.Nil(t, acc.VerificationCode)
	assert.Nil(t, acc.VerificationCodeExpire)
	assert.Nil(t, acc.UnverifiedExpire)
	require.Len(t, acc.LoginHistory, 1)
	assert.Equal(t, "203.0.113.7", acc.LoginHistory[0].IP)
	assert.Equal(t, "curl/8", acc.LoginHistory[0].Browser)
}

func TestVerify_SingleConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "mia@example.com", "mia", "secret123")
	code := f.notifier.last(t).code

	_, err := f.svc.Verify(ctx, "mia@example.com", code, otp.ClientInfo{})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, "mia@example.com", code, otp.ClientInfo{})
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "noah@example.com", "noah", "secret123")
	code := f.notifier.last(t).code
	f.advance(10 * time.Minute)

	_, err := f.svc.Verify(ctx, "noah@example.com", code, otp.ClientInfo{})
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)

	require.NoError(t, f.svc.Resend(ctx, "noah@example.com"))
	code = f.notifier.last(t).code
	f.advance(10*time.Minute - time.Nanosecond)

	_, err = f.svc.Verify(ctx, "noah@example.com", code, otp.ClientInfo{})
	assert.NoError(t, err)
}

func TestVerify_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "olga@example.com", "olga", "secret123")
	code := f.notifier.last(t).code

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, errUnknown := f.svc.Verify(ctx, "ghost@example.com", code, otp.ClientInfo{})
	_, errWrong := f.svc.Verify(ctx, "olga@example.com", wrong, otp.ClientInfo{})

	assert.Equal(t, otp.ErrInvalidOrExpiredCode, errUnknown)
	assert.Equal(t, otp.ErrInvalidOrExpiredCode, errWrong)
}

func TestVerify_LoginHistoryBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verified(t, "pia@example.com")

	for i := range 12 {
		f.advance(time.Minute)
		_, err := f.svc.Login(ctx, "pia@example.com", "secret123")
		require.NoError(t, err)
		_, err = f.svc.Verify(ctx, "pia@example.com", f.notifier.last(t).code, otp.ClientInfo{Address: fmt.Sprintf("10.0.0.%d", i)})
		require.NoError(t, err)
	}

	acc, err := f.repo.GetAccountByEmail(ctx, "pia@example.com")
	require.NoError(t, err)
	require.Len(t, acc.LoginHistory, models.MaxLoginHistory)
	assert.Equal(t, "10.0.0.11", acc.LoginHistory[0].IP)
	assert.Equal(t, "10.0.0.2", acc.LoginHistory[models.MaxLoginHistory-1].IP)
}

func TestResend_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Resend(context.Background(), "nobody@example.com")

	assert.ErrorIs(t, err, otp.ErrNotFound)
}

func TestResend_Throttled(t *testing.T) {
	f := newFixture(t)
	f.register(t, "quinn@example.com", "quinn", "secret123")
	f.advance(59 * time.Second)

	err := f.svc.Resend(context.Background(), "quinn@example.com")

	var throttled *otp.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, 1, throttled.SecondsRemaining())
}

func TestResend_IssuesFreshCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "rosa@example.com", "rosa", "secret123")
	f.advance(time.Minute)

	require.NoError(t, f.svc.Resend(ctx, "rosa@example.com"))

	sent := f.notifier.last(t)
	assert.Equal(t, email.PurposeRegister, sent.purpose)
	acc, err := f.repo.GetAccountByEmail(ctx, "rosa@example.com")
	require.NoError(t, err)
	assert.Equal(t, sent.code, *acc.VerificationCode)
	assert.True(t, f.now.Equal(*acc.LastVerificationSent))
	assert.True(t, f.now.Add(10*time.Minute).Equal(*acc.UnverifiedExpire))
}

func TestResend_DispatchFailureClearsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "sam@example.com", "sam", "secret123")
	registeredAt := f.now
	f.advance(time.Minute)
	f.notifier.err = errors.New("smtp down")

	err := f.svc.Resend(ctx, "sam@example.com")
	require.ErrorIs(t, err, otp.ErrDispatchFailed)

	acc, err := f.repo.GetAccountByEmail(ctx, "sam@example.com")
	require.NoError(t, err)
	assert.False(t, acc.HasPendingCode())
	assert.True(t, registeredAt.Equal(*acc.LastVerificationSent))
}

func TestResend_VerifiedWithoutChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verified(t, "tara@example.com")
	sentBefore := len(f.notifier.sent)
	f.advance(time.Hour)

	err := f.svc.Resend(ctx, "tara@example.com")
	require.ErrorIs(t, err, otp.ErrNotFound)
	assert.Equal(t, otp.ErrNotFound, err)

	assert.Len(t, f.notifier.sent, sentBefore)
	acc, err := f.repo.GetAccountByEmail(ctx, "tara@example.com")
	require.NoError(t, err)
	assert.False(t, acc.HasPendingCode())

	_, err = f.svc.Verify(ctx, "tara@example.com", f.notifier.last(t).code, otp.ClientInfo{})
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
}

func TestResend_VerifiedWithLoginChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verified(t, "uma@example.com")
	f.advance(time.Minute)
	_, err := f.svc.Login(ctx, "uma@example.com", "secret123")
	require.NoError(t, err)
	f.advance(11 * time.Minute)

	require.NoError(t, f.svc.Resend(ctx, "uma@example.com"))

	sent := f.notifier.last(t)
	assert.Equal(t, email.PurposeLogin, sent.purpose)
	_, err = f.svc.Verify(ctx, "uma@example.com", sent.code, otp.ClientInfo{})
	assert.NoError(t, err)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestVerify_CodeVoidAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "vera@example.com", "vera", "secret123")
	code := f.notifier.last(t).code

	for range otp.DefaultConfig().MaxAttempts {
		_, err := f.svc.Verify(ctx, "vera@example.com", wrongCode(code), otp.ClientInfo{})
		require.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
	}

	_, err := f.svc.Verify(ctx, "vera@example.com", code, otp.ClientInfo{})
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)

	acc, err := f.repo.GetAccountByEmail(ctx, "vera@example.com")
	require.NoError(t, err)
	assert.False(t, acc.HasPendingCode())
	assert.False(t, acc.IsVerified)
	assert.NotNil(t, acc.UnverifiedExpire)

	// the cooldown still applies to the voided code
	err = f.svc.Resend(ctx, "vera@example.com")
	var throttled *otp.ThrottledError
	require.ErrorAs(t, err, &throttled)

	f.advance(time.Minute)
	require.NoError(t, f.svc.Resend(ctx, "vera@example.com"))
	_, err = f.svc.Verify(ctx, "vera@example.com", f.notifier.last(t).code, otp.ClientInfo{})
	assert.NoError(t, err)
}

func TestVerify_AttemptsBelowLimitKeepCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "will@example.com", "will", "secret123")
	code := f.notifier.last(t).code

	for range otp.DefaultConfig().MaxAttempts - 1 {
		_, err := f.svc.Verify(ctx, "will@example.com", wrongCode(code), otp.ClientInfo{})
		require.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
	}

	acc, err := f.repo.GetAccountByEmail(ctx, "will@example.com")
	require.NoError(t, err)
	assert.Equal(t, otp.DefaultConfig().MaxAttempts-1, acc.VerificationAttempts)

	_, err = f.svc.Verify(ctx, "will@example.com", code, otp.ClientInfo{})
	require.NoError(t, err)

	acc, err = f.repo.GetAccountByEmail(ctx, "will@example.com")
	require.NoError(t, err)
	assert.Zero(t, acc.VerificationAttempts)
}
