package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetcrumb/accounts/internal/auth"
	"github.com/sweetcrumb/accounts/internal/store"
	"github.com/sweetcrumb/accounts/types"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []types.Mail
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, mail types.Mail) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, mail)
	return n.err
}

func (n *fakeNotifier) last(t *testing.T) types.Mail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "expected a mail to be sent")
	return n.sent[len(n.sent)-1]
}

var otpInBody = regexp.MustCompile(`Your OTP code is: ([0-9]{6})\.`)

func codeFromMail(t *testing.T, mail types.Mail) string {
	t.Helper()
	m := otpInBody.FindStringSubmatch(mail.Body)
	require.Len(t, m, 2, "mail body %q", mail.Body)
	return m[1]
}

type fixture struct {
	svc      *AuthService
	repo     *store.MemoryAccountRepository
	clock    *fakeClock
	notifier *fakeNotifier
	tokens   *auth.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenService("test-secret", time.Hour, clock.Now)
	require.NoError(t, err)

	repo := store.NewMemoryAccountRepository()
	notifier := &fakeNotifier{}
	svc := NewAuthService(
		repo,
		auth.NewHasher(bcrypt.MinCost),
		tokens,
		auth.NewOTPGenerator(clock.Now, nil),
		notifier,
		WithClock(clock.Now),
	)
	return &fixture{svc: svc, repo: repo, clock: clock, notifier: notifier, tokens: tokens}
}

func (f *fixture) register(t *testing.T, email, username, password string) types.Account {
	t.Helper()
	account, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Username: username,
		Password: password,
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) storedHash(t *testing.T, email string) string {
	t.Helper()
	account, err := f.repo.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return account.PasswordHash
}

// --- register / login ---

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice@x.com", "alice", "secret1")
	assert.NotEmpty(t, account.ID)
	assert.NotEqual(t, "secret1", account.PasswordHash)
	assert.Equal(t, types.StateActive, account.State(f.clock.Now()))

	res, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, account.ID, res.Account.ID)

	claims, err := f.svc.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.ID)
	assert.Equal(t, "alice", claims.Username)
}

func TestRegister_NormalizesEmail(t *testing.T) {
	f := newFixture(t)

	account := f.register(t, "  Alice@X.com ", " alice ", "secret1")
	assert.Equal(t, "alice@x.com", account.Email)
	assert.Equal(t, "alice", account.Username)

	_, err := f.svc.Login(context.Background(), "ALICE@x.com", "secret1")
	assert.NoError(t, err)
}

func TestRegister_KeepsProfilePicReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pic := &types.ProfilePic{Path: "/uploads/profile-pics/1-a.png", UploadedAt: f.clock.Now()}

	_, err := f.svc.Register(ctx, RegisterInput{
		Email: "alice@x.com", Username: "alice", Password: "secret1", ProfilePic: pic,
	})
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)
	claims, err := f.svc.Verify(ctx, res.Token)
	require.NoError(t, err)
	require.NotNil(t, claims.ProfilePic)
	assert.Equal(t, pic.Path, claims.ProfilePic.Path)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []RegisterInput{
		{Username: "alice", Password: "secret1"},
		{Email: "alice@x.com", Password: "secret1"},
		{Email: "alice@x.com", Username: "alice"},
		{Email: "   ", Username: "alice", Password: "secret1"},
		{Email: "alice@x.com", Username: "  ", Password: "secret1"},
	}
	for _, in := range cases {
		_, err := f.svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrMissingFields)
		assert.ErrorIs(t, err, ErrValidation)
	}

	_, err := f.svc.Register(ctx, RegisterInput{
		Email: "alice@x.com", Username: "alice", Password: strings.Repeat("p", 73),
	})
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegister_DuplicateEmailAlwaysConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	inputs := []RegisterInput{
		{Email: "alice@x.com", Username: "alice", Password: "secret1"},
		{Email: "alice@x.com", Username: "someone-else", Password: "different"},
		{Email: "ALICE@X.COM", Username: "alice2", Password: "x"},
	}
	for _, in := range inputs {
		_, err := f.svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrDuplicateEmail)
		assert.ErrorIs(t, err, ErrConflict)
	}
}

func TestLogin_WrongPasswordLeavesHash(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@x.com", "alice", "secret1")
	before := f.storedHash(t, "alice@x.com")

	_, err := f.svc.Login(context.Background(), "alice@x.com", "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)
	assert.ErrorIs(t, err, ErrAuthFailure)

	assert.Equal(t, before, f.storedHash(t, "alice@x.com"))
}

func TestLogin_UnknownEmailAndMissingFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "ghost@x.com", "secret1")
	assert.ErrorIs(t, err, ErrUnknownEmail)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Login(ctx, "", "secret1")
	assert.ErrorIs(t, err, ErrMissingFields)
	_, err = f.svc.Login(ctx, "alice@x.com", "")
	assert.ErrorIs(t, err, ErrMissingFields)
}

// --- tokens ---

func TestVerify_TokenExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	res, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, res.Token)
	require.NoError(t, err)

	f.clock.Advance(f.tokens.TTL() + time.Second)
	_, err = f.svc.Verify(ctx, res.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestVerify_MissingAndForgedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, "  ")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = f.svc.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := auth.NewTokenService("other-secret", time.Hour, f.clock.Now)
	require.NoError(t, err)
	forged, err := other.Issue(auth.Claims{ID: "acc-1", Username: "mallory"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_ClaimsFrozenAtIssuance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	res, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	name := "alice-the-baker"
	_, err = f.svc.UpdateProfile(ctx, res.Token, ProfileUpdate{Username: &name})
	require.NoError(t, err)

	claims, err := f.svc.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	relogin, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)
	claims, err = f.svc.Verify(ctx, relogin.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice-the-baker", claims.Username)
}

// --- delete ---

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.register(t, "alice@x.com", "alice", "secret1")

	res, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	deleted, err := f.svc.DeleteAccount(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, deleted.ID)

	_, err = f.svc.Login(ctx, "alice@x.com", "secret1")
	assert.ErrorIs(t, err, ErrUnknownEmail)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.DeleteAccount(ctx, res.Token)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDeleteAccount_RequiresValidToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	_, err := f.svc.DeleteAccount(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = f.svc.DeleteAccount(ctx, "forged.token.value")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.repo.FindByEmail(ctx, "alice@x.com")
	assert.NoError(t, err)
}

// --- password reset ---

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	_, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestReset(ctx, "alice@x.com"))

	mail := f.notifier.last(t)
	assert.Equal(t, "alice@x.com", mail.To)
	assert.Equal(t, "Password Reset OTP", mail.Subject)
	assert.Contains(t, mail.Body, "It will expire in 5 minutes.")
	code := codeFromMail(t, mail)

	stored, err := f.repo.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.PendingOTP)
	assert.Equal(t, code, stored.PendingOTP.Code)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), stored.PendingOTP.ExpiresAt)
	assert.Equal(t, types.StateResetPending, stored.State(f.clock.Now()))

	f.clock.Advance(4 * time.Minute)
	require.NoError(t, f.svc.CompleteReset(ctx, "alice@x.com", code, "newpass2"))

	_, err = f.svc.Login(ctx, "alice@x.com", "secret1")
	assert.ErrorIs(t, err, ErrBadPassword)
	_, err = f.svc.Login(ctx, "alice@x.com", "newpass2")
	assert.NoError(t, err)

	stored, err = f.repo.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Nil(t, stored.PendingOTP)
	assert.Equal(t, types.StateActive, stored.State(f.clock.Now()))

	err = f.svc.CompleteReset(ctx, "alice@x.com", code, "another3")
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestCompleteReset_WrongCodeLeavesHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	require.NoError(t, f.svc.RequestReset(ctx, "alice@x.com"))
	code := codeFromMail(t, f.notifier.last(t))
	before := f.storedHash(t, "alice@x.com")

	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}
	err := f.svc.CompleteReset(ctx, "alice@x.com", wrong, "newpass2")
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.ErrorIs(t, err, ErrAuthFailure)
	assert.Equal(t, before, f.storedHash(t, "alice@x.com"))

	require.NoError(t, f.svc.CompleteReset(ctx, "alice@x.com", code, "newpass2"))
}

func TestCompleteReset_ExpiredCodeLeavesHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	require.NoError(t, f.svc.RequestReset(ctx, "alice@x.com"))
	code := codeFromMail(t, f.notifier.last(t))
	before := f.storedHash(t, "alice@x.com")

	f.clock.Advance(5 * time.Minute)
	err := f.svc.CompleteReset(ctx, "alice@x.com", code, "newpass2")
	assert.ErrorIs(t, err, ErrExpiredOTP)
	assert.Equal(t, before, f.storedHash(t, "alice@x.com"))

	_, err = f.svc.Login(ctx, "alice@x.com", "secret1")
	assert.NoError(t, err)
}

func TestRequestReset_OverwritesPreviousCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	var codes []string
	for i := 0; i < 5; i++ {
		require.NoError(t, f.svc.RequestReset(ctx, "alice@x.com"))
		codes = append(codes, codeFromMail(t, f.notifier.last(t)))
		f.clock.Advance(time.Second)
	}
	latest := codes[len(codes)-1]

	stored, err := f.repo.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, latest, stored.PendingOTP.Code)

	for _, c := range codes[:len(codes)-1] {
		if c == latest {
			continue
		}
		assert.ErrorIs(t, f.svc.CompleteReset(ctx, "alice@x.com", c, "newpass2"), ErrInvalidOTP)
	}
	assert.NoError(t, f.svc.CompleteReset(ctx, "alice@x.com", latest, "newpass2"))
}

func TestRequestReset_MailFailureKeepsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")
	f.notifier.err = errors.New("smtp unavailable")

	err := f.svc.RequestReset(ctx, "alice@x.com")
	assert.ErrorIs(t, err, ErrMailDispatch)
	assert.ErrorIs(t, err, ErrDependency)

	code := codeFromMail(t, f.notifier.last(t))
	stored, err := f.repo.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.PendingOTP)
	assert.Equal(t, code, stored.PendingOTP.Code)

	assert.NoError(t, f.svc.CompleteReset(ctx, "alice@x.com", code, "newpass2"))
}

func TestResetValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@x.com", "alice", "secret1")

	assert.ErrorIs(t, f.svc.RequestReset(ctx, ""), ErrMissingFields)
	assert.ErrorIs(t, f.svc.RequestReset(ctx, "ghost@x.com"), ErrUnknownEmail)

	assert.ErrorIs(t, f.svc.CompleteReset(ctx, "", "123456", "p"), ErrMissingFields)
	assert.ErrorIs(t, f.svc.CompleteReset(ctx, "alice@x.com", "", "p"), ErrMissingFields)
	assert.ErrorIs(t, f.svc.CompleteReset(ctx, "alice@x.com", "123456", ""), ErrMissingFields)
	assert.ErrorIs(t, f.svc.CompleteReset(ctx, "ghost@x.com", "123456", "p"), ErrUnknownEmail)
	assert.ErrorIs(t, f.svc.CompleteReset(ctx, "alice@x.com", "123456", "p"), ErrInvalidOTP)
}

// --- profile ---

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldPic := &types.ProfilePic{Path: "profile-pics/old.png", UploadedAt: f.clock.Now()}
	_, err := f.svc.Register(ctx, RegisterInput{
		Email: "alice@x.com", Username: "alice", Password: "secret1", ProfilePic: oldPic,
	})
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, "alice@x.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.UpdateProfile(ctx, res.Token, ProfileUpdate{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)

	blank := "   "
	_, err = f.svc.UpdateProfile(ctx, res.Token, ProfileUpdate{Username: &blank})
	assert.ErrorIs(t, err, ErrMissingFields)

	newPic := &types.ProfilePic{Path: "profile-pics/new.png", UploadedAt: f.clock.Now()}
	out, err := f.svc.UpdateProfile(ctx, res.Token, ProfileUpdate{ProfilePic: newPic})
	require.NoError(t, err)
	require.NotNil(t, out.Replaced)
	assert.Equal(t, "profile-pics/old.png", out.Replaced.Path)
	assert.Equal(t, "profile-pics/new.png", out.Account.ProfilePic.Path)
	assert.Equal(t, "alice", out.Account.Username)

	_, err = f.svc.UpdateProfile(ctx, "bad", ProfileUpdate{ProfilePic: newPic})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// --- dependency failures ---

type failingRepo struct {
	err error
}

func (r failingRepo) FindByEmail(context.Context, string) (types.Account, error) {
	return types.Account{}, r.err
}

func (r failingRepo) FindByID(context.Context, string) (types.Account, error) {
	return types.Account{}, r.err
}

func (r failingRepo) Insert(context.Context, types.Account) (types.Account, error) {
	return types.Account{}, r.err
}

func (r failingRepo) Update(context.Context, types.Account) (types.Account, error) {
	return types.Account{}, r.err
}

func (r failingRepo) Delete(context.Context, string) (bool, error) {
	return false, r.err
}

func TestStoreFailuresAreDependencyErrors(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	tokens, err := auth.NewTokenService("test-secret", time.Hour, clock.Now)
	require.NoError(t, err)
	boom := errors.New("connection refused")
	svc := NewAuthService(
		failingRepo{err: boom},
		auth.NewHasher(bcrypt.MinCost),
		tokens,
		auth.NewOTPGenerator(clock.Now, nil),
		&fakeNotifier{},
	)
	ctx := context.Background()

	_, err = svc.Register(ctx, RegisterInput{Email: "a@x.com", Username: "a", Password: "p"})
	assert.ErrorIs(t, err, ErrDependency)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Login(ctx, "a@x.com", "p")
	assert.ErrorIs(t, err, ErrDependency)

	assert.ErrorIs(t, svc.RequestReset(ctx, "a@x.com"), ErrDependency)
	assert.ErrorIs(t, svc.CompleteReset(ctx, "a@x.com", "123456", "p"), ErrDependency)

	token, err := tokens.Issue(auth.Claims{ID: "acc-1"})
	require.NoError(t, err)
	_, err = svc.DeleteAccount(ctx, token)
	assert.ErrorIs(t, err, ErrDependency)
}

func TestErrorKindsAreDisjoint(t *testing.T) {
	kinds := []error{ErrValidation, ErrNotFound, ErrAuthFailure, ErrConflict, ErrDependency}
	specific := []error{
		ErrMissingFields, ErrPasswordTooLong, ErrDuplicateEmail, ErrUnknownEmail,
		ErrAccountNotFound, ErrBadPassword, ErrMissingToken, ErrInvalidToken,
		ErrInvalidOTP, ErrExpiredOTP, ErrMailDispatch, ErrNothingToUpdate,
	}
	for _, err := range specific {
		matches := 0
		for _, kind := range kinds {
			if errors.Is(err, kind) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "%v should match exactly one kind", err)
	}
}
