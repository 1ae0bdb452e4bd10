package gedauth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth"
	"github.com/ged-ministere/gedauth/crypto"
	memorykv "github.com/ged-ministere/gedauth/kvstore/memory"
	"github.com/ged-ministere/gedauth/stores/memory"
)

const testPassword = "Correct1Horse"

// fastParams keeps Argon2id cheap in tests.
var fastParams = crypto.PasswordParams{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testSecrets() gedauth.Secrets {
	return gedauth.Secrets{
		AccessTokenSecret:  []byte(strings.Repeat("a", 32)),
		RefreshTokenSecret: []byte(strings.Repeat("r", 32)),
		EncryptionKey:      []byte(strings.Repeat("k", 32)),
	}
}

type testEnv struct {
	auth     *gedauth.AuthService
	accounts *memory.Accounts
	audit    *memory.AuditRecorder
	kv       *memorykv.Store
	clock    *fakeClock
}

func newTestEnv(t *testing.T, opts ...gedauth.Option) *testEnv {
	t.Helper()

	clock := newFakeClock()
	env := &testEnv{
		accounts: memory.NewAccounts(memory.WithClock(clock.Now)),
		audit:    memory.NewAuditRecorder(),
		kv:       memorykv.New(memorykv.WithClock(clock.Now)),
		clock:    clock,
	}

	base := []gedauth.Option{
		gedauth.WithAccountStore(env.accounts),
		gedauth.WithSecrets(testSecrets()),
		gedauth.WithLogger(zap.NewNop()),
		gedauth.WithAuditSink(env.audit),
		gedauth.WithClock(clock.Now),
		gedauth.WithKVStore(env.kv),
		gedauth.WithPasswordParams(fastParams),
		gedauth.WithTOTPQRCode(false),
	}
	auth, err := gedauth.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	env.auth = auth
	t.Cleanup(func() { _ = auth.Close(context.Background()) })
	return env
}

// register creates an active account and returns its id.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	res, err := e.auth.Register(context.Background(), gedauth.RegisterInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Awa",
		LastName:  "Diallo",
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return res.Account.ID
}

// login signs in an account without MFA and returns its tokens.
func (e *testEnv) login(t *testing.T, email string) *crypto.TokenPair {
	t.Helper()
	res, err := e.auth.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	if res.Tokens == nil {
		t.Fatalf("Login(%s) returned no tokens", email)
	}
	return res.Tokens
}

// enrollMFA runs setup and enable for accountID and returns the TOTP secret.
func (e *testEnv) enrollMFA(t *testing.T, accountID string) string {
	t.Helper()
	ctx := context.Background()
	setup, err := e.auth.SetupMFA(ctx, accountID)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	if err := e.auth.EnableMFA(ctx, accountID, e.code(t, setup.Secret)); err != nil {
		t.Fatalf("EnableMFA failed: %v", err)
	}
	return setup.Secret
}

func (e *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, e.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	return code
}

// drainAudit flushes the async audit queue.
func (e *testEnv) drainAudit(t *testing.T) {
	t.Helper()
	if err := e.auth.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
