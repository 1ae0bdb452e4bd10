package gedauth_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ged-ministere/gedauth"
)

// ==================== REGISTRATION ====================

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.auth.Register(ctx, gedauth.RegisterInput{Email: "  Agent@GED.gov ", Password: testPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Account.Email != "agent@ged.gov" {
		t.Errorf("email = %q, want normalized", res.Account.Email)
	}
	if res.Account.Role != gedauth.RoleConsultant || res.Account.Status != gedauth.StatusActive {
		t.Errorf("unexpected role/status: %s/%s", res.Account.Role, res.Account.Status)
	}
	if res.Tokens == nil || res.Tokens.AccessToken == "" {
		t.Fatal("register should open a session")
	}

	if _, err := env.auth.Register(ctx, gedauth.RegisterInput{Email: "agent@ged.gov", Password: testPassword}); !errors.Is(err, gedauth.ErrEmailAlreadyExists) {
		t.Errorf("duplicate: got %v, want ErrEmailAlreadyExists", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"bad email", "not-an-email", testPassword, gedauth.ErrInvalidEmail},
		{"too short", "a@ged.gov", "Ab1", gedauth.ErrWeakPassword},
		{"no digit", "b@ged.gov", "NoDigitsHere", gedauth.ErrWeakPassword},
		{"no upper", "c@ged.gov", "lowercase123", gedauth.ErrWeakPassword},
		{"too long", "d@ged.gov", "Aa1" + strings.Repeat("x", 300), gedauth.ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Register(context.Background(), gedauth.RegisterInput{Email: tt.email, Password: tt.password})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

// ==================== LOGIN ====================

func TestLoginSuccessResetsCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	for i := 0; i < 3; i++ {
		if _, err := env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password"); !errors.Is(err, gedauth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i+1, err)
		}
	}

	res, err := env.auth.Login(ctx, "AGENT@ged.gov", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.MFARequired || res.Tokens == nil || res.AccountID != id {
		t.Fatalf("unexpected result: %+v", res)
	}

	acc, _ := env.accounts.GetAccountByID(ctx, id)
	if acc.FailedLoginAttempts != 0 {
		t.Errorf("failed attempts = %d, want 0", acc.FailedLoginAttempts)
	}
	if acc.LastLoginAt == nil {
		t.Error("last login should be stamped")
	}
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	for i := 1; i <= 4; i++ {
		if _, err := env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password"); !errors.Is(err, gedauth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i, err)
		}
	}
	if _, err := env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password"); !errors.Is(err, gedauth.ErrAccountLocked) {
		t.Fatalf("attempt 5: got %v, want ErrAccountLocked", err)
	}

	// Correct password is refused while locked.
	if _, err := env.auth.Login(ctx, "agent@ged.gov", testPassword); !errors.Is(err, gedauth.ErrAccountLocked) {
		t.Fatalf("locked login: got %v, want ErrAccountLocked", err)
	}

	env.clock.Advance(29 * time.Minute)
	if _, err := env.auth.Login(ctx, "agent@ged.gov", testPassword); !errors.Is(err, gedauth.ErrAccountLocked) {
		t.Fatalf("still locked at 29m: got %v", err)
	}

	env.clock.Advance(time.Minute)
	if _, err := env.auth.Login(ctx, "agent@ged.gov", testPassword); err != nil {
		t.Fatalf("login after lock expiry failed: %v", err)
	}

	if got := env.auth.Metrics().Snapshot().AccountsLocked; got != 1 {
		t.Errorf("accounts locked = %d, want 1", got)
	}
	env.drainAudit(t)
	if got := env.audit.Count(gedauth.EventAccountLocked); got != 1 {
		t.Errorf("account_locked events = %d, want 1", got)
	}
	acc, _ := env.accounts.GetAccountByID(ctx, id)
	if acc.LockedUntil != nil || acc.FailedLoginAttempts != 0 {
		t.Errorf("lock not cleared: %+v", acc)
	}
}

func TestLockoutRelocksWithoutSuccessfulLogin(t *testing.T) {
	env := newTestEnv(t, gedauth.WithLockout(3, 10*time.Minute))
	ctx := context.Background()
	env.register(t, "agent@ged.gov")

	for i := 0; i < 3; i++ {
		_, _ = env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password")
	}
	env.clock.Advance(10 * time.Minute)

	// The counter was never reset, so one more failure locks again.
	if _, err := env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password"); !errors.Is(err, gedauth.ErrAccountLocked) {
		t.Fatalf("got %v, want ErrAccountLocked", err)
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	env := newTestEnv(t)
	id := env.register(t, "agent@ged.gov")
	if err := env.accounts.SetStatus(id, gedauth.StatusSuspended); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if _, err := env.auth.Login(context.Background(), "agent@ged.gov", testPassword); !errors.Is(err, gedauth.ErrAccountInactive) {
		t.Fatalf("got %v, want ErrAccountInactive", err)
	}
}

// Unknown emails and wrong passwords must be indistinguishable: same error,
// same response body, same amount of hashing work.
func TestInvalidCredentialsAreUniform(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "agent@ged.gov")

	before := env.auth.Metrics().Snapshot().PasswordHashes
	_, errUnknown := env.auth.Login(ctx, "ghost@ged.gov", "Wrong1Password")
	afterUnknown := env.auth.Metrics().Snapshot().PasswordHashes
	_, errWrong := env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password")
	afterWrong := env.auth.Metrics().Snapshot().PasswordHashes

	if !errors.Is(errUnknown, gedauth.ErrInvalidCredentials) || !errors.Is(errWrong, gedauth.ErrInvalidCredentials) {
		t.Fatalf("errors = %v / %v, want ErrInvalidCredentials for both", errUnknown, errWrong)
	}
	if afterUnknown-before != 1 || afterWrong-afterUnknown != 1 {
		t.Fatalf("hashes: unknown=%d wrong=%d, want 1 each", afterUnknown-before, afterWrong-afterUnknown)
	}

	handler := env.auth.Handler()
	post := func(body string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code, rec.Body.String()
	}
	codeUnknown, bodyUnknown := post(`{"email":"ghost@ged.gov","password":"Wrong1Password"}`)
	codeWrong, bodyWrong := post(`{"email":"agent@ged.gov","password":"Wrong1Password"}`)

	if codeUnknown != http.StatusUnauthorized || codeWrong != http.StatusUnauthorized {
		t.Fatalf("status = %d / %d, want 401", codeUnknown, codeWrong)
	}
	if !bytes.Equal([]byte(bodyUnknown), []byte(bodyWrong)) {
		t.Fatalf("bodies differ:\n%s\n%s", bodyUnknown, bodyWrong)
	}
}

func TestConcurrentFailuresAreAllCounted(t *testing.T) {
	env := newTestEnv(t, gedauth.WithLockout(100, time.Minute))
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = env.auth.Login(ctx, "agent@ged.gov", "Wrong1Password")
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	acc, _ := env.accounts.GetAccountByID(ctx, id)
	if acc.FailedLoginAttempts != 10 {
		t.Fatalf("failed attempts = %d, want 10", acc.FailedLoginAttempts)
	}
}
