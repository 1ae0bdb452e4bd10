package gedauth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ged-ministere/gedauth"
)

func TestMFAEnrollment(t *testing.T) {
	env := newTestEnv(t, gedauth.WithTOTPQRCode(true))
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	setup, err := env.auth.SetupMFA(ctx, id)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	if setup.Secret == "" || !strings.HasPrefix(setup.URL, "otpauth://totp/") {
		t.Fatalf("unexpected setup: %+v", setup)
	}
	if !strings.HasPrefix(setup.QRCodeDataURL, "data:image/png;base64,") {
		t.Error("qr code missing")
	}
	if setup.Issuer != "GED-Ministere" || setup.AccountName != "agent@ged.gov" {
		t.Errorf("issuer/account = %s/%s", setup.Issuer, setup.AccountName)
	}

	acc, _ := env.accounts.GetAccountByID(ctx, id)
	if acc.MFAEnabled {
		t.Fatal("setup alone must not enable MFA")
	}

	if err := env.auth.EnableMFA(ctx, id, wrongCode(env.code(t, setup.Secret))); !errors.Is(err, gedauth.ErrInvalidMFACode) {
		t.Fatalf("wrong code: got %v, want ErrInvalidMFACode", err)
	}
	if err := env.auth.EnableMFA(ctx, id, env.code(t, setup.Secret)); err != nil {
		t.Fatalf("EnableMFA failed: %v", err)
	}

	acc, _ = env.accounts.GetAccountByID(ctx, id)
	if !acc.MFAEnabled || len(acc.MFASecretEncrypted) == 0 {
		t.Fatal("MFA not enabled")
	}
	if strings.Contains(string(acc.MFASecretEncrypted), setup.Secret) {
		t.Fatal("secret stored in clear")
	}

	if _, err := env.auth.SetupMFA(ctx, id); !errors.Is(err, gedauth.ErrMFAAlreadyEnabled) {
		t.Errorf("second setup: got %v, want ErrMFAAlreadyEnabled", err)
	}
}

func TestMFASetupExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	setup, err := env.auth.SetupMFA(ctx, id)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	env.clock.Advance(10 * time.Minute)

	if err := env.auth.EnableMFA(ctx, id, env.code(t, setup.Secret)); !errors.Is(err, gedauth.ErrMFASetupExpired) {
		t.Fatalf("got %v, want ErrMFASetupExpired", err)
	}
}

func TestMFALoginChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	secret := env.enrollMFA(t, id)

	res, err := env.auth.Login(ctx, "agent@ged.gov", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.PendingToken == "" || res.Tokens != nil {
		t.Fatalf("expected a pending challenge, got %+v", res)
	}

	env.clock.Advance(30 * time.Second)
	pair, err := env.auth.CompleteMFAChallenge(ctx, id, res.PendingToken, env.code(t, secret))
	if err != nil {
		t.Fatalf("CompleteMFAChallenge failed: %v", err)
	}
	if _, err := env.auth.AuthenticateAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("mfa session rejected: %v", err)
	}

	// Single use.
	if _, err := env.auth.CompleteMFAChallenge(ctx, id, res.PendingToken, env.code(t, secret)); !errors.Is(err, gedauth.ErrInvalidPendingChallenge) {
		t.Fatalf("second use: got %v, want ErrInvalidPendingChallenge", err)
	}

	env.drainAudit(t)
	if got := env.audit.Count(gedauth.EventMFAVerified); got != 1 {
		t.Errorf("mfa_verified events = %d, want 1", got)
	}
}

func TestMFAWrongCodeConsumesChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	secret := env.enrollMFA(t, id)

	res, _ := env.auth.Login(ctx, "agent@ged.gov", testPassword)
	good := env.code(t, secret)

	if _, err := env.auth.CompleteMFAChallenge(ctx, id, res.PendingToken, wrongCode(good)); !errors.Is(err, gedauth.ErrInvalidMFACode) {
		t.Fatalf("wrong code: got %v, want ErrInvalidMFACode", err)
	}
	if _, err := env.auth.CompleteMFAChallenge(ctx, id, res.PendingToken, good); !errors.Is(err, gedauth.ErrInvalidPendingChallenge) {
		t.Fatalf("retry after wrong code: got %v, want ErrInvalidPendingChallenge", err)
	}
	if got := env.auth.Metrics().Snapshot().MFAFailed; got != 1 {
		t.Errorf("mfa failed metric = %d, want 1", got)
	}
}

func TestMFAMismatchedChallengeIsNotConsumed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	secret := env.enrollMFA(t, id)

	res, _ := env.auth.Login(ctx, "agent@ged.gov", testPassword)

	if _, err := env.auth.CompleteMFAChallenge(ctx, id, strings.Repeat("f", 64), env.code(t, secret)); !errors.Is(err, gedauth.ErrInvalidPendingChallenge) {
		t.Fatalf("forged challenge: got %v, want ErrInvalidPendingChallenge", err)
	}
	if _, err := env.auth.CompleteMFAChallenge(ctx, id, res.PendingToken, env.code(t, secret)); err != nil {
		t.Fatalf("genuine challenge should survive a forged attempt: %v", err)
	}
}

func TestMFAChallengeExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	secret := env.enrollMFA(t, id)

	res, _ := env.auth.Login(ctx, "agent@ged.gov", testPassword)
	env.clock.Advance(5 * time.Minute)

	if _, err := env.auth.CompleteMFAChallenge(ctx, id, res.PendingToken, env.code(t, secret)); !errors.Is(err, gedauth.ErrInvalidPendingChallenge) {
		t.Fatalf("got %v, want ErrInvalidPendingChallenge", err)
	}
}

func TestMFANewLoginReplacesChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	secret := env.enrollMFA(t, id)

	first, _ := env.auth.Login(ctx, "agent@ged.gov", testPassword)
	second, _ := env.auth.Login(ctx, "agent@ged.gov", testPassword)

	if _, err := env.auth.CompleteMFAChallenge(ctx, id, first.PendingToken, env.code(t, secret)); !errors.Is(err, gedauth.ErrInvalidPendingChallenge) {
		t.Fatalf("stale challenge: got %v, want ErrInvalidPendingChallenge", err)
	}
	if _, err := env.auth.CompleteMFAChallenge(ctx, id, second.PendingToken, env.code(t, secret)); err != nil {
		t.Fatalf("latest challenge failed: %v", err)
	}
}

func TestDisableMFA(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	if err := env.auth.DisableMFA(ctx, id, "123456"); !errors.Is(err, gedauth.ErrMFANotEnabled) {
		t.Fatalf("not enabled: got %v", err)
	}

	secret := env.enrollMFA(t, id)
	code := env.code(t, secret)
	if err := env.auth.DisableMFA(ctx, id, wrongCode(code)); !errors.Is(err, gedauth.ErrInvalidMFACode) {
		t.Fatalf("wrong code: got %v", err)
	}
	if err := env.auth.DisableMFA(ctx, id, code); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}

	res, err := env.auth.Login(ctx, "agent@ged.gov", testPassword)
	if err != nil || res.MFARequired {
		t.Fatalf("login after disable: %+v, %v", res, err)
	}
}

func TestMFACodeFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")

	setup, _ := env.auth.SetupMFA(ctx, id)
	code := env.code(t, setup.Secret)
	spaced := code[:3] + " " + code[3:]

	if err := env.auth.EnableMFA(ctx, id, "12ab56"); !errors.Is(err, gedauth.ErrInvalidMFACode) {
		t.Fatalf("non digits: got %v", err)
	}
	if err := env.auth.EnableMFA(ctx, id, spaced); err != nil {
		t.Fatalf("spaced code rejected: %v", err)
	}
}
