package gedauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ged-ministere/gedauth"
	"github.com/ged-ministere/gedauth/crypto"
)

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	first := env.login(t, "agent@ged.gov")

	env.clock.Advance(time.Hour)
	second, err := env.auth.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if second.SessionID != first.SessionID {
		t.Errorf("session id changed: %s -> %s", first.SessionID, second.SessionID)
	}
	if second.FamilyID == first.FamilyID {
		t.Error("rotation must create a new family")
	}
	if !second.RefreshExpiresAt.Equal(first.RefreshExpiresAt.Truncate(time.Second)) {
		t.Errorf("absolute expiry moved: %v -> %v", first.RefreshExpiresAt, second.RefreshExpiresAt)
	}

	claims, err := env.auth.AuthenticateAccess(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if claims.Subject != id {
		t.Errorf("subject = %s, want %s", claims.Subject, id)
	}

	if _, ok, _ := env.kv.Get(ctx, "tokenfamily:"+first.FamilyID); ok {
		t.Error("old family record should be deleted")
	}
	if owner, ok, _ := env.kv.Get(ctx, "tokenfamily:"+second.FamilyID); !ok || owner != id {
		t.Errorf("new family owner = %q (present %v), want %s", owner, ok, id)
	}
}

func TestRefreshReuseIsDetected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.register(t, "agent@ged.gov")
	first := env.login(t, "agent@ged.gov")

	second, err := env.auth.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.auth.Refresh(ctx, first.RefreshToken); !errors.Is(err, gedauth.ErrTokenFamilyReuse) {
			t.Fatalf("replay %d: got %v, want ErrTokenFamilyReuse", i+1, err)
		}
	}

	// The legitimate successor keeps working.
	if _, err := env.auth.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("successor refresh failed: %v", err)
	}

	if got := env.auth.Metrics().Snapshot().FamilyReuse; got != 2 {
		t.Errorf("family reuse metric = %d, want 2", got)
	}
	env.drainAudit(t)
	events := env.audit.Events()
	found := false
	for _, e := range events {
		if e.Type == gedauth.EventTokenFamilyReuse && e.AccountID == id {
			found = true
		}
	}
	if !found {
		t.Error("token_family_reuse audit event missing")
	}
}

func TestRefreshWithDeletedFamilyIsReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "agent@ged.gov")
	pair := env.login(t, "agent@ged.gov")

	if _, err := env.kv.Delete(ctx, "tokenfamily:"+pair.FamilyID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := env.auth.Refresh(ctx, pair.RefreshToken); !errors.Is(err, gedauth.ErrTokenFamilyReuse) {
		t.Fatalf("got %v, want ErrTokenFamilyReuse", err)
	}
}

func TestRefreshWithForeignFamilyIsReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "agent@ged.gov")
	other := env.register(t, "other@ged.gov")
	pair := env.login(t, "agent@ged.gov")

	if err := env.kv.Set(ctx, "tokenfamily:"+pair.FamilyID, other, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := env.auth.Refresh(ctx, pair.RefreshToken); !errors.Is(err, gedauth.ErrTokenFamilyReuse) {
		t.Fatalf("got %v, want ErrTokenFamilyReuse", err)
	}
	if _, ok, _ := env.kv.Get(ctx, "tokenfamily:"+pair.FamilyID); ok {
		t.Error("foreign family record should be deleted")
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "agent@ged.gov")
	pair := env.login(t, "agent@ged.gov")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		reuse   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.auth.Refresh(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, gedauth.ErrTokenFamilyReuse):
				reuse++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 || reuse != n-1 {
		t.Fatalf("success=%d reuse=%d, want 1 and %d", success, reuse, n-1)
	}
}

func TestRotatedFamilyKeepsRemainingLifetime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "agent@ged.gov")
	first := env.login(t, "agent@ged.gov")
	sessionEnd := first.RefreshExpiresAt

	env.clock.Advance(3 * 24 * time.Hour)
	second, err := env.auth.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	env.clock.Advance(sessionEnd.Sub(env.clock.Now()) - time.Second)
	if _, ok, _ := env.kv.Get(ctx, "tokenfamily:"+second.FamilyID); !ok {
		t.Fatal("family should live until the session end")
	}
	env.clock.Advance(time.Second)
	if _, ok, _ := env.kv.Get(ctx, "tokenfamily:"+second.FamilyID); ok {
		t.Fatal("family should expire with the session")
	}
	if _, err := env.auth.Refresh(ctx, second.RefreshToken); !errors.Is(err, gedauth.ErrTokenExpired) {
		t.Fatalf("refresh at session end: got %v, want ErrTokenExpired", err)
	}
}

func TestRefreshRejectsInactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	id := env.register(t, "agent@ged.gov")
	pair := env.login(t, "agent@ged.gov")
	_ = env.accounts.SetStatus(id, gedauth.StatusInactive)

	if _, err := env.auth.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, gedauth.ErrAccountInactive) {
		t.Fatalf("got %v, want ErrAccountInactive", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "agent@ged.gov")
	pair := env.login(t, "agent@ged.gov")

	if _, err := env.auth.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, gedauth.ErrTokenMalformed) {
		t.Fatalf("got %v, want ErrTokenMalformed", err)
	}
}

func TestRefreshOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, gedauth.WithRedis(client), gedauth.WithKeyPrefix("ged:"))
	ctx := context.Background()
	env.register(t, "agent@ged.gov")
	pair := env.login(t, "agent@ged.gov")

	if !mr.Exists("ged:tokenfamily:" + pair.FamilyID) {
		t.Fatal("family record not written to redis")
	}
	if ttl := mr.TTL("ged:tokenfamily:" + pair.FamilyID); ttl != 7*24*time.Hour {
		t.Errorf("family ttl = %v, want 168h", ttl)
	}

	next, err := env.auth.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !mr.Exists("ged:blacklist:" + crypto.HashToken(pair.RefreshToken)) {
		t.Error("spent refresh token not blacklisted")
	}
	if _, err := env.auth.Refresh(ctx, pair.RefreshToken); !errors.Is(err, gedauth.ErrTokenFamilyReuse) {
		t.Fatalf("replay: got %v, want ErrTokenFamilyReuse", err)
	}
	if _, err := env.auth.AuthenticateAccess(ctx, next.AccessToken); err != nil {
		t.Fatalf("rotated access token rejected: %v", err)
	}
}
