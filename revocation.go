package gedauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ged-ministere/gedauth/crypto"
	memorykv "github.com/ged-ministere/gedauth/kvstore/memory"
	rediskv "github.com/ged-ministere/gedauth/kvstore/redis"
)

// ==================== NAMESPACES ====================

// Key namespaces in the KV store.
const (
	nsTokenFamily = "tokenfamily:"
	nsBlacklist   = "blacklist:"
	nsInvalidated = "sessions:invalidated:"
	nsMFAPending  = "mfa:pending:"
	nsMFASetup    = "mfa:setup:"
)

// revocationStore exposes typed namespaces over a KVStore. Every error it
// returns wraps ErrRevocationStoreUnavailable.
type revocationStore struct {
	kv     KVStore
	prefix string
}

func newRevocationStore(kv KVStore, prefix string) *revocationStore {
	return &revocationStore{kv: kv, prefix: prefix}
}

func (r *revocationStore) key(ns, id string) string {
	return r.prefix + ns + id
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRevocationStoreUnavailable, op, err)
}

// ==================== TOKEN BLACKLIST ====================

// Blacklist revokes a single token for ttl. Tokens are keyed by their
// SHA-256 so raw token material never reaches the store.
func (r *revocationStore) Blacklist(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // Already expired
	}
	if err := r.kv.Set(ctx, r.key(nsBlacklist, crypto.HashToken(token)), "1", ttl); err != nil {
		return unavailable("blacklist", err)
	}
	return nil
}

// IsBlacklisted reports whether token was revoked.
func (r *revocationStore) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, r.key(nsBlacklist, crypto.HashToken(token)))
	if err != nil {
		return false, unavailable("blacklist lookup", err)
	}
	return ok, nil
}

// ==================== INVALIDATION MARKER ====================

// SetInvalidationMarker rejects every token of accountID issued before cutoff.
func (r *revocationStore) SetInvalidationMarker(ctx context.Context, accountID string, cutoff time.Time, ttl time.Duration) error {
	value := strconv.FormatInt(cutoff.UnixMilli(), 10)
	if err := r.kv.Set(ctx, r.key(nsInvalidated, accountID), value, ttl); err != nil {
		return unavailable("invalidation marker", err)
	}
	return nil
}

// InvalidationMarker returns the cutoff for accountID, if any.
func (r *revocationStore) InvalidationMarker(ctx context.Context, accountID string) (time.Time, bool, error) {
	value, ok, err := r.kv.Get(ctx, r.key(nsInvalidated, accountID))
	if err != nil {
		return time.Time{}, false, unavailable("invalidation marker lookup", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, unavailable("invalidation marker decode", err)
	}
	return time.UnixMilli(ms), true, nil
}

// ==================== TOKEN FAMILIES ====================

// RegisterFamily records accountID as the owner of familyID for ttl.
func (r *revocationStore) RegisterFamily(ctx context.Context, familyID, accountID string, ttl time.Duration) error {
	if err := r.kv.Set(ctx, r.key(nsTokenFamily, familyID), accountID, ttl); err != nil {
		return unavailable("register family", err)
	}
	return nil
}

// FamilyOwner returns the account owning familyID.
func (r *revocationStore) FamilyOwner(ctx context.Context, familyID string) (string, bool, error) {
	owner, ok, err := r.kv.Get(ctx, r.key(nsTokenFamily, familyID))
	if err != nil {
		return "", false, unavailable("family lookup", err)
	}
	return owner, ok, nil
}

// DeleteFamily removes familyID and reports whether this call removed it.
func (r *revocationStore) DeleteFamily(ctx context.Context, familyID string) (bool, error) {
	ok, err := r.kv.Delete(ctx, r.key(nsTokenFamily, familyID))
	if err != nil {
		return false, unavailable("delete family", err)
	}
	return ok, nil
}

// ==================== MFA CHALLENGES ====================

func (r *revocationStore) SetPendingChallenge(ctx context.Context, accountID, token string, ttl time.Duration) error {
	if err := r.kv.Set(ctx, r.key(nsMFAPending, accountID), token, ttl); err != nil {
		return unavailable("pending challenge", err)
	}
	return nil
}

func (r *revocationStore) PendingChallenge(ctx context.Context, accountID string) (string, bool, error) {
	token, ok, err := r.kv.Get(ctx, r.key(nsMFAPending, accountID))
	if err != nil {
		return "", false, unavailable("pending challenge lookup", err)
	}
	return token, ok, nil
}

// ConsumePendingChallenge deletes the challenge; false means another caller got it first.
func (r *revocationStore) ConsumePendingChallenge(ctx context.Context, accountID string) (bool, error) {
	ok, err := r.kv.Delete(ctx, r.key(nsMFAPending, accountID))
	if err != nil {
		return false, unavailable("consume pending challenge", err)
	}
	return ok, nil
}

func (r *revocationStore) StageMFASecret(ctx context.Context, accountID, secret string, ttl time.Duration) error {
	if err := r.kv.Set(ctx, r.key(nsMFASetup, accountID), secret, ttl); err != nil {
		return unavailable("stage mfa secret", err)
	}
	return nil
}

func (r *revocationStore) StagedMFASecret(ctx context.Context, accountID string) (string, bool, error) {
	secret, ok, err := r.kv.Get(ctx, r.key(nsMFASetup, accountID))
	if err != nil {
		return "", false, unavailable("staged mfa secret lookup", err)
	}
	return secret, ok, nil
}

func (r *revocationStore) ClearStagedMFASecret(ctx context.Context, accountID string) error {
	if _, err := r.kv.Delete(ctx, r.key(nsMFASetup, accountID)); err != nil {
		return unavailable("clear staged mfa secret", err)
	}
	return nil
}

// ==================== OPTIONS ====================

// WithKVStore sets the store behind blacklist, families, markers and MFA state.
func WithKVStore(kv KVStore) Option {
	return func(s *AuthService) error {
		s.kv = kv
		return nil
	}
}

// WithRedis uses Redis for all ephemeral state.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *AuthService) error {
		s.kv = rediskv.New(client)
		return nil
	}
}

// WithMemoryKV uses an in-memory store for single-instance deployments.
func WithMemoryKV() Option {
	return func(s *AuthService) error {
		s.kv = memorykv.New(memorykv.WithClock(func() time.Time { return s.now() }))
		return nil
	}
}
