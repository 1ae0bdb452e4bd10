package gedauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ged-ministere/gedauth/crypto"
)

// issueSession mints the first pair of a new session and registers its
// token family.
func (s *AuthService) issueSession(ctx context.Context, account *Account) (*crypto.TokenPair, error) {
	sessionID := uuid.NewString()
	familyID := uuid.NewString()

	pair, err := s.tokens.IssuePair(account.ID, account.Email, string(account.Role), sessionID, familyID)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.revocation.RegisterFamily(ctx, familyID, account.ID, s.config.RefreshTokenTTL); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	s.metrics.tokensIssued.Add(1)
	return pair, nil
}

// AuthenticateAccess validates an access token: signature and expiry first,
// then the blacklist, then the account invalidation marker. A store failure
// returns ErrRevocationStoreUnavailable; it never lets the token through.
func (s *AuthService) AuthenticateAccess(ctx context.Context, token string) (*crypto.AccessClaims, error) {
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocation.IsBlacklisted(ctx, token)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	if err := s.checkInvalidation(ctx, claims.Subject, claims.IssuedAtTime()); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkInvalidation rejects tokens issued strictly before the account's cutoff.
func (s *AuthService) checkInvalidation(ctx context.Context, accountID string, issuedAt time.Time) error {
	cutoff, ok, err := s.revocation.InvalidationMarker(ctx, accountID)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return err
	}
	if ok && issuedAt.Before(cutoff) {
		return ErrTokenRevoked
	}
	return nil
}

// DecodeToken returns the unverified claims of a token for diagnostics.
// The result must never be used to authorize a request.
func DecodeToken(token string) (map[string]any, error) {
	return crypto.DecodeUnverified(token)
}
