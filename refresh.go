package gedauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
)

// Refresh rotates a refresh token. The presented token is revoked and its
// family replaced by a new one; the session id and absolute expiry carry
// over. Presenting a spent token, or one whose family is gone or belongs to
// someone else, is treated as theft and returns ErrTokenFamilyReuse.
//
// Two concurrent refreshes of the same token cannot both win the family
// delete; the loser is reported as reuse.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*crypto.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocation.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	if revoked {
		// Only rotation blacklists refresh tokens: this one was already spent.
		return nil, s.familyReuse(ctx, claims, false)
	}
	if err := s.checkInvalidation(ctx, claims.Subject, claims.IssuedAtTime()); err != nil {
		return nil, err
	}

	owner, ok, err := s.revocation.FamilyOwner(ctx, claims.FamilyID)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	if !ok || owner != claims.Subject {
		return nil, s.familyReuse(ctx, claims, ok)
	}

	remaining := crypto.Remaining(claims.ExpiresAt, s.now())
	if remaining <= 0 {
		return nil, ErrTokenExpired
	}

	if err := s.revocation.Blacklist(ctx, refreshToken, remaining); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	removed, err := s.revocation.DeleteFamily(ctx, claims.FamilyID)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	if !removed {
		return nil, s.familyReuse(ctx, claims, false)
	}

	account, err := s.accounts.GetAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountInactive
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.Status != StatusActive {
		return nil, ErrAccountInactive
	}

	familyID := uuid.NewString()
	if err := s.revocation.RegisterFamily(ctx, familyID, account.ID, remaining); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}

	pair, err := s.tokens.IssuePairUntil(account.ID, account.Email, string(account.Role), claims.SessionID, familyID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.metrics.tokensRefreshed.Add(1)
	s.audit(ctx, AuditEvent{
		Type:      EventTokenRefreshed,
		AccountID: account.ID,
		Success:   true,
		Details:   map[string]any{"session_id": claims.SessionID},
	})
	return pair, nil
}

// familyReuse handles a refresh token whose family is missing or foreign.
func (s *AuthService) familyReuse(ctx context.Context, claims *crypto.RefreshClaims, recordExists bool) error {
	if recordExists {
		if _, err := s.revocation.DeleteFamily(ctx, claims.FamilyID); err != nil {
			s.logger.Error("delete reused family", zap.String("family_id", claims.FamilyID), zap.Error(err))
		}
	}

	s.metrics.familyReuse.Add(1)
	details := map[string]any{
		"session_id": claims.SessionID,
		"family_id":  claims.FamilyID,
	}
	s.audit(ctx, AuditEvent{
		Type:      EventTokenFamilyReuse,
		AccountID: claims.Subject,
		Details:   details,
	})
	s.alert(ctx, "refresh_token_reuse", claims.Subject, "high", details)
	return ErrTokenFamilyReuse
}
