package gedauth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// recordFailure counts a wrong password and locks the account once the
// counter reaches MaxLoginAttempts. The increment is a single atomic store
// update, so concurrent failures are never lost.
func (s *AuthService) recordFailure(ctx context.Context, account *Account) (bool, error) {
	attempts, err := s.accounts.IncrementFailedLogins(ctx, account.ID)
	if err != nil {
		return false, fmt.Errorf("increment failed logins: %w", err)
	}
	account.FailedLoginAttempts = attempts

	if attempts < s.config.MaxLoginAttempts {
		return false, nil
	}

	until := s.now().Add(s.config.LockoutDuration)
	if err := s.accounts.LockAccount(ctx, account.ID, until); err != nil {
		return false, fmt.Errorf("lock account: %w", err)
	}
	account.LockedUntil = &until

	s.metrics.accountsLocked.Add(1)
	s.logger.Warn("account locked after repeated failures",
		zap.String("account_id", account.ID),
		zap.Int("attempts", attempts),
		zap.Time("locked_until", until))
	s.audit(ctx, AuditEvent{
		Type:      EventAccountLocked,
		AccountID: account.ID,
		Details:   map[string]any{"attempts": attempts, "locked_until": until},
	})
	return true, nil
}
