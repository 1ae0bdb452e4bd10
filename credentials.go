package gedauth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func (s *AuthService) validatePassword(password string) error {
	if len(password) < s.config.MinPasswordLength || len(password) > 256 {
		return ErrWeakPassword
	}
	if !s.config.RequirePasswordComplexity {
		return nil
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}

// verifyCredentials checks email and password. Unknown email and wrong
// password both return ErrInvalidCredentials after the same amount of
// hashing work.
func (s *AuthService) verifyCredentials(ctx context.Context, email, password string) (*Account, error) {
	email = normalizeEmail(email)

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("load account: %w", err)
		}
		// Use dummy hash to prevent timing attacks
		if _, err := s.hasher.Hash(ctx, password, s.dummySalt); err != nil {
			return nil, err
		}
		s.metrics.loginFailed.Add(1)
		s.audit(ctx, AuditEvent{Type: EventLoginFailed, Email: crypto.MaskEmail(email), Details: map[string]any{"reason": "invalid_credentials"}})
		return nil, ErrInvalidCredentials
	}

	if account.IsLocked(s.now()) {
		s.metrics.loginFailed.Add(1)
		s.audit(ctx, AuditEvent{Type: EventLoginFailed, AccountID: account.ID, Details: map[string]any{"reason": "account_locked"}})
		return nil, ErrAccountLocked
	}
	if account.Status != StatusActive {
		s.metrics.loginFailed.Add(1)
		s.audit(ctx, AuditEvent{Type: EventLoginFailed, AccountID: account.ID, Details: map[string]any{"reason": "account_inactive", "status": string(account.Status)}})
		return nil, ErrAccountInactive
	}

	ok, err := s.hasher.Verify(ctx, password, account.PasswordHash, account.PasswordSalt)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.loginFailed.Add(1)
		locked, err := s.recordFailure(ctx, account)
		if err != nil {
			return nil, err
		}
		s.audit(ctx, AuditEvent{Type: EventLoginFailed, AccountID: account.ID, Details: map[string]any{"reason": "invalid_credentials"}})
		if locked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.accounts.ResetFailedLogins(ctx, account.ID); err != nil {
		s.logger.Error("reset failed logins", zap.String("account_id", account.ID), zap.Error(err))
		return nil, fmt.Errorf("reset failed logins: %w", err)
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	return account, nil
}
