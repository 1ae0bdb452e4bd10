package gedauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
)

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// RegisterResult holds the new account and its first session.
type RegisterResult struct {
	Account *Account          `json:"account"`
	Tokens  *crypto.TokenPair `json:"tokens"`
}

// LoginResult holds either Tokens, or a pending MFA challenge when
// MFARequired is set.
type LoginResult struct {
	AccountID    string            `json:"account_id"`
	MFARequired  bool              `json:"mfa_required"`
	PendingToken string            `json:"pending_token,omitempty"`
	Tokens       *crypto.TokenPair `json:"tokens,omitempty"`
}

// Register creates an ACTIVE account with the default role and opens a session.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.validatePassword(in.Password); err != nil {
		return nil, err
	}

	salt, err := crypto.GenerateSalt(crypto.DefaultSaltSize)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(ctx, in.Password, salt)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := Account{
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         DefaultRole,
		Status:       StatusActive,
		PasswordHash: hash,
		PasswordSalt: salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.accounts.CreateAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	account.ID = id

	pair, err := s.issueSession(ctx, &account)
	if err != nil {
		return nil, err
	}

	s.metrics.registerSuccess.Add(1)
	s.audit(ctx, AuditEvent{Type: EventRegister, AccountID: id, Email: crypto.MaskEmail(email), Success: true, Details: map[string]any{"method": "self_register"}})
	s.logger.Info("account registered", zap.String("account_id", id))
	return &RegisterResult{Account: &account, Tokens: pair}, nil
}

// Login verifies credentials and either opens a session or, for MFA
// accounts, issues a pending challenge.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if account.MFAEnabled {
		pending, err := s.issueMFAChallenge(ctx, account)
		if err != nil {
			return nil, err
		}
		return &LoginResult{AccountID: account.ID, MFARequired: true, PendingToken: pending}, nil
	}

	pair, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.metrics.loginSuccess.Add(1)
	s.audit(ctx, AuditEvent{Type: EventLogin, AccountID: account.ID, Success: true, Details: map[string]any{"session_id": pair.SessionID}})
	return &LoginResult{AccountID: account.ID, Tokens: pair}, nil
}

// Logout revokes exactly one access token for the rest of its lifetime.
// Other tokens of the session and its refresh family are untouched.
func (s *AuthService) Logout(ctx context.Context, accessToken, accountID string) error {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return err
	}
	if claims.Subject != accountID {
		return ErrTokenMalformed
	}

	ttl := crypto.Remaining(claims.ExpiresAt, s.now())
	if ttl > s.config.AccessTokenTTL {
		ttl = s.config.AccessTokenTTL
	}
	if err := s.revocation.Blacklist(ctx, accessToken, ttl); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return err
	}

	s.metrics.tokensRevoked.Add(1)
	s.audit(ctx, AuditEvent{Type: EventLogout, AccountID: accountID, Success: true, Details: map[string]any{"session_id": claims.SessionID}})
	return nil
}

// InvalidateAll rejects every token of accountID issued before now.
func (s *AuthService) InvalidateAll(ctx context.Context, accountID string) error {
	if err := s.revocation.SetInvalidationMarker(ctx, accountID, s.now(), s.config.RefreshTokenTTL); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return err
	}

	s.logger.Info("all sessions invalidated", zap.String("account_id", accountID))
	s.audit(ctx, AuditEvent{Type: EventSessionsInvalidated, AccountID: accountID, Success: true})
	return nil
}

// ChangePassword replaces the password and invalidates every session of
// the account, including the caller's.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if current == next {
		return ErrPasswordUnchanged
	}
	if err := s.validatePassword(next); err != nil {
		return err
	}

	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(ctx, current, account.PasswordHash, account.PasswordSalt)
	if err != nil {
		return err
	}
	if !ok {
		s.audit(ctx, AuditEvent{Type: EventPasswordChanged, AccountID: accountID, Details: map[string]any{"reason": "invalid_current_password"}})
		return ErrInvalidCredentials
	}

	salt, err := crypto.GenerateSalt(crypto.DefaultSaltSize)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, next, salt)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash, salt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.InvalidateAll(ctx, accountID); err != nil {
		return err
	}

	s.audit(ctx, AuditEvent{Type: EventPasswordChanged, AccountID: accountID, Success: true})
	return nil
}

// Me returns the account profile.
func (s *AuthService) Me(ctx context.Context, accountID string) (*Account, error) {
	return s.accounts.GetAccountByID(ctx, accountID)
}
