package gedauth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
)

// MFASetup is returned by SetupMFA. The secret is staged, not yet active.
type MFASetup struct {
	Secret        string    `json:"secret"`
	URL           string    `json:"otpauth_url"`
	Issuer        string    `json:"issuer"`
	AccountName   string    `json:"account_name"`
	QRCodePNG     string    `json:"qr_code_png,omitempty"`
	QRCodeDataURL string    `json:"qr_code_data_url,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ==================== ENROLLMENT ====================

// SetupMFA generates a TOTP secret and stages it until EnableMFA confirms
// a code. The account is not modified.
func (s *AuthService) SetupMFA(ctx context.Context, accountID string) (*MFASetup, error) {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.AppName,
		AccountName: account.Email,
		SecretSize:  s.config.TOTPSecretSize,
		Algorithm:   otp.AlgorithmSHA1,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	if err := s.revocation.StageMFASecret(ctx, account.ID, key.Secret(), s.config.MFASetupTTL); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}

	setup := &MFASetup{
		Secret:      key.Secret(),
		URL:         key.URL(),
		Issuer:      s.config.AppName,
		AccountName: account.Email,
		ExpiresAt:   s.now().Add(s.config.MFASetupTTL),
	}
	if s.config.TOTPQRCodeEnabled {
		pngB64, dataURL, err := s.buildTOTPQRCode(key.URL())
		if err != nil {
			s.logger.Warn("qr code generation failed", zap.Error(err))
		} else {
			setup.QRCodePNG = pngB64
			setup.QRCodeDataURL = dataURL
		}
	}

	s.audit(ctx, AuditEvent{Type: EventMFASetup, AccountID: account.ID, Success: true})
	return setup, nil
}

// EnableMFA activates the staged secret once code matches it.
func (s *AuthService) EnableMFA(ctx context.Context, accountID, code string) error {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}

	secret, ok, err := s.revocation.StagedMFASecret(ctx, account.ID)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return err
	}
	if !ok {
		return ErrMFASetupExpired
	}

	if !s.validateTOTP(code, secret) {
		s.metrics.mfaFailed.Add(1)
		s.audit(ctx, AuditEvent{Type: EventMFAFailed, AccountID: account.ID, Details: map[string]any{"stage": "enable"}})
		return ErrInvalidMFACode
	}

	secretEnc, secretNonce, err := crypto.Encrypt([]byte(secret), s.keys.TOTPKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncryptionError, err)
	}
	if err := s.accounts.EnableMFA(ctx, account.ID, secretEnc, secretNonce); err != nil {
		return fmt.Errorf("enable mfa: %w", err)
	}
	if err := s.revocation.ClearStagedMFASecret(ctx, account.ID); err != nil {
		// Staging expires on its own; the account is already enrolled.
		s.logger.Warn("clear staged mfa secret", zap.String("account_id", account.ID), zap.Error(err))
	}

	s.audit(ctx, AuditEvent{Type: EventMFAEnabled, AccountID: account.ID, Success: true})
	return nil
}

// DisableMFA turns MFA off after checking a code against the active secret.
func (s *AuthService) DisableMFA(ctx context.Context, accountID, code string) error {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.MFAEnabled {
		return ErrMFANotEnabled
	}

	secret, err := s.mfaSecret(account)
	if err != nil {
		return err
	}
	if !s.validateTOTP(code, secret) {
		s.metrics.mfaFailed.Add(1)
		s.audit(ctx, AuditEvent{Type: EventMFAFailed, AccountID: account.ID, Details: map[string]any{"stage": "disable"}})
		return ErrInvalidMFACode
	}

	if err := s.accounts.DisableMFA(ctx, account.ID); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}

	s.audit(ctx, AuditEvent{Type: EventMFADisabled, AccountID: account.ID, Success: true})
	return nil
}

// ==================== LOGIN CHALLENGE ====================

// issueMFAChallenge stores a single-use pending token for accountID.
func (s *AuthService) issueMFAChallenge(ctx context.Context, account *Account) (string, error) {
	token, err := crypto.RandomToken(32)
	if err != nil {
		return "", err
	}
	if err := s.revocation.SetPendingChallenge(ctx, account.ID, token, s.config.MFAPendingTTL); err != nil {
		s.metrics.storeUnavailable.Add(1)
		return "", err
	}

	s.metrics.mfaChallenges.Add(1)
	s.audit(ctx, AuditEvent{Type: EventMFAChallengeIssued, AccountID: account.ID, Success: true})
	return token, nil
}

// CompleteMFAChallenge finishes an MFA login. The pending challenge is
// consumed as soon as it matches, before the code is checked, so a wrong
// code means starting the login over.
func (s *AuthService) CompleteMFAChallenge(ctx context.Context, accountID, pendingToken, code string) (*crypto.TokenPair, error) {
	if accountID == "" || pendingToken == "" {
		return nil, ErrInvalidPendingChallenge
	}

	stored, ok, err := s.revocation.PendingChallenge(ctx, accountID)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	if !ok || !crypto.ConstantTimeEqualString(stored, pendingToken) {
		return nil, ErrInvalidPendingChallenge
	}

	consumed, err := s.revocation.ConsumePendingChallenge(ctx, accountID)
	if err != nil {
		s.metrics.storeUnavailable.Add(1)
		return nil, err
	}
	if !consumed {
		return nil, ErrInvalidPendingChallenge
	}

	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidPendingChallenge
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.Status != StatusActive {
		return nil, ErrAccountInactive
	}
	if !account.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	secret, err := s.mfaSecret(account)
	if err != nil {
		return nil, err
	}
	if !s.validateTOTP(code, secret) {
		s.metrics.mfaFailed.Add(1)
		s.audit(ctx, AuditEvent{Type: EventMFAFailed, AccountID: account.ID, Details: map[string]any{"stage": "login"}})
		return nil, ErrInvalidMFACode
	}

	pair, err := s.issueSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.metrics.loginSuccess.Add(1)
	s.audit(ctx, AuditEvent{Type: EventMFAVerified, AccountID: account.ID, Success: true})
	s.audit(ctx, AuditEvent{Type: EventLogin, AccountID: account.ID, Success: true, Details: map[string]any{"session_id": pair.SessionID, "mfa": true}})
	return pair, nil
}

// ==================== HELPERS ====================

func (s *AuthService) mfaSecret(account *Account) (string, error) {
	if len(account.MFASecretEncrypted) == 0 {
		return "", ErrMFANotEnabled
	}
	secret, err := crypto.Decrypt(account.MFASecretEncrypted, account.MFASecretNonce, s.keys.TOTPKey)
	if err != nil {
		s.logger.Error("decrypt mfa secret", zap.String("account_id", account.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrEncryptionError, err)
	}
	return string(secret), nil
}

// validateTOTP checks a 6 digit code with a one step skew. Whitespace in
// the code is ignored.
func (s *AuthService) validateTOTP(code, secret string) bool {
	code = strings.Join(strings.Fields(code), "")
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	valid, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      s.config.TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		s.logger.Error("totp verify error", zap.Error(err))
		return false
	}
	return valid
}

func (s *AuthService) buildTOTPQRCode(url string) (string, string, error) {
	size := s.config.TOTPQRCodeSize
	if size <= 0 {
		size = 256
	}
	code, err := qr.Encode(url, qr.M, qr.Auto)
	if err != nil {
		return "", "", err
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return "", "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", "", err
	}
	pngB64 := base64.StdEncoding.EncodeToString(buf.Bytes())
	dataURL := "data:image/png;base64," + pngB64
	return pngB64, dataURL, nil
}
