package gedauth

import (
	"time"

	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
)

// Option configures the AuthService.
type Option func(*AuthService) error

// ==================== REQUIRED ====================

// WithAccountStore sets the durable account repository.
func WithAccountStore(store AccountStore) Option {
	return func(s *AuthService) error {
		s.accounts = store
		return nil
	}
}

// WithSecrets sets the cryptographic secrets.
func WithSecrets(secrets Secrets) Option {
	return func(s *AuthService) error {
		if len(secrets.AccessTokenSecret) != 32 {
			return ErrInvalidSecretLength
		}
		if len(secrets.RefreshTokenSecret) != 32 {
			return ErrInvalidSecretLength
		}
		if len(secrets.EncryptionKey) != 32 {
			return ErrInvalidSecretLength
		}
		if crypto.ConstantTimeEquals(secrets.AccessTokenSecret, secrets.RefreshTokenSecret) {
			return ErrSecretsNotDistinct
		}

		s.secrets = &secrets
		return nil
	}
}

// ==================== OPTIONAL PROVIDERS ====================

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *AuthService) error {
		s.logger = logger
		return nil
	}
}

// WithAuditSink sets where audit events are delivered.
func WithAuditSink(sink AuditSink) Option {
	return func(s *AuthService) error {
		s.sink = sink
		return nil
	}
}

// WithSecurityMonitor sets a custom security monitor.
func WithSecurityMonitor(monitor SecurityMonitor) Option {
	return func(s *AuthService) error {
		s.monitor = monitor
		return nil
	}
}

// WithClock overrides the time source. Tokens, lockouts and the
// in-memory KV store all follow it.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// ==================== CONFIGURATION ====================

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *AuthService) error {
		s.config = cfg
		return nil
	}
}

// WithAppName sets the TOTP issuer name.
func WithAppName(name string) Option {
	return func(s *AuthService) error {
		s.config.AppName = name
		return nil
	}
}

// WithIssuer sets the token issuer and audience.
func WithIssuer(issuer, audience string) Option {
	return func(s *AuthService) error {
		s.config.Issuer = issuer
		s.config.Audience = audience
		return nil
	}
}

// WithTokenTTL sets access and refresh token lifetimes.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(s *AuthService) error {
		if access > 0 {
			s.config.AccessTokenTTL = access
		}
		if refresh > 0 {
			s.config.RefreshTokenTTL = refresh
		}
		return nil
	}
}

// WithLockout sets the brute-force lockout policy.
func WithLockout(maxAttempts int, duration time.Duration) Option {
	return func(s *AuthService) error {
		s.config.MaxLoginAttempts = maxAttempts
		s.config.LockoutDuration = duration
		return nil
	}
}

// WithMFATTL sets how long login challenges and setup staging live.
func WithMFATTL(pending, setup time.Duration) Option {
	return func(s *AuthService) error {
		if pending > 0 {
			s.config.MFAPendingTTL = pending
		}
		if setup > 0 {
			s.config.MFASetupTTL = setup
		}
		return nil
	}
}

// WithTOTPQRCode toggles PNG QR codes in setup responses.
func WithTOTPQRCode(enabled bool) Option {
	return func(s *AuthService) error {
		s.config.TOTPQRCodeEnabled = enabled
		return nil
	}
}

// WithPasswordPolicy sets password requirements.
func WithPasswordPolicy(minLength int, requireComplexity bool) Option {
	return func(s *AuthService) error {
		s.config.MinPasswordLength = minLength
		s.config.RequirePasswordComplexity = requireComplexity
		return nil
	}
}

// WithPasswordParams sets the Argon2id cost parameters.
func WithPasswordParams(p crypto.PasswordParams) Option {
	return func(s *AuthService) error {
		s.config.Password = p
		return nil
	}
}

// WithHashWorkers sizes the password hashing pool.
func WithHashWorkers(workers, queueSize int) Option {
	return func(s *AuthService) error {
		if workers > 0 {
			s.config.HashWorkers = workers
		}
		if queueSize > 0 {
			s.config.HashQueueSize = queueSize
		}
		return nil
	}
}

// WithAuditWorkers sizes the audit dispatch queue.
func WithAuditWorkers(workers, queueSize int) Option {
	return func(s *AuthService) error {
		if workers > 0 {
			s.config.AuditWorkers = workers
		}
		if queueSize > 0 {
			s.config.AuditQueueSize = queueSize
		}
		return nil
	}
}

// WithKeyPrefix namespaces every KV key, e.g. "ged:".
func WithKeyPrefix(prefix string) Option {
	return func(s *AuthService) error {
		s.config.KeyPrefix = prefix
		return nil
	}
}
