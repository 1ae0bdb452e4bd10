package gedauth

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names for secrets.
const (
	EnvAccessTokenSecret  = "GEDAUTH_ACCESS_TOKEN_SECRET"
	EnvRefreshTokenSecret = "GEDAUTH_REFRESH_TOKEN_SECRET"
	EnvEncryptionKey      = "GEDAUTH_ENCRYPTION_KEY"
)

// ==================== SECRETS FROM ENV ====================

// SecretsFromEnv loads secrets from environment variables.
// Expected variables (base64 or hex encoded, 32 bytes each):
//   - GEDAUTH_ACCESS_TOKEN_SECRET
//   - GEDAUTH_REFRESH_TOKEN_SECRET
//   - GEDAUTH_ENCRYPTION_KEY
func SecretsFromEnv() (Secrets, error) {
	return secretsFromLookup(os.Getenv)
}

// SecretsFromEnvFile loads secrets from a .env style file without touching
// the process environment.
func SecretsFromEnvFile(path string) (Secrets, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return Secrets{}, err
	}
	return secretsFromLookup(func(key string) string { return values[key] })
}

// MustSecretsFromEnv loads secrets from environment or panics.
func MustSecretsFromEnv() Secrets {
	s, err := SecretsFromEnv()
	if err != nil {
		panic("gedauth: " + err.Error())
	}
	return s
}

func secretsFromLookup(lookup func(string) string) (Secrets, error) {
	access, err := decodeSecret(lookup(EnvAccessTokenSecret))
	if err != nil {
		return Secrets{}, fmt.Errorf("%s: %w", EnvAccessTokenSecret, err)
	}
	refresh, err := decodeSecret(lookup(EnvRefreshTokenSecret))
	if err != nil {
		return Secrets{}, fmt.Errorf("%s: %w", EnvRefreshTokenSecret, err)
	}
	enc, err := decodeSecret(lookup(EnvEncryptionKey))
	if err != nil {
		return Secrets{}, fmt.Errorf("%s: %w", EnvEncryptionKey, err)
	}
	return Secrets{
		AccessTokenSecret:  access,
		RefreshTokenSecret: refresh,
		EncryptionKey:      enc,
	}, nil
}

func decodeSecret(val string) ([]byte, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil, errors.New("not set")
	}

	decoded, err := base64.StdEncoding.DecodeString(val)
	if err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	if len(val) == 64 {
		decoded, err = hex.DecodeString(val)
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}

	return nil, errors.New("must be 32 bytes (base64 or hex encoded)")
}

// ==================== OPTION HELPERS ====================

// WithSecretsFromEnv loads secrets from environment variables.
func WithSecretsFromEnv() Option {
	return func(s *AuthService) error {
		secrets, err := SecretsFromEnv()
		if err != nil {
			return err
		}
		return WithSecrets(secrets)(s)
	}
}

// WithSecretsFromEnvFile loads secrets from a .env file.
func WithSecretsFromEnvFile(path string) Option {
	return func(s *AuthService) error {
		secrets, err := SecretsFromEnvFile(path)
		if err != nil {
			return err
		}
		return WithSecrets(secrets)(s)
	}
}

// ==================== CONFIG FROM ENV ====================

// ConfigFromEnv creates configuration options from GEDAUTH_* environment variables.
func ConfigFromEnv() []Option {
	var opts []Option

	if name := strings.TrimSpace(os.Getenv("GEDAUTH_APP_NAME")); name != "" {
		opts = append(opts, WithAppName(name))
	}
	issuer := strings.TrimSpace(os.Getenv("GEDAUTH_JWT_ISSUER"))
	audience := strings.TrimSpace(os.Getenv("GEDAUTH_JWT_AUDIENCE"))
	if issuer != "" || audience != "" {
		def := DefaultConfig()
		if issuer == "" {
			issuer = def.Issuer
		}
		if audience == "" {
			audience = def.Audience
		}
		opts = append(opts, WithIssuer(issuer, audience))
	}

	access, accessOK := envDuration("GEDAUTH_ACCESS_TOKEN_TTL")
	refresh, refreshOK := envDuration("GEDAUTH_REFRESH_TOKEN_TTL")
	if accessOK || refreshOK {
		opts = append(opts, WithTokenTTL(access, refresh))
	}

	maxAttempts, maxOK := envInt("GEDAUTH_MAX_LOGIN_ATTEMPTS")
	lockout, lockoutOK := envDuration("GEDAUTH_LOCKOUT_DURATION")
	if maxOK || lockoutOK {
		def := DefaultConfig()
		if !maxOK {
			maxAttempts = def.MaxLoginAttempts
		}
		if !lockoutOK {
			lockout = def.LockoutDuration
		}
		opts = append(opts, WithLockout(maxAttempts, lockout))
	}

	pending, pendingOK := envDuration("GEDAUTH_MFA_PENDING_TTL")
	setup, setupOK := envDuration("GEDAUTH_MFA_SETUP_TTL")
	if pendingOK || setupOK {
		opts = append(opts, WithMFATTL(pending, setup))
	}
	if v, ok := envBool("GEDAUTH_TOTP_QR_CODE"); ok {
		opts = append(opts, WithTOTPQRCode(v))
	}

	if n, ok := envInt("GEDAUTH_HASH_WORKERS"); ok {
		opts = append(opts, WithHashWorkers(n, 0))
	}
	if n, ok := envInt("GEDAUTH_AUDIT_WORKERS"); ok {
		opts = append(opts, WithAuditWorkers(n, 0))
	}
	if prefix := strings.TrimSpace(os.Getenv("GEDAUTH_KEY_PREFIX")); prefix != "" {
		opts = append(opts, WithKeyPrefix(prefix))
	}

	return opts
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}
