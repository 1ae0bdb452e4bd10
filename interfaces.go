package gedauth

import (
	"context"
	"time"
)

// ==================== CORE INTERFACES ====================

// AccountStore is the durable account repository.
// Lookups of unknown accounts return ErrAccountNotFound; CreateAccount
// returns ErrEmailAlreadyExists on a duplicate email.
type AccountStore interface {
	CreateAccount(ctx context.Context, account Account) (string, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, accountID string) (*Account, error)
	// IncrementFailedLogins atomically bumps the counter and returns the new value.
	IncrementFailedLogins(ctx context.Context, accountID string) (int, error)
	LockAccount(ctx context.Context, accountID string, until time.Time) error
	// ResetFailedLogins zeroes the counter, clears the lock and stamps the last login.
	ResetFailedLogins(ctx context.Context, accountID string) error
	EnableMFA(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error
	DisableMFA(ctx context.Context, accountID string) error
	UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error
}

// KVStore is the ephemeral key/value store behind every revocation
// namespace. Each call must be atomic for its single key.
type KVStore interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key and reports whether this call removed it.
	Delete(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

// AuditSink receives security events. Errors are logged, never surfaced.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// HealthChecker is implemented by stores that support health checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ==================== DATA TYPES ====================

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVE"
	StatusInactive  AccountStatus = "INACTIVE"
	StatusSuspended AccountStatus = "SUSPENDED"
	StatusPending   AccountStatus = "PENDING"
)

// Account represents a user account.
type Account struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Role      Role          `json:"role"`
	Status    AccountStatus `json:"status"`

	PasswordHash []byte `json:"-"`
	PasswordSalt []byte `json:"-"`

	MFAEnabled         bool   `json:"mfa_enabled"`
	MFASecretEncrypted []byte `json:"-"`
	MFASecretNonce     []byte `json:"-"`

	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsLocked reports whether the account is locked at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// AuditEvent is a security-relevant event.
type AuditEvent struct {
	Type       string         `json:"type"`
	AccountID  string         `json:"account_id,omitempty"`
	Email      string         `json:"email,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Success    bool           `json:"success"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Audit event types.
const (
	EventRegister            = "register"
	EventLogin               = "login"
	EventLoginFailed         = "login_failed"
	EventAccountLocked       = "account_locked"
	EventMFAChallengeIssued  = "mfa_challenge_issued"
	EventMFAVerified         = "mfa_verified"
	EventMFAFailed           = "mfa_failed"
	EventMFASetup            = "mfa_setup"
	EventMFAEnabled          = "mfa_enabled"
	EventMFADisabled         = "mfa_disabled"
	EventLogout              = "logout"
	EventTokenRefreshed      = "token_refreshed"
	EventTokenFamilyReuse    = "token_family_reuse"
	EventSessionsInvalidated = "sessions_invalidated"
	EventPasswordChanged     = "password_changed"
)
