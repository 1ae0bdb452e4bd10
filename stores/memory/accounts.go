// Package memory provides in-memory account and audit stores for development
// and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ged-ministere/gedauth"
)

// Accounts implements gedauth.AccountStore in memory.
// Note: data is lost on restart. Use the postgres store in production.
type Accounts struct {
	mu      sync.RWMutex
	byID    map[string]*gedauth.Account
	byEmail map[string]string
	now     func() time.Time
}

// Option configures the account store.
type Option func(*Accounts)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Accounts) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccounts creates an empty account store.
func NewAccounts(opts ...Option) *Accounts {
	a := &Accounts{
		byID:    make(map[string]*gedauth.Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Accounts) CreateAccount(ctx context.Context, account gedauth.Account) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := a.byEmail[email]; exists {
		return "", gedauth.ErrEmailAlreadyExists
	}

	now := a.now().UTC()
	account.ID = uuid.NewString()
	account.Email = email
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt

	a.byID[account.ID] = &account
	a.byEmail[email] = account.ID
	return account.ID, nil
}

func (a *Accounts) GetAccountByEmail(ctx context.Context, email string) (*gedauth.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id, ok := a.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, gedauth.ErrAccountNotFound
	}
	return clone(a.byID[id]), nil
}

func (a *Accounts) GetAccountByID(ctx context.Context, accountID string) (*gedauth.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acc, ok := a.byID[accountID]
	if !ok {
		return nil, gedauth.ErrAccountNotFound
	}
	return clone(acc), nil
}

func (a *Accounts) IncrementFailedLogins(ctx context.Context, accountID string) (int, error) {
	var count int
	err := a.mutate(accountID, func(acc *gedauth.Account) {
		acc.FailedLoginAttempts++
		count = acc.FailedLoginAttempts
	})
	return count, err
}

func (a *Accounts) LockAccount(ctx context.Context, accountID string, until time.Time) error {
	return a.mutate(accountID, func(acc *gedauth.Account) {
		u := until
		acc.LockedUntil = &u
	})
}

func (a *Accounts) ResetFailedLogins(ctx context.Context, accountID string) error {
	now := a.now().UTC()
	return a.mutate(accountID, func(acc *gedauth.Account) {
		acc.FailedLoginAttempts = 0
		acc.LockedUntil = nil
		acc.LastLoginAt = &now
	})
}

func (a *Accounts) EnableMFA(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error {
	return a.mutate(accountID, func(acc *gedauth.Account) {
		acc.MFAEnabled = true
		acc.MFASecretEncrypted = append([]byte(nil), secretEnc...)
		acc.MFASecretNonce = append([]byte(nil), secretNonce...)
	})
}

func (a *Accounts) DisableMFA(ctx context.Context, accountID string) error {
	return a.mutate(accountID, func(acc *gedauth.Account) {
		acc.MFAEnabled = false
		acc.MFASecretEncrypted = nil
		acc.MFASecretNonce = nil
	})
}

func (a *Accounts) UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error {
	return a.mutate(accountID, func(acc *gedauth.Account) {
		acc.PasswordHash = append([]byte(nil), hash...)
		acc.PasswordSalt = append([]byte(nil), salt...)
	})
}

// SetStatus changes the lifecycle status of an account.
func (a *Accounts) SetStatus(accountID string, status gedauth.AccountStatus) error {
	return a.mutate(accountID, func(acc *gedauth.Account) {
		acc.Status = status
	})
}

// SetRole changes the role of an account.
func (a *Accounts) SetRole(accountID string, role gedauth.Role) error {
	return a.mutate(accountID, func(acc *gedauth.Account) {
		acc.Role = role
	})
}

// Ping implements gedauth.HealthChecker.
func (a *Accounts) Ping(ctx context.Context) error {
	return nil
}

func (a *Accounts) mutate(accountID string, fn func(*gedauth.Account)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.byID[accountID]
	if !ok {
		return gedauth.ErrAccountNotFound
	}
	fn(acc)
	acc.UpdatedAt = a.now().UTC()
	return nil
}

func clone(acc *gedauth.Account) *gedauth.Account {
	c := *acc
	c.PasswordHash = append([]byte(nil), acc.PasswordHash...)
	c.PasswordSalt = append([]byte(nil), acc.PasswordSalt...)
	if acc.MFASecretEncrypted != nil {
		c.MFASecretEncrypted = append([]byte(nil), acc.MFASecretEncrypted...)
		c.MFASecretNonce = append([]byte(nil), acc.MFASecretNonce...)
	}
	if acc.LockedUntil != nil {
		t := *acc.LockedUntil
		c.LockedUntil = &t
	}
	if acc.LastLoginAt != nil {
		t := *acc.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
