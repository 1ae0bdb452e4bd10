// Package postgres provides a PostgreSQL implementation of gedauth.AccountStore
// and gedauth.AuditSink.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ged-ministere/gedauth"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store bundles the account repository and the audit sink.
type Store struct {
	accounts     *pgxpool.Pool
	audit        *pgxpool.Pool
	accountStore *AccountStore
	auditStore   *AuditStore
}

// New creates a new PostgreSQL store.
// accountsPool holds the accounts table; auditPool the audit_logs table
// (it can be the same pool).
func New(accountsPool, auditPool *pgxpool.Pool) *Store {
	return &Store{
		accounts:     accountsPool,
		audit:        auditPool,
		accountStore: &AccountStore{pool: accountsPool},
		auditStore:   &AuditStore{pool: auditPool},
	}
}

// Accounts returns the account store.
func (s *Store) Accounts() *AccountStore {
	return s.accountStore
}

// Audit returns the audit sink.
func (s *Store) Audit() *AuditStore {
	return s.auditStore
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.accounts.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate accounts database: %w", err)
	}
	if s.audit != s.accounts {
		if _, err := s.audit.Exec(ctx, schema); err != nil {
			return fmt.Errorf("migrate audit database: %w", err)
		}
	}
	return nil
}

// ==================== ACCOUNTS ====================

// AccountStore handles account persistence.
type AccountStore struct {
	pool *pgxpool.Pool
}

const accountColumns = `id, email, first_name, last_name, role, status, password_hash, password_salt,
	mfa_enabled, mfa_secret_encrypted, mfa_secret_nonce, failed_login_attempts,
	locked_until, last_login_at, created_at, updated_at`

func (s *AccountStore) CreateAccount(ctx context.Context, account gedauth.Account) (string, error) {
	id := uuid.NewString()
	now := account.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, first_name, last_name, role, status, password_hash, password_salt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		id, strings.ToLower(account.Email), account.FirstName, account.LastName,
		string(account.Role), string(account.Status), account.PasswordHash, account.PasswordSalt, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", gedauth.ErrEmailAlreadyExists
		}
		return "", err
	}
	return id, nil
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*gedauth.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(email))
	return scanAccount(row)
}

func (s *AccountStore) GetAccountByID(ctx context.Context, accountID string) (*gedauth.Account, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, gedauth.ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func (s *AccountStore) IncrementFailedLogins(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts SET failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING failed_login_attempts`, accountID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, gedauth.ErrAccountNotFound
	}
	return count, err
}

func (s *AccountStore) LockAccount(ctx context.Context, accountID string, until time.Time) error {
	return s.update(ctx, `
		UPDATE accounts SET locked_until = $2, updated_at = NOW() WHERE id = $1`, accountID, until)
}

func (s *AccountStore) ResetFailedLogins(ctx context.Context, accountID string) error {
	return s.update(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1`, accountID)
}

func (s *AccountStore) EnableMFA(ctx context.Context, accountID string, secretEnc, secretNonce []byte) error {
	return s.update(ctx, `
		UPDATE accounts
		SET mfa_enabled = TRUE, mfa_secret_encrypted = $2, mfa_secret_nonce = $3, updated_at = NOW()
		WHERE id = $1`, accountID, secretEnc, secretNonce)
}

func (s *AccountStore) DisableMFA(ctx context.Context, accountID string) error {
	return s.update(ctx, `
		UPDATE accounts
		SET mfa_enabled = FALSE, mfa_secret_encrypted = NULL, mfa_secret_nonce = NULL, updated_at = NOW()
		WHERE id = $1`, accountID)
}

func (s *AccountStore) UpdatePassword(ctx context.Context, accountID string, hash, salt []byte) error {
	return s.update(ctx, `
		UPDATE accounts SET password_hash = $2, password_salt = $3, updated_at = NOW()
		WHERE id = $1`, accountID, hash, salt)
}

// Ping implements gedauth.HealthChecker.
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *AccountStore) update(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return gedauth.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*gedauth.Account, error) {
	var (
		a      gedauth.Account
		role   string
		status string
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.FirstName, &a.LastName, &role, &status,
		&a.PasswordHash, &a.PasswordSalt,
		&a.MFAEnabled, &a.MFASecretEncrypted, &a.MFASecretNonce, &a.FailedLoginAttempts,
		&a.LockedUntil, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gedauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = gedauth.Role(role)
	a.Status = gedauth.AccountStatus(status)
	return &a, nil
}

// ==================== AUDIT ====================

// AuditStore writes security events to audit_logs.
type AuditStore struct {
	pool *pgxpool.Pool
}

// Record implements gedauth.AuditSink.
func (s *AuditStore) Record(ctx context.Context, event gedauth.AuditEvent) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (account_id, event_type, email, ip, user_agent, success, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		nullUUID(event.AccountID), event.Type, nullString(event.Email), nullString(event.IP),
		nullString(event.UserAgent), event.Success, details, occurred,
	)
	return err
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullUUID(val string) any {
	if _, err := uuid.Parse(val); err != nil {
		return nil
	}
	return val
}

// ==================== OPTIONS ====================

// WithDatabase returns a gedauth.Option that stores accounts and audit
// events in PostgreSQL:
//
//	gedauth.New(postgres.WithDatabase(pool), ...)
func WithDatabase(pool *pgxpool.Pool) gedauth.Option {
	return WithDatabases(pool, pool)
}

// WithDatabases is WithDatabase with separate pools for accounts and audit data.
func WithDatabases(accountsPool, auditPool *pgxpool.Pool) gedauth.Option {
	return func(s *gedauth.AuthService) error {
		store := New(accountsPool, auditPool)
		if err := gedauth.WithAccountStore(store.Accounts())(s); err != nil {
			return err
		}
		return gedauth.WithAuditSink(store.Audit())(s)
	}
}
