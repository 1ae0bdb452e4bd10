// Package gedauth is the session and token lifecycle engine of the GED
// document platform.
//
// It covers:
//   - Email/password login with Argon2id hashing and brute-force lockout
//   - TOTP two-factor authentication with a single-use login challenge
//   - Signed access/refresh token pairs bound to a session
//   - Refresh token rotation with token-family reuse detection
//   - Immediate revocation (logout) and account-wide invalidation
//
// Quick Start:
//
//	auth, _ := gedauth.New(
//	    postgres.WithDatabase(pool),
//	    gedauth.WithRedis(rdb),
//	    gedauth.WithSecrets(secrets),
//	)
//	defer auth.Close(ctx)
//	r.Mount("/api/auth", auth.Handler())
package gedauth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
	memorykv "github.com/ged-ministere/gedauth/kvstore/memory"
)

// AuthService is the main entry point of the engine.
type AuthService struct {
	// Core dependencies
	accounts AccountStore
	kv       KVStore
	sink     AuditSink
	logger   *zap.Logger
	monitor  SecurityMonitor

	// Cryptographic material
	secrets *Secrets
	keys    *crypto.DerivedKeys
	tokens  *crypto.TokenIssuer

	// Configuration
	config Config
	now    func() time.Time

	revocation *revocationStore
	hasher     *hashPool
	auditor    *auditDispatcher
	metrics    *Metrics

	dummySalt []byte
}

// Config holds the engine configuration.
type Config struct {
	// ==================== APP INFO ====================
	// AppName is the TOTP issuer shown in authenticator apps.
	AppName string

	// ==================== TOKEN SETTINGS ====================
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ==================== 2FA/TOTP ====================
	MFAPendingTTL     time.Duration
	MFASetupTTL       time.Duration
	TOTPSecretSize    uint
	TOTPSkew          uint
	TOTPQRCodeEnabled bool
	TOTPQRCodeSize    int

	// ==================== SECURITY ====================
	MaxLoginAttempts          int
	LockoutDuration           time.Duration
	MinPasswordLength         int
	RequirePasswordComplexity bool
	Password                  crypto.PasswordParams

	// ==================== WORKERS ====================
	HashWorkers    int
	HashQueueSize  int
	AuditWorkers   int
	AuditQueueSize int

	// KeyPrefix is prepended to every key written to the KV store.
	KeyPrefix string
}

// Secrets holds cryptographic secrets. All three must be 32 bytes and the
// two token secrets must differ.
type Secrets struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	EncryptionKey      []byte
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AppName: "GED-Ministere",

		// Tokens
		Issuer:          crypto.DefaultIssuer,
		Audience:        crypto.DefaultAudience,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,

		// 2FA/TOTP
		MFAPendingTTL:     5 * time.Minute,
		MFASetupTTL:       10 * time.Minute,
		TOTPSecretSize:    32,
		TOTPSkew:          1,
		TOTPQRCodeEnabled: true,
		TOTPQRCodeSize:    256,

		// Security
		MaxLoginAttempts:          5,
		LockoutDuration:           30 * time.Minute,
		MinPasswordLength:         8,
		RequirePasswordComplexity: true,
		Password:                  crypto.DefaultPasswordParams(),

		// Workers
		HashWorkers:    4,
		HashQueueSize:  256,
		AuditWorkers:   2,
		AuditQueueSize: 1000,
	}
}

// New creates a new AuthService.
func New(opts ...Option) (*AuthService, error) {
	svc := &AuthService{
		config: DefaultConfig(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}

	// Validate
	if svc.accounts == nil {
		return nil, ErrAccountStoreRequired
	}
	if svc.secrets == nil {
		return nil, ErrSecretsRequired
	}
	if svc.config.MaxLoginAttempts < 1 || svc.config.LockoutDuration <= 0 {
		return nil, errors.New("gedauth: lockout policy must allow at least one attempt and a positive duration")
	}

	// Defaults
	if svc.logger == nil {
		svc.logger, _ = zap.NewProduction()
	}
	if svc.kv == nil {
		svc.logger.Warn("no KV store configured, revocation state is process-local")
		svc.kv = memorykv.New(memorykv.WithClock(svc.now))
	}
	if svc.sink == nil {
		svc.sink = NewLogAuditSink(svc.logger)
	}
	if svc.monitor == nil {
		svc.monitor = NewLogMonitor(svc.logger)
	}
	svc.metrics = &Metrics{}

	tokens, err := crypto.NewTokenIssuer(crypto.TokenConfig{
		AccessSecret:  svc.secrets.AccessTokenSecret,
		RefreshSecret: svc.secrets.RefreshTokenSecret,
		Issuer:        svc.config.Issuer,
		Audience:      svc.config.Audience,
		AccessTTL:     svc.config.AccessTokenTTL,
		RefreshTTL:    svc.config.RefreshTokenTTL,
		Now:           svc.now,
	})
	if err != nil {
		return nil, err
	}
	svc.tokens = tokens

	keys, err := crypto.DeriveKeys(svc.secrets.EncryptionKey)
	if err != nil {
		return nil, err
	}
	svc.keys = &keys

	svc.dummySalt, err = crypto.GenerateSalt(crypto.DefaultSaltSize)
	if err != nil {
		return nil, err
	}

	svc.revocation = newRevocationStore(svc.kv, svc.config.KeyPrefix)
	svc.hasher = newHashPool(svc.config.HashWorkers, svc.config.HashQueueSize, svc.config.Password, svc.metrics)
	svc.auditor = newAuditDispatcher(svc.sink, svc.logger, svc.config.AuditWorkers, svc.config.AuditQueueSize)
	svc.auditor.dropped = func() { svc.metrics.auditDropped.Add(1) }

	return svc, nil
}

// Handler returns the HTTP handler with all routes.
func (s *AuthService) Handler() http.Handler {
	r := chi.NewRouter()

	// Health
	r.Get("/health", s.handleHealthCheck)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/mfa/verify", s.handleMFAVerify)
	r.Post("/refresh", s.handleRefresh)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/me", s.handleMe)
		r.Post("/logout", s.handleLogout)
		r.Patch("/password", s.handleChangePassword)

		// 2FA
		r.Post("/mfa/setup", s.handleMFASetup)
		r.Post("/mfa/enable", s.handleMFAEnable)
		r.Delete("/mfa", s.handleMFADisable)
	})

	return r
}

// Close drains the audit queue and stops the hash workers.
func (s *AuthService) Close(ctx context.Context) error {
	auditErr := s.auditor.Stop(ctx)
	hashErr := s.hasher.Stop(ctx)
	if auditErr != nil {
		return auditErr
	}
	return hashErr
}

// Config returns the configuration.
func (s *AuthService) Config() Config {
	return s.config
}

// Logger returns the logger.
func (s *AuthService) Logger() *zap.Logger {
	return s.logger
}

// Metrics returns the service counters.
func (s *AuthService) Metrics() *Metrics {
	return s.metrics
}
