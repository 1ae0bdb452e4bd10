package gedauth

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// ==================== HEALTH CHECK ====================

// HealthStatus represents the health of the service.
type HealthStatus struct {
	Status    string                     `json:"status"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Checks    map[string]ComponentHealth `json:"checks,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
}

// ComponentHealth represents the health of a component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Version of the engine reported by /health.
const Version = "1.0.0"

var startTime = time.Now()

// handleHealthCheck returns the health status of the service.
func (s *AuthService) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Version:   Version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Timestamp: s.now(),
	}

	if r.URL.Query().Get("detailed") == "true" {
		status.Checks = map[string]ComponentHealth{
			"database": s.checkDatabase(ctx),
			"kv":       checkComponent(ctx, s.kv),
		}
		for _, c := range status.Checks {
			if c.Status == "unhealthy" {
				status.Status = "degraded"
			}
		}
	}

	if status.Status == "healthy" {
		writeJSON(w, http.StatusOK, status)
	} else {
		writeJSON(w, http.StatusServiceUnavailable, status)
	}
}

func (s *AuthService) checkDatabase(ctx context.Context) ComponentHealth {
	checker, ok := s.accounts.(HealthChecker)
	if !ok {
		return ComponentHealth{Status: "not_configured"}
	}
	return checkComponent(ctx, checker)
}

func checkComponent(ctx context.Context, c HealthChecker) ComponentHealth {
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return ComponentHealth{
			Status: "unhealthy",
			Error:  err.Error(),
		}
	}
	return ComponentHealth{
		Status:  "healthy",
		Latency: time.Since(start).Round(time.Microsecond).String(),
	}
}

// ==================== METRICS ====================

// Metrics holds Prometheus-compatible counters.
type Metrics struct {
	loginSuccess     atomic.Int64
	loginFailed      atomic.Int64
	accountsLocked   atomic.Int64
	mfaChallenges    atomic.Int64
	mfaFailed        atomic.Int64
	registerSuccess  atomic.Int64
	tokensIssued     atomic.Int64
	tokensRefreshed  atomic.Int64
	tokensRevoked    atomic.Int64
	familyReuse      atomic.Int64
	passwordHashes   atomic.Int64
	auditDropped     atomic.Int64
	storeUnavailable atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	LoginSuccess     int64
	LoginFailed      int64
	AccountsLocked   int64
	MFAChallenges    int64
	MFAFailed        int64
	RegisterSuccess  int64
	TokensIssued     int64
	TokensRefreshed  int64
	TokensRevoked    int64
	FamilyReuse      int64
	PasswordHashes   int64
	AuditDropped     int64
	StoreUnavailable int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		LoginSuccess:     m.loginSuccess.Load(),
		LoginFailed:      m.loginFailed.Load(),
		AccountsLocked:   m.accountsLocked.Load(),
		MFAChallenges:    m.mfaChallenges.Load(),
		MFAFailed:        m.mfaFailed.Load(),
		RegisterSuccess:  m.registerSuccess.Load(),
		TokensIssued:     m.tokensIssued.Load(),
		TokensRefreshed:  m.tokensRefreshed.Load(),
		TokensRevoked:    m.tokensRevoked.Load(),
		FamilyReuse:      m.familyReuse.Load(),
		PasswordHashes:   m.passwordHashes.Load(),
		AuditDropped:     m.auditDropped.Load(),
		StoreUnavailable: m.storeUnavailable.Load(),
	}
}

type metricLine struct {
	name  string
	help  string
	value int64
}

// handleMetrics returns Prometheus-formatted metrics.
func (s *AuthService) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	snap := s.metrics.Snapshot()
	lines := []metricLine{
		{"gedauth_login_success_total", "Successful logins", snap.LoginSuccess},
		{"gedauth_login_failed_total", "Failed login attempts", snap.LoginFailed},
		{"gedauth_accounts_locked_total", "Accounts locked by the lockout policy", snap.AccountsLocked},
		{"gedauth_mfa_challenges_total", "MFA challenges issued", snap.MFAChallenges},
		{"gedauth_mfa_failed_total", "Failed MFA verifications", snap.MFAFailed},
		{"gedauth_register_success_total", "Successful registrations", snap.RegisterSuccess},
		{"gedauth_tokens_issued_total", "Token pairs issued", snap.TokensIssued},
		{"gedauth_tokens_refreshed_total", "Refresh rotations", snap.TokensRefreshed},
		{"gedauth_tokens_revoked_total", "Tokens revoked by logout", snap.TokensRevoked},
		{"gedauth_token_family_reuse_total", "Refresh token reuse detections", snap.FamilyReuse},
		{"gedauth_password_hashes_total", "Argon2id computations", snap.PasswordHashes},
		{"gedauth_audit_dropped_total", "Audit events dropped on a full queue", snap.AuditDropped},
		{"gedauth_store_unavailable_total", "Requests refused because the revocation store failed", snap.StoreUnavailable},
	}

	for _, l := range lines {
		w.Write([]byte("# HELP " + l.name + " " + l.help + "\n"))
		w.Write([]byte("# TYPE " + l.name + " counter\n"))
		w.Write([]byte(l.name + " " + strconv.FormatInt(l.value, 10) + "\n"))
	}
}
