package gedauth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ==================== SECURITY MONITORING ====================

// SecurityAlert represents a security event that may need attention.
type SecurityAlert struct {
	Type      string
	AccountID string
	IP        string
	Details   map[string]any
	Severity  string // "low", "medium", "high", "critical"
	Timestamp time.Time
}

// SecurityMonitor interface for security event handling.
type SecurityMonitor interface {
	OnAlert(ctx context.Context, alert SecurityAlert)
}

// NewLogMonitor returns the monitor used when none is configured: alerts are
// logged at Warn level.
func NewLogMonitor(logger *zap.Logger) SecurityMonitor {
	return &defaultSecurityMonitor{logger: logger}
}

type defaultSecurityMonitor struct {
	logger *zap.Logger
}

func (m *defaultSecurityMonitor) OnAlert(ctx context.Context, alert SecurityAlert) {
	m.logger.Warn("security alert",
		zap.String("type", alert.Type),
		zap.String("account_id", alert.AccountID),
		zap.String("ip", alert.IP),
		zap.String("severity", alert.Severity),
		zap.Any("details", alert.Details))
}

func (s *AuthService) alert(ctx context.Context, alertType, accountID, severity string, details map[string]any) {
	s.monitor.OnAlert(ctx, SecurityAlert{
		Type:      alertType,
		AccountID: accountID,
		IP:        requestMetaFrom(ctx).IP,
		Details:   details,
		Severity:  severity,
		Timestamp: s.now(),
	})
}
