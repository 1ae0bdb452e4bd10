// Package sentry forwards gedauth security alerts to Sentry.
package sentry

import (
	"context"

	"github.com/getsentry/sentry-go"

	"github.com/ged-ministere/gedauth"
)

var severityRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

var severityLevel = map[string]sentry.Level{
	"low":      sentry.LevelInfo,
	"medium":   sentry.LevelWarning,
	"high":     sentry.LevelError,
	"critical": sentry.LevelFatal,
}

// Monitor implements gedauth.SecurityMonitor on top of a Sentry hub.
type Monitor struct {
	hub         *sentry.Hub
	minSeverity string
	next        gedauth.SecurityMonitor
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMinSeverity drops alerts below the given severity. Default "medium".
func WithMinSeverity(severity string) Option {
	return func(m *Monitor) {
		if _, ok := severityRank[severity]; ok {
			m.minSeverity = severity
		}
	}
}

// WithNext also passes every alert, filtered or not, to another monitor.
func WithNext(next gedauth.SecurityMonitor) Option {
	return func(m *Monitor) {
		m.next = next
	}
}

// New creates a monitor. A nil hub means sentry.CurrentHub().
func New(hub *sentry.Hub, opts ...Option) *Monitor {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	m := &Monitor{hub: hub, minSeverity: "medium"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnAlert implements gedauth.SecurityMonitor.
func (m *Monitor) OnAlert(ctx context.Context, alert gedauth.SecurityAlert) {
	if m.next != nil {
		m.next.OnAlert(ctx, alert)
	}
	if severityRank[alert.Severity] < severityRank[m.minSeverity] {
		return
	}

	hub := m.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		level, ok := severityLevel[alert.Severity]
		if !ok {
			level = sentry.LevelWarning
		}
		scope.SetLevel(level)
		scope.SetTag("alert_type", alert.Type)
		scope.SetTag("severity", alert.Severity)
		if alert.AccountID != "" || alert.IP != "" {
			scope.SetUser(sentry.User{ID: alert.AccountID, IPAddress: alert.IP})
		}
		if len(alert.Details) > 0 {
			scope.SetContext("alert", sentry.Context(alert.Details))
		}
		hub.CaptureMessage("security alert: " + alert.Type)
	})
}
