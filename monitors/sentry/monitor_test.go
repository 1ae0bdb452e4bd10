package sentry

import (
	"context"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"

	"github.com/ged-ministere/gedauth"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func newTestHub(t *testing.T) (*sentry.Hub, *captured) {
	t.Helper()
	c := &captured{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		SampleRate: 1.0,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			c.mu.Lock()
			c.events = append(c.events, event)
			c.mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), c
}

type countingMonitor struct {
	mu    sync.Mutex
	count int
}

func (m *countingMonitor) OnAlert(ctx context.Context, alert gedauth.SecurityAlert) {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
}

func TestMonitorCapturesAlert(t *testing.T) {
	hub, events := newTestHub(t)
	monitor := New(hub)

	monitor.OnAlert(context.Background(), gedauth.SecurityAlert{
		Type:      "refresh_token_reuse",
		AccountID: "acc-1",
		IP:        "192.0.2.1",
		Severity:  "high",
		Details:   map[string]any{"family_id": "fam-1"},
	})

	got := events.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.Message != "security alert: refresh_token_reuse" {
		t.Errorf("message = %q", ev.Message)
	}
	if ev.Level != sentry.LevelError {
		t.Errorf("level = %q, want error", ev.Level)
	}
	if ev.Tags["alert_type"] != "refresh_token_reuse" {
		t.Errorf("alert_type tag = %q", ev.Tags["alert_type"])
	}
	if ev.User.ID != "acc-1" || ev.User.IPAddress != "192.0.2.1" {
		t.Errorf("user = %+v", ev.User)
	}
}

func TestMonitorSeverityFilter(t *testing.T) {
	hub, events := newTestHub(t)
	next := &countingMonitor{}
	monitor := New(hub, WithMinSeverity("critical"), WithNext(next))

	monitor.OnAlert(context.Background(), gedauth.SecurityAlert{Type: "account_locked", Severity: "medium"})
	monitor.OnAlert(context.Background(), gedauth.SecurityAlert{Type: "refresh_token_reuse", Severity: "high"})
	monitor.OnAlert(context.Background(), gedauth.SecurityAlert{Type: "breach", Severity: "critical"})

	if n := len(events.all()); n != 1 {
		t.Errorf("expected 1 event above threshold, got %d", n)
	}
	if next.count != 3 {
		t.Errorf("next monitor saw %d alerts, want 3", next.count)
	}
}

func TestUnknownMinSeverityKeepsDefault(t *testing.T) {
	monitor := New(nil, WithMinSeverity("urgent"))
	if monitor.minSeverity != "medium" {
		t.Errorf("minSeverity = %q, want medium", monitor.minSeverity)
	}
}
