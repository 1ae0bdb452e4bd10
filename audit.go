package gedauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ==================== AUDIT DISPATCH ====================

// auditDispatcher delivers audit events off the request path. A full queue
// drops the event with a warning; sink errors are logged and swallowed.
type auditDispatcher struct {
	sink    AuditSink
	logger  *zap.Logger
	events  chan AuditEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	dropped func()
}

func newAuditDispatcher(sink AuditSink, logger *zap.Logger, workers, queueSize int) *auditDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &auditDispatcher{
		sink:    sink,
		logger:  logger,
		events:  make(chan AuditEvent, queueSize),
		stopCh:  make(chan struct{}),
		running: true,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues an event. It never blocks.
func (d *auditDispatcher) Dispatch(event AuditEvent) bool {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	select {
	case d.events <- event:
		return true
	default:
		// Queue full
		d.logger.Warn("audit queue full, dropping event",
			zap.String("type", event.Type), zap.String("account_id", event.AccountID))
		if d.dropped != nil {
			d.dropped()
		}
		return false
	}
}

// Stop delivers queued events, then stops the workers.
func (d *auditDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *auditDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			// Drain remaining events before stopping
			for {
				select {
				case event := <-d.events:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.events:
			d.deliver(event)
		}
	}
}

func (d *auditDispatcher) deliver(event AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.sink.Record(ctx, event); err != nil {
		d.logger.Error("audit record failed",
			zap.String("type", event.Type),
			zap.String("account_id", event.AccountID),
			zap.Error(err))
	}
}

// ==================== REQUEST METADATA ====================

type requestMetaKey struct{}

// RequestMeta is the client information attached to audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta attaches client information to ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// audit stamps and queues an event.
func (s *AuthService) audit(ctx context.Context, event AuditEvent) {
	meta := requestMetaFrom(ctx)
	if event.IP == "" {
		event.IP = meta.IP
	}
	if event.UserAgent == "" {
		event.UserAgent = meta.UserAgent
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	s.auditor.Dispatch(event)
}

// ==================== SINKS ====================

// LogAuditSink writes audit events to a zap logger.
type LogAuditSink struct {
	logger *zap.Logger
}

// NewLogAuditSink creates a sink that logs every event at Info.
func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger.Named("audit")}
}

func (l *LogAuditSink) Record(ctx context.Context, event AuditEvent) error {
	l.logger.Info(event.Type,
		zap.String("account_id", event.AccountID),
		zap.String("email", event.Email),
		zap.String("ip", event.IP),
		zap.Bool("success", event.Success),
		zap.Any("details", event.Details),
		zap.Time("occurred_at", event.OccurredAt))
	return nil
}
