package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

const (
	EventConnectionRequested = "CONNECTION_REQUESTED"
	EventConnectionGranted   = "CONNECTION_GRANTED"
	EventConnectionRejected  = "CONNECTION_REJECTED"
	EventPaymentStarted      = "PAYMENT_STARTED"
	EventPaymentConfirmed    = "PAYMENT_CONFIRMED"
	EventPaymentFailed       = "PAYMENT_FAILED"
	EventSubscriptionApplied = "SUBSCRIPTION_APPLIED"
	EventResourceRejected    = "RESOURCE_TEXT_REJECTED"
)

// Sink receives every recorded event. Sinks must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, event model.AuditEvent) error
}

type Recorder struct {
	sinks  map[string]Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		sinks:  make(map[string]Sink),
		logger: logger,
		now:    time.Now,
	}
}

func (r *Recorder) AttachSink(name string, sink Sink) {
	if r == nil || sink == nil {
		return
	}
	r.sinks[strings.TrimSpace(name)] = sink
}

// Record never fails the caller. Sink errors are logged and dropped.
func (r *Recorder) Record(ctx context.Context, event model.AuditEvent) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}

	r.logger.Info("audit event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Int64("actor_id", event.ActorID),
		zap.String("entity_kind", event.EntityKind),
		zap.String("entity_id", event.EntityID),
	)

	for name, sink := range r.sinks {
		if err := sink.Write(ctx, event); err != nil {
			r.logger.Warn("audit sink write failed",
				zap.String("sink", name),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}
