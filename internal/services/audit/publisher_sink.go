package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// PublisherSink forwards events to a topic exchange, routed by
// <entity_kind>.<type>.
type PublisherSink struct {
	publisher Publisher
	exchange  string
}

func NewPublisherSink(publisher Publisher, exchange string) *PublisherSink {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "contact_gating.events"
	}
	return &PublisherSink{publisher: publisher, exchange: exchange}
}

func (s *PublisherSink) Write(ctx context.Context, event model.AuditEvent) error {
	if s.publisher == nil {
		return fmt.Errorf("publisher is nil")
	}
	if err := s.publisher.Publish(ctx, s.exchange, RoutingKey(event), event); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

func RoutingKey(event model.AuditEvent) string {
	kind := strings.ToLower(strings.TrimSpace(event.EntityKind))
	if kind == "" {
		kind = "unknown"
	}
	return kind + "." + strings.ToLower(event.Type)
}
