package model

import "time"

type AuditEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ActorID    int64          `json:"actor_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Props      map[string]any `json:"props,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
