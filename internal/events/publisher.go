// Package events fans out MessageStatusEvents to external realtime UIs.
// This is explicitly outside THE CORE (spec §1: "any pub/sub event
// fan-out for realtime UIs" is an external collaborator reachable only
// via this interface) — internal/scheduler uses only the Publisher
// interface, the Event type and the Noop default declared here, never
// NatsPublisher, and invokes Publish fire-and-forget after the owning
// transaction commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the wire shape published for every MessageStatusEvent.
type Event struct {
	MessageID uuid.UUID      `json:"message_id"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Publisher fans an Event out to whatever realtime transport is wired in.
// Publish must never block the caller for long and must never return an
// error that the caller is expected to act on beyond logging — event
// fan-out failures never roll back a scheduler transaction.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Noop is the default Publisher when no NATS URL is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}

// subject returns the NATS subject an event of the given status fans out on.
func subject(status string) string {
	return "scheduler.events." + status
}
