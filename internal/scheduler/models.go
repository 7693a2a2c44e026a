// Package scheduler is the throttled, durable outbound message scheduler
// core: the message state machine, the global throttle, the claim
// protocol, retry/backoff, and the cancellation race with in-flight
// delivery. Everything in this package is transactional against the
// store; nothing here ever calls out to a remote gateway or transport.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a ScheduledMessage.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusAccepted  Status = "ACCEPTED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusReceived  Status = "RECEIVED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether s admits no further automatic transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusReceived, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// pendingGateway is the claimed_by sentinel meaning "promoted by the tick
// but not yet picked up by a gateway" — part of the domain alphabet, not a
// magic string (spec §9).
const pendingGateway = "gateway_pending"

// Ownership is the tagged variant of claimed_by: Unowned | Pending | OwnedBy(id).
type Ownership struct {
	kind int // 0=unowned, 1=pending, 2=owned
	by   string
}

var (
	Unowned = Ownership{kind: 0}
	Pending = Ownership{kind: 1, by: pendingGateway}
)

func OwnedBy(gatewayID string) Ownership { return Ownership{kind: 2, by: gatewayID} }

func (o Ownership) IsUnowned() bool { return o.kind == 0 }
func (o Ownership) IsPending() bool { return o.kind == 1 }
func (o Ownership) GatewayID() (string, bool) {
	if o.kind == 2 {
		return o.by, true
	}
	return "", false
}

// column returns the nullable claimed_by column value: nil for Unowned.
func (o Ownership) column() *string {
	if o.kind == 0 {
		return nil
	}
	v := o.by
	return &v
}

// ownershipFromColumn interprets a nullable claimed_by column value.
func ownershipFromColumn(v *string) Ownership {
	if v == nil {
		return Unowned
	}
	if *v == pendingGateway {
		return Pending
	}
	return OwnedBy(*v)
}

// ScheduledMessage is a client-enqueued message awaiting delivery by a
// remote gateway. See spec §3 for the field-level invariants.
type ScheduledMessage struct {
	ID           uuid.UUID
	ToHandle     string
	Body         string
	ScheduledFor time.Time
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClaimedAt    *time.Time
	Ownership    Ownership
	AttemptCount int
	LastError    *string
}

// MessageStatusEvent is one append-only audit entry for a message's
// status history.
type MessageStatusEvent struct {
	ID        int64
	MessageID uuid.UUID
	Status    Status
	Timestamp time.Time
	Detail    map[string]any
}

// Throttle is the id=1 singleton pacing record.
type Throttle struct {
	NextSendAt       time.Time
	IntervalSeconds  int
	MaxAttempts      int
	RetryBaseSeconds int
	RetryMaxSeconds  int
}

// DefaultThrottle is created on first use per spec §4.1.
func DefaultThrottle(now time.Time) Throttle {
	return Throttle{
		NextSendAt:       now,
		IntervalSeconds:  3600,
		MaxAttempts:      5,
		RetryBaseSeconds: 60,
		RetryMaxSeconds:  21600,
	}
}

// secondsToDuration converts a plain integer-seconds column value (as
// stored on Throttle) to a time.Duration.
func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// RetryDelay computes min(retry_max_seconds, retry_base_seconds * 2^(attemptCount-1))
// per spec §4.4, using attempt_count *after* increment.
func (t Throttle) RetryDelay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	shift := attemptCount - 1
	if shift > 32 {
		shift = 32 // guard against overflow for pathological max_attempts
	}
	delaySeconds := t.RetryBaseSeconds << uint(shift)
	if delaySeconds > t.RetryMaxSeconds || delaySeconds < 0 {
		delaySeconds = t.RetryMaxSeconds
	}
	return time.Duration(delaySeconds) * time.Second
}
