package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows GET /messages per spec §6.
type ListFilter struct {
	Status        Status // zero value means "any"
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
	ToHandleLike  string // case-insensitive substring match
}

// Tx is the set of storage primitives available inside one transactional
// scope (spec §4.1). Every method here may block on a row lock except
// PickDueQueued / PickPendingForGateway, which must never block — they
// use skip-locked selection and simply skip rows held by a concurrent
// transaction.
type Tx interface {
	// LockThrottle returns the id=1 singleton, holding an exclusive row
	// lock until the transaction ends; creates it with defaults on first use.
	LockThrottle(ctx context.Context) (Throttle, error)
	SaveThrottle(ctx context.Context, t Throttle) error

	// PickDueQueued returns the single next due, unclaimed QUEUED message
	// under lock, or nil if none. Ordered (scheduled_for, created_at, id).
	PickDueQueued(ctx context.Context, now time.Time, maxAttempts int) (*ScheduledMessage, error)

	// PickPendingForGateway returns an ACCEPTED row whose claimed_by is
	// the pending sentinel and whose claimed_at is still null.
	PickPendingForGateway(ctx context.Context, now time.Time) (*ScheduledMessage, error)

	// LockMessage takes an exclusive row lock on id, returning NOT_FOUND
	// if absent.
	LockMessage(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)

	// SaveMessage persists every mutable field of msg, including the
	// updated_at value the caller has already set on it.
	SaveMessage(ctx context.Context, msg *ScheduledMessage) error

	// AppendEvent appends one audit event for messageID.
	AppendEvent(ctx context.Context, messageID uuid.UUID, status Status, detail map[string]any) error
}

// Store is the durable persistence layer: transactional message/throttle
// mutation plus the read paths the API transport needs. It is the only
// component in this module that knows about storage.
type Store interface {
	// WithTx runs fn inside one transaction, committing on a nil return and
	// rolling back (discarding all mutations) otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Create(ctx context.Context, msg *ScheduledMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)
	List(ctx context.Context, f ListFilter) ([]*ScheduledMessage, error)
	Stats(ctx context.Context) (map[Status]int, error)
	Events(ctx context.Context, messageID uuid.UUID) ([]MessageStatusEvent, error)
}
