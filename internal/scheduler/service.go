package scheduler

import (
	"context"
	"time"

	"imessage-scheduler/internal/clock"
	"imessage-scheduler/internal/events"
	"imessage-scheduler/internal/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the scheduling core: it owns the store, the clock, and the
// optional event/metrics sinks, and exposes the operations spec §4
// describes (Create, Tick, Claim, Report, Cancel, and the read paths
// the transport needs).
type Engine struct {
	store     Store
	clock     clock.Clock
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		clock:     clk,
		publisher: events.Noop{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) publish(ctx context.Context, msg *ScheduledMessage, status Status, detail map[string]any) {
	e.publisher.Publish(ctx, events.Event{
		MessageID: msg.ID,
		Status:    string(status),
		Timestamp: e.clock.Now(),
		Detail:    detail,
	})
}

// Create enqueues a new message in QUEUED status and appends its initial
// QUEUED event (spec §6 POST /messages).
func (e *Engine) Create(ctx context.Context, toHandle, body string, scheduledFor time.Time) (*ScheduledMessage, error) {
	if toHandle == "" {
		return nil, newError(InvalidArgument, "to_handle is required")
	}
	if len(toHandle) > 255 {
		return nil, newError(InvalidArgument, "to_handle exceeds 255 characters")
	}
	if body == "" {
		return nil, newError(InvalidArgument, "body is required")
	}

	now := e.clock.Now()
	msg := &ScheduledMessage{
		ID:           uuid.New(),
		ToHandle:     toHandle,
		Body:         body,
		ScheduledFor: scheduledFor,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		Ownership:    Unowned,
	}

	if err := e.store.Create(ctx, msg); err != nil {
		return nil, err
	}

	if err := e.store.WithTx(ctx, func(tx Tx) error {
		return tx.AppendEvent(ctx, msg.ID, StatusQueued, map[string]any{"source": "api"})
	}); err != nil {
		return nil, err
	}

	e.publish(ctx, msg, StatusQueued, map[string]any{"source": "api"})
	return msg, nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	return e.store.GetByID(ctx, id)
}

func (e *Engine) List(ctx context.Context, f ListFilter) ([]*ScheduledMessage, error) {
	return e.store.List(ctx, f)
}

func (e *Engine) Stats(ctx context.Context) (map[Status]int, error) {
	return e.store.Stats(ctx)
}

func (e *Engine) Events(ctx context.Context, id uuid.UUID) ([]MessageStatusEvent, error) {
	return e.store.Events(ctx, id)
}
