package scheduler

import (
	"context"

	"github.com/google/uuid"
)

// Cancel marks a non-terminal message CANCELED. Already-CANCELED is an
// idempotent no-op (spec §8 property 7); statuses the transitions table
// doesn't admit into CANCELED (the sent-class ones) are rejected with
// INVALID_STATE. The cancellation race with an in-flight delivery is
// resolved by Report, not here — Cancel always wins unconditionally once
// it reaches this point.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	var result *ScheduledMessage
	var alreadyCanceled bool

	err := e.store.WithTx(ctx, func(tx Tx) error {
		msg, err := tx.LockMessage(ctx, id)
		if err != nil {
			return err
		}

		if msg.Status == StatusCanceled {
			alreadyCanceled = true
			result = msg
			return nil
		}

		if !canTransition(msg.Status, StatusCanceled) {
			return newError(InvalidState, "message %s has status %s and cannot be canceled", id, msg.Status)
		}

		msg.Status = StatusCanceled
		msg.UpdatedAt = e.clock.Now()
		if err := tx.SaveMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, msg.ID, StatusCanceled, map[string]any{"source": "api"}); err != nil {
			return err
		}
		result = msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyCanceled {
		if e.metrics != nil {
			e.metrics.MessagesCanceled.Inc()
		}
		e.publish(ctx, result, StatusCanceled, map[string]any{"source": "api"})
	}
	return result, nil
}
