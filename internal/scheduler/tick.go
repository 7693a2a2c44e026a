package scheduler

import (
	"context"

	"github.com/google/uuid"
)

// TickResult is the outcome of one Tick iteration (spec §4.2).
type TickResult struct {
	Status string // "ready", "skipped"
	Reason string // set when Status == "skipped": "throttled" | "no_due_messages"
	ID     uuid.UUID
}

// Tick runs one sweep of the periodic promotion loop: lock the throttle,
// bail out if it isn't due yet, otherwise promote the next due QUEUED
// message to ACCEPTED/gateway_pending and advance next_send_at in the
// same transaction.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	var promoted *ScheduledMessage

	err := e.store.WithTx(ctx, func(tx Tx) error {
		now := e.clock.Now()

		th, err := tx.LockThrottle(ctx)
		if err != nil {
			return err
		}

		if e.metrics != nil {
			wait := th.NextSendAt.Sub(now).Seconds()
			if wait < 0 {
				wait = 0
			}
			e.metrics.ThrottleWaitSeconds.Set(wait)
		}

		if now.Before(th.NextSendAt) {
			result = TickResult{Status: "skipped", Reason: "throttled"}
			return nil
		}

		msg, err := tx.PickDueQueued(ctx, now, th.MaxAttempts)
		if err != nil {
			if isContention(err) {
				result = TickResult{Status: "skipped", Reason: "no_due_messages"}
				return nil
			}
			return err
		}
		if msg == nil {
			result = TickResult{Status: "skipped", Reason: "no_due_messages"}
			return nil
		}
		if msg.Status.Terminal() {
			return newError(StoreError, "PickDueQueued returned terminal message %s (status %s)", msg.ID, msg.Status)
		}
		if !canTransition(msg.Status, StatusAccepted) {
			return newError(InvalidState, "message %s has status %s and cannot be promoted", msg.ID, msg.Status)
		}

		msg.Status = StatusAccepted
		msg.ClaimedAt = nil
		msg.Ownership = Pending
		msg.UpdatedAt = now
		if err := tx.SaveMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, msg.ID, StatusAccepted, map[string]any{"claimed_by": pendingGateway}); err != nil {
			return err
		}

		th.NextSendAt = now.Add(secondsToDuration(th.IntervalSeconds))
		if err := tx.SaveThrottle(ctx, th); err != nil {
			return err
		}

		promoted = msg
		result = TickResult{Status: "ready", ID: msg.ID}
		return nil
	})
	if err != nil {
		return TickResult{}, err
	}

	if e.metrics != nil {
		outcome := result.Status
		if result.Status == "skipped" {
			outcome = result.Reason
		}
		e.metrics.TicksTotal.WithLabelValues(outcome).Inc()
	}
	if promoted != nil {
		e.publish(ctx, promoted, StatusAccepted, map[string]any{"claimed_by": pendingGateway})
	}
	return result, nil
}
