package scheduler

import "context"

// Claim implements the gateway-facing claim protocol (spec §4.3): the
// fast path hands out a row the tick already promoted and paced; the
// fallback path lets an idle tick be bypassed, subject to the same
// throttle the tick itself obeys.
//
// Returns (msg, true, nil) on success, (nil, false, nil) when nothing is
// available, and a non-nil error only for INVALID_ARGUMENT or a store
// failure.
func (e *Engine) Claim(ctx context.Context, gatewayID string) (*ScheduledMessage, bool, error) {
	if gatewayID == "" {
		return nil, false, newError(InvalidArgument, "gateway_id is required")
	}

	var claimed *ScheduledMessage
	var outcome string

	err := e.store.WithTx(ctx, func(tx Tx) error {
		now := e.clock.Now()

		pending, err := tx.PickPendingForGateway(ctx, now)
		if err != nil && !isContention(err) {
			return err
		}
		if pending != nil {
			if pending.Status.Terminal() {
				return newError(StoreError, "PickPendingForGateway returned terminal message %s (status %s)", pending.ID, pending.Status)
			}
			pending.ClaimedAt = &now
			pending.Ownership = OwnedBy(gatewayID)
			pending.UpdatedAt = now
			if err := tx.SaveMessage(ctx, pending); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, pending.ID, StatusAccepted, map[string]any{
				"gateway_id": gatewayID,
				"source":     "gateway_claim",
			}); err != nil {
				return err
			}
			claimed = pending
			outcome = "pending"
			return nil
		}

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
			outcome = "throttled"
			return nil
		}

		due, err := tx.PickDueQueued(ctx, now, th.MaxAttempts)
		if err != nil {
			if isContention(err) {
				outcome = "none"
				return nil
			}
			return err
		}
		if due == nil {
			outcome = "none"
			return nil
		}
		if due.Status.Terminal() {
			return newError(StoreError, "PickDueQueued returned terminal message %s (status %s)", due.ID, due.Status)
		}
		if !canTransition(due.Status, StatusAccepted) {
			return newError(InvalidState, "message %s has status %s and cannot be claimed", due.ID, due.Status)
		}

		due.Status = StatusAccepted
		due.ClaimedAt = &now
		due.Ownership = OwnedBy(gatewayID)
		due.UpdatedAt = now
		if err := tx.SaveMessage(ctx, due); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, due.ID, StatusAccepted, map[string]any{"gateway_id": gatewayID}); err != nil {
			return err
		}

		th.NextSendAt = now.Add(secondsToDuration(th.IntervalSeconds))
		if err := tx.SaveThrottle(ctx, th); err != nil {
			return err
		}

		claimed = due
		outcome = "fallback"
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if e.metrics != nil {
		e.metrics.ClaimsTotal.WithLabelValues(outcome).Inc()
	}
	if claimed == nil {
		return nil, false, nil
	}

	e.publish(ctx, claimed, StatusAccepted, map[string]any{"gateway_id": gatewayID, "outcome": outcome})
	return claimed, true, nil
}
