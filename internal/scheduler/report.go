package scheduler

import (
	"context"

	"github.com/google/uuid"
)

// ReportInput is the gateway-reported outcome of one delivery attempt.
type ReportInput struct {
	MessageID uuid.UUID
	Status    Status
	Error     *string
	Detail    map[string]any
}

// Report applies a gateway-reported outcome (spec §4.4). FAILED either
// schedules a retry or reaches terminal FAILED depending on attempt_count
// vs max_attempts; any other reportable status is applied directly.
//
// A message already CANCELED never has its status overridden: the
// reporter (not the canceller) resolves the race by re-reading status
// under lock and recording an audit event instead of transitioning
// (spec §4.5, §9 Open Question 1 — resolved as a 200 idempotent no-op).
func (e *Engine) Report(ctx context.Context, in ReportInput) (*ScheduledMessage, error) {
	if !isReportable(in.Status) {
		return nil, newError(InvalidArgument, "status %q is not a reportable outcome", in.Status)
	}

	var result *ScheduledMessage

	err := e.store.WithTx(ctx, func(tx Tx) error {
		th, err := tx.LockThrottle(ctx)
		if err != nil {
			return err
		}

		msg, err := tx.LockMessage(ctx, in.MessageID)
		if err != nil {
			return err
		}

		now := e.clock.Now()

		if msg.Status == StatusCanceled {
			if err := tx.AppendEvent(ctx, msg.ID, StatusCanceled, map[string]any{
				"reported_at":     now,
				"reported_status": in.Status,
				"error":           in.Error,
				"detail":          in.Detail,
				"note":            "skipped_send_because_canceled",
			}); err != nil {
				return err
			}
			result = msg
			return nil
		}

		if in.Status == StatusFailed {
			msg.AttemptCount++
			errMsg := "unknown error"
			if in.Error != nil && *in.Error != "" {
				errMsg = *in.Error
			}
			msg.LastError = &errMsg
			msg.UpdatedAt = now

			if err := tx.AppendEvent(ctx, msg.ID, StatusFailed, map[string]any{
				"reported_at":   now,
				"error":         in.Error,
				"detail":        in.Detail,
				"attempt_count": msg.AttemptCount,
			}); err != nil {
				return err
			}

			if msg.AttemptCount < th.MaxAttempts {
				delay := th.RetryDelay(msg.AttemptCount)
				msg.Status = StatusQueued
				msg.ScheduledFor = now.Add(delay)
				msg.ClaimedAt = nil
				msg.Ownership = Unowned

				if err := tx.AppendEvent(ctx, msg.ID, StatusQueued, map[string]any{
					"source":           "retry",
					"retry_in_seconds": int(delay.Seconds()),
					"scheduled_for":    msg.ScheduledFor,
					"attempt_count":    msg.AttemptCount,
				}); err != nil {
					return err
				}
				if e.metrics != nil {
					e.metrics.RetriesScheduled.Inc()
				}
			} else {
				msg.Status = StatusFailed
				if e.metrics != nil {
					e.metrics.MessagesPermFailed.Inc()
				}
			}

			if err := tx.SaveMessage(ctx, msg); err != nil {
				return err
			}
			result = msg
			return nil
		}

		msg.Status = in.Status
		msg.LastError = nil
		msg.UpdatedAt = now
		if err := tx.SaveMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, msg.ID, in.Status, map[string]any{
			"reported_at": now,
			"error":       in.Error,
			"detail":      in.Detail,
		}); err != nil {
			return err
		}
		result = msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ReportsTotal.WithLabelValues(string(in.Status)).Inc()
	}
	e.publish(ctx, result, result.Status, map[string]any{"reported_status": string(in.Status)})
	return result, nil
}
