package scheduler

import (
	"context"
	"testing"
	"time"

	"imessage-scheduler/internal/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTestUUID() uuid.UUID { return uuid.New() }

func newTestEngine(t *testing.T, now time.Time, th Throttle) (*Engine, *MemoryStore, *clock.Frozen) {
	t.Helper()
	store := NewMemoryStore()
	if err := store.WithTx(context.Background(), func(tx Tx) error {
		return tx.SaveThrottle(context.Background(), th)
	}); err != nil {
		t.Fatalf("seed throttle: %v", err)
	}
	frozen := clock.NewFrozen(now)
	engine := NewEngine(store, frozen, zap.NewNop())
	return engine, store, frozen
}

func createAt(t *testing.T, engine *Engine, store *MemoryStore, toHandle, body string, scheduledFor, createdAt time.Time) *ScheduledMessage {
	t.Helper()
	msg, err := engine.Create(context.Background(), toHandle, body, scheduledFor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.WithTx(context.Background(), func(tx Tx) error {
		mtx := tx.(*memTx)
		m := mtx.store.messages[msg.ID]
		m.CreatedAt = createdAt
		return nil
	}); err != nil {
		t.Fatalf("backdate created_at: %v", err)
	}
	return msg
}

// S1 — FIFO claim under throttle.
func TestClaim_FIFOUnderThrottle(t *testing.T) {
	now := time.Now()
	th := Throttle{NextSendAt: now.Add(-time.Second), IntervalSeconds: 3600, MaxAttempts: 5, RetryBaseSeconds: 60, RetryMaxSeconds: 21600}
	engine, store, frozen := newTestEngine(t, now, th)
	ctx := context.Background()

	a := createAt(t, engine, store, "a@example.com", "hi a", now.Add(-time.Minute), now.Add(-2*time.Minute))
	b := createAt(t, engine, store, "b@example.com", "hi b", now.Add(-time.Minute), now.Add(-time.Minute))

	got1, ok, err := engine.Claim(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("first claim: got=%v ok=%v err=%v", got1, ok, err)
	}
	if got1.ID != a.ID {
		t.Fatalf("expected A first, got %s", got1.ToHandle)
	}
	if got1.Status != StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", got1.Status)
	}
	gwID, ok2 := got1.Ownership.GatewayID()
	if !ok2 || gwID != "g1" {
		t.Fatalf("expected owned by g1, got %+v", got1.Ownership)
	}

	_, ok, err = engine.Claim(ctx, "g1")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to be throttled")
	}

	frozen.Set(now)
	if err := store.WithTx(ctx, func(tx Tx) error {
		tt, err := tx.LockThrottle(ctx)
		if err != nil {
			return err
		}
		tt.NextSendAt = now.Add(-time.Second)
		return tx.SaveThrottle(ctx, tt)
	}); err != nil {
		t.Fatalf("force next_send_at: %v", err)
	}

	got3, ok, err := engine.Claim(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("third claim: got=%v ok=%v err=%v", got3, ok, err)
	}
	if got3.ID != b.ID {
		t.Fatalf("expected B third, got %s", got3.ToHandle)
	}
}

// S2 — Throttle block.
func TestClaim_ThrottleBlock(t *testing.T) {
	now := time.Now()
	th := Throttle{NextSendAt: now.Add(time.Hour), IntervalSeconds: 3600, MaxAttempts: 5, RetryBaseSeconds: 60, RetryMaxSeconds: 21600}
	engine, store, _ := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, ok, err := engine.Claim(ctx, "g1")
	if err != nil {
		t.Fatalf("claim errored: %v", err)
	}
	if ok {
		t.Fatalf("expected claim to return none")
	}

	got, err := engine.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("expected message to remain QUEUED, got %s", got.Status)
	}
}

// S3 — Successful delivery via tick then claim then report SENT.
func TestTickClaimReport_SuccessfulDelivery(t *testing.T) {
	now := time.Now()
	th := Throttle{NextSendAt: now.Add(-time.Second), IntervalSeconds: 3600, MaxAttempts: 5, RetryBaseSeconds: 60, RetryMaxSeconds: 21600}
	engine, _, _ := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tickResult, err := engine.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tickResult.Status != "ready" || tickResult.ID != msg.ID {
		t.Fatalf("expected tick to promote %s, got %+v", msg.ID, tickResult)
	}

	promoted, err := engine.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get after tick: %v", err)
	}
	if promoted.Status != StatusAccepted || !promoted.Ownership.IsPending() {
		t.Fatalf("expected ACCEPTED/pending after tick, got %+v", promoted)
	}

	claimed, ok, err := engine.Claim(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("claim: got=%v ok=%v err=%v", claimed, ok, err)
	}
	if gw, _ := claimed.Ownership.GatewayID(); gw != "g1" {
		t.Fatalf("expected owned by g1, got %+v", claimed.Ownership)
	}

	reported, err := engine.Report(ctx, ReportInput{MessageID: msg.ID, Status: StatusSent})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if reported.Status != StatusSent {
		t.Fatalf("expected SENT, got %s", reported.Status)
	}

	events, err := engine.Events(ctx, msg.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	wantOrder := []Status{StatusQueued, StatusAccepted, StatusAccepted, StatusSent}
	if len(events) != len(wantOrder) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantOrder), len(events), events)
	}
	for i, w := range wantOrder {
		if events[i].Status != w {
			t.Fatalf("event[%d]: expected %s, got %s", i, w, events[i].Status)
		}
	}
}

// S4 — Retry with backoff then permanent failure.
func TestReport_RetryWithBackoffThenPermFail(t *testing.T) {
	now := time.Now()
	// interval_seconds is 0 here because this scenario exercises the
	// retry/backoff path in isolation from claim pacing (spec §4.4), not
	// the throttle's own spacing guarantee (covered by TestClaim_FIFOUnderThrottle).
	th := Throttle{NextSendAt: now.Add(-time.Second), IntervalSeconds: 0, MaxAttempts: 3, RetryBaseSeconds: 5, RetryMaxSeconds: 60}
	engine, _, frozen := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, err := engine.Claim(ctx, "g1"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	boom := "boom"
	r1, err := engine.Report(ctx, ReportInput{MessageID: msg.ID, Status: StatusFailed, Error: &boom})
	if err != nil {
		t.Fatalf("report 1: %v", err)
	}
	if r1.Status != StatusQueued || r1.AttemptCount != 1 {
		t.Fatalf("expected QUEUED/attempt 1, got status=%s attempt=%d", r1.Status, r1.AttemptCount)
	}
	wantAt := frozen.Now().Add(5 * time.Second)
	if !r1.ScheduledFor.Equal(wantAt) {
		t.Fatalf("expected scheduled_for %v, got %v", wantAt, r1.ScheduledFor)
	}
	if r1.LastError == nil || *r1.LastError != "boom" {
		t.Fatalf("expected last_error boom, got %v", r1.LastError)
	}

	frozen.Advance(10 * time.Second)
	if _, ok, err := engine.Claim(ctx, "g1"); err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	r2, err := engine.Report(ctx, ReportInput{MessageID: msg.ID, Status: StatusFailed, Error: &boom})
	if err != nil {
		t.Fatalf("report 2: %v", err)
	}
	if r2.Status != StatusQueued || r2.AttemptCount != 2 {
		t.Fatalf("expected QUEUED/attempt 2, got status=%s attempt=%d", r2.Status, r2.AttemptCount)
	}

	frozen.Advance(20 * time.Second)
	if _, ok, err := engine.Claim(ctx, "g1"); err != nil || !ok {
		t.Fatalf("reclaim 2: ok=%v err=%v", ok, err)
	}
	r3, err := engine.Report(ctx, ReportInput{MessageID: msg.ID, Status: StatusFailed, Error: &boom})
	if err != nil {
		t.Fatalf("report 3: %v", err)
	}
	if r3.Status != StatusFailed || r3.AttemptCount != 3 {
		t.Fatalf("expected terminal FAILED/attempt 3, got status=%s attempt=%d", r3.Status, r3.AttemptCount)
	}
}

// S5 — Cancel during in-flight delivery; the reporter observes CANCELED.
func TestCancel_DuringInFlight(t *testing.T) {
	now := time.Now()
	th := Throttle{NextSendAt: now.Add(-time.Second), IntervalSeconds: 3600, MaxAttempts: 5, RetryBaseSeconds: 60, RetryMaxSeconds: 21600}
	engine, _, _ := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, err := engine.Claim(ctx, "g1"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	canceled, err := engine.Cancel(ctx, msg.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", canceled.Status)
	}

	reported, err := engine.Report(ctx, ReportInput{MessageID: msg.ID, Status: StatusSent})
	if err != nil {
		t.Fatalf("report after cancel: %v", err)
	}
	if reported.Status != StatusCanceled {
		t.Fatalf("expected status to remain CANCELED, got %s", reported.Status)
	}

	events, err := engine.Events(ctx, msg.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	last := events[len(events)-1]
	if last.Status != StatusCanceled {
		t.Fatalf("expected trailing event status CANCELED, got %s", last.Status)
	}
	if note, _ := last.Detail["note"].(string); note != "skipped_send_because_canceled" {
		t.Fatalf("expected skipped-because-canceled note, got %+v", last.Detail)
	}
}

// S6 — Skip over max-attempts: a message already at max_attempts is never promoted.
func TestTick_SkipsOverMaxAttempts(t *testing.T) {
	now := time.Now()
	th := Throttle{NextSendAt: now.Add(-time.Second), IntervalSeconds: 3600, MaxAttempts: 3, RetryBaseSeconds: 5, RetryMaxSeconds: 60}
	engine, store, _ := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.WithTx(ctx, func(tx Tx) error {
		mtx := tx.(*memTx)
		m := mtx.store.messages[msg.ID]
		m.AttemptCount = 3
		return nil
	}); err != nil {
		t.Fatalf("force attempt_count: %v", err)
	}

	result, err := engine.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if result.Status != "skipped" || result.Reason != "no_due_messages" {
		t.Fatalf("expected skipped/no_due_messages, got %+v", result)
	}

	got, err := engine.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("expected message to remain QUEUED, got %s", got.Status)
	}
}

// Idempotent cancel: canceling twice never produces a duplicate transition.
func TestCancel_Idempotent(t *testing.T) {
	now := time.Now()
	th := DefaultThrottle(now)
	th.NextSendAt = now.Add(-time.Second)
	engine, _, _ := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := engine.Cancel(ctx, msg.ID); err != nil {
		t.Fatalf("cancel 1: %v", err)
	}
	before, err := engine.Events(ctx, msg.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	if _, err := engine.Cancel(ctx, msg.ID); err != nil {
		t.Fatalf("cancel 2: %v", err)
	}
	after, err := engine.Events(ctx, msg.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected no new event from idempotent re-cancel, before=%d after=%d", len(before), len(after))
	}
}

// Cancel rejects sent-class statuses.
func TestCancel_RejectsSentClass(t *testing.T) {
	now := time.Now()
	th := Throttle{NextSendAt: now.Add(-time.Second), IntervalSeconds: 3600, MaxAttempts: 5, RetryBaseSeconds: 60, RetryMaxSeconds: 21600}
	engine, _, _ := newTestEngine(t, now, th)
	ctx := context.Background()

	msg, err := engine.Create(ctx, "a@example.com", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok, err := engine.Claim(ctx, "g1"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if _, err := engine.Report(ctx, ReportInput{MessageID: msg.ID, Status: StatusSent}); err != nil {
		t.Fatalf("report: %v", err)
	}

	_, err = engine.Cancel(ctx, msg.ID)
	if err == nil {
		t.Fatalf("expected error canceling a SENT message")
	}
	schedErr, ok := err.(*Error)
	if !ok || schedErr.Kind != InvalidState {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestClaim_RejectsEmptyGatewayID(t *testing.T) {
	now := time.Now()
	engine, _, _ := newTestEngine(t, now, DefaultThrottle(now))
	if _, _, err := engine.Claim(context.Background(), ""); err == nil {
		t.Fatalf("expected INVALID_ARGUMENT for empty gateway_id")
	}
}

func TestReport_RejectsNonReportableStatus(t *testing.T) {
	now := time.Now()
	engine, _, _ := newTestEngine(t, now, DefaultThrottle(now))
	_, err := engine.Report(context.Background(), ReportInput{MessageID: newTestUUID(), Status: StatusQueued})
	if err == nil {
		t.Fatalf("expected INVALID_ARGUMENT for non-reportable status")
	}
}
