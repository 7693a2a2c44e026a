package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore is the production Store, grounded on the same
// database/sql + lib/pq style the teacher's messages.Store uses, with
// FOR UPDATE SKIP LOCKED selection adapted from the teacher's
// queue.Queue.Poll.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(StoreError, err, "begin transaction")
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapError(StoreError, err, "commit transaction")
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, msg *ScheduledMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages
			(id, to_handle, body, scheduled_for, status, created_at, updated_at, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ToHandle, msg.Body, msg.ScheduledFor, msg.Status, msg.CreatedAt, msg.UpdatedAt, msg.AttemptCount)
	if err != nil {
		return wrapError(StoreError, err, "create scheduled message")
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx, selectMessageColumns+" FROM scheduled_messages WHERE id = $1", id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, newError(NotFound, "message %s not found", id)
	}
	if err != nil {
		return nil, wrapError(StoreError, err, "get message %s", id)
	}
	return msg, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]*ScheduledMessage, error) {
	query := selectMessageColumns + " FROM scheduled_messages WHERE 1=1"
	var args []any
	argN := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, f.Status)
		argN++
	}
	if f.ScheduledFrom != nil {
		query += fmt.Sprintf(" AND scheduled_for >= $%d", argN)
		args = append(args, *f.ScheduledFrom)
		argN++
	}
	if f.ScheduledTo != nil {
		query += fmt.Sprintf(" AND scheduled_for <= $%d", argN)
		args = append(args, *f.ScheduledTo)
		argN++
	}
	if f.ToHandleLike != "" {
		query += fmt.Sprintf(" AND to_handle ILIKE $%d", argN)
		args = append(args, "%"+f.ToHandleLike+"%")
		argN++
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(StoreError, err, "list messages")
	}
	defer rows.Close()

	var out []*ScheduledMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapError(StoreError, err, "scan message")
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_messages GROUP BY status`)
	if err != nil {
		return nil, wrapError(StoreError, err, "stats")
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, wrapError(StoreError, err, "scan stats row")
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (s *PostgresStore) Events(ctx context.Context, messageID uuid.UUID) ([]MessageStatusEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, status, timestamp, detail
		FROM message_status_events
		WHERE message_id = $1
		ORDER BY timestamp ASC, id ASC`, messageID)
	if err != nil {
		return nil, wrapError(StoreError, err, "list events for %s", messageID)
	}
	defer rows.Close()

	var out []MessageStatusEvent
	for rows.Next() {
		var e MessageStatusEvent
		var detailRaw []byte
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Status, &e.Timestamp, &detailRaw); err != nil {
			return nil, wrapError(StoreError, err, "scan event")
		}
		if len(detailRaw) > 0 {
			if err := json.Unmarshal(detailRaw, &e.Detail); err != nil {
				return nil, wrapError(StoreError, err, "decode event detail")
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// pgTx implements Tx over one *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockThrottle(ctx context.Context) (Throttle, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT next_send_at, interval_seconds, max_attempts, retry_base_seconds, retry_max_seconds
		FROM delivery_throttle WHERE id = 1 FOR UPDATE`)

	var th Throttle
	err := row.Scan(&th.NextSendAt, &th.IntervalSeconds, &th.MaxAttempts, &th.RetryBaseSeconds, &th.RetryMaxSeconds)
	if err == sql.ErrNoRows {
		def := DefaultThrottle(time.Now())
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO delivery_throttle (id, next_send_at, interval_seconds, max_attempts, retry_base_seconds, retry_max_seconds)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			def.NextSendAt, def.IntervalSeconds, def.MaxAttempts, def.RetryBaseSeconds, def.RetryMaxSeconds)
		if err != nil {
			return Throttle{}, wrapError(StoreError, err, "create default throttle")
		}
		return t.LockThrottle(ctx)
	}
	if err != nil {
		return Throttle{}, wrapError(StoreError, err, "lock throttle")
	}
	return th, nil
}

func (t *pgTx) SaveThrottle(ctx context.Context, th Throttle) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE delivery_throttle
		SET next_send_at = $1, interval_seconds = $2, max_attempts = $3, retry_base_seconds = $4, retry_max_seconds = $5
		WHERE id = 1`,
		th.NextSendAt, th.IntervalSeconds, th.MaxAttempts, th.RetryBaseSeconds, th.RetryMaxSeconds)
	if err != nil {
		return wrapError(StoreError, err, "save throttle")
	}
	return nil
}

func (t *pgTx) PickDueQueued(ctx context.Context, now time.Time, maxAttempts int) (*ScheduledMessage, error) {
	row := t.tx.QueryRowContext(ctx, selectMessageColumns+`
		FROM scheduled_messages
		WHERE status = $1 AND scheduled_for <= $2 AND claimed_at IS NULL AND attempt_count < $3
		ORDER BY scheduled_for ASC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, StatusQueued, now, maxAttempts)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		// SKIP LOCKED can't tell us whether there were no due rows at all or
		// whether every due row is held by a concurrent transaction. A
		// second, lock-free existence check distinguishes the two so the
		// caller can tell genuine emptiness from contention.
		exists, existsErr := t.dueQueuedExists(ctx, now, maxAttempts)
		if existsErr != nil {
			return nil, existsErr
		}
		if exists {
			return nil, newError(contention, "due queued rows exist but are locked by a concurrent transaction")
		}
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(StoreError, err, "pick due queued")
	}
	return msg, nil
}

func (t *pgTx) dueQueuedExists(ctx context.Context, now time.Time, maxAttempts int) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM scheduled_messages
			WHERE status = $1 AND scheduled_for <= $2 AND claimed_at IS NULL AND attempt_count < $3
		)`, StatusQueued, now, maxAttempts).Scan(&exists)
	if err != nil {
		return false, wrapError(StoreError, err, "check due queued existence")
	}
	return exists, nil
}

func (t *pgTx) PickPendingForGateway(ctx context.Context, now time.Time) (*ScheduledMessage, error) {
	row := t.tx.QueryRowContext(ctx, selectMessageColumns+`
		FROM scheduled_messages
		WHERE status = $1 AND claimed_by = $2 AND claimed_at IS NULL AND scheduled_for <= $3
		ORDER BY scheduled_for ASC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, StatusAccepted, pendingGateway, now)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		exists, existsErr := t.pendingForGatewayExists(ctx, now)
		if existsErr != nil {
			return nil, existsErr
		}
		if exists {
			return nil, newError(contention, "pending gateway rows exist but are locked by a concurrent transaction")
		}
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(StoreError, err, "pick pending for gateway")
	}
	return msg, nil
}

func (t *pgTx) pendingForGatewayExists(ctx context.Context, now time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM scheduled_messages
			WHERE status = $1 AND claimed_by = $2 AND claimed_at IS NULL AND scheduled_for <= $3
		)`, StatusAccepted, pendingGateway, now).Scan(&exists)
	if err != nil {
		return false, wrapError(StoreError, err, "check pending for gateway existence")
	}
	return exists, nil
}

func (t *pgTx) LockMessage(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	row := t.tx.QueryRowContext(ctx, selectMessageColumns+" FROM scheduled_messages WHERE id = $1 FOR UPDATE", id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, newError(NotFound, "message %s not found", id)
	}
	if err != nil {
		return nil, wrapError(StoreError, err, "lock message %s", id)
	}
	return msg, nil
}

func (t *pgTx) SaveMessage(ctx context.Context, msg *ScheduledMessage) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET to_handle = $2, body = $3, scheduled_for = $4, status = $5, updated_at = $6,
			claimed_at = $7, claimed_by = $8, attempt_count = $9, last_error = $10
		WHERE id = $1`,
		msg.ID, msg.ToHandle, msg.Body, msg.ScheduledFor, msg.Status, msg.UpdatedAt,
		msg.ClaimedAt, msg.Ownership.column(), msg.AttemptCount, msg.LastError)
	if err != nil {
		return wrapError(StoreError, err, "save message %s", msg.ID)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, messageID uuid.UUID, status Status, detail map[string]any) error {
	var detailRaw any
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return wrapError(StoreError, err, "encode event detail")
		}
		detailRaw = b
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO message_status_events (message_id, status, timestamp, detail)
		VALUES ($1, $2, $3, $4)`, messageID, status, time.Now(), detailRaw)
	if err != nil {
		return wrapError(StoreError, err, "append event for %s", messageID)
	}
	return nil
}

const selectMessageColumns = `SELECT id, to_handle, body, scheduled_for, status, created_at, updated_at, claimed_at, claimed_by, attempt_count, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*ScheduledMessage, error) {
	var msg ScheduledMessage
	var claimedBy sql.NullString

	err := row.Scan(
		&msg.ID, &msg.ToHandle, &msg.Body, &msg.ScheduledFor, &msg.Status,
		&msg.CreatedAt, &msg.UpdatedAt, &msg.ClaimedAt, &claimedBy, &msg.AttemptCount, &msg.LastError)
	if err != nil {
		return nil, err
	}

	if claimedBy.Valid {
		msg.Ownership = ownershipFromColumn(&claimedBy.String)
	} else {
		msg.Ownership = Unowned
	}

	return &msg, nil
}
