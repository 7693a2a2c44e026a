package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by the core's own test suite.
// It serializes every WithTx call behind one mutex, which gives it the
// same "exactly one active transaction" guarantee Postgres gives via row
// locks — sufficient to exercise the throttle/claim/report/cancel
// invariants without a real database connection.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*ScheduledMessage
	events   map[uuid.UUID][]MessageStatusEvent
	throttle *Throttle
	nextEvt  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]*ScheduledMessage),
		events:   make(map[uuid.UUID][]MessageStatusEvent),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

// snapshot/restore give WithTx rollback semantics: on error, every
// message/event/throttle mutation made during fn is discarded.
type memSnapshot struct {
	messages map[uuid.UUID]ScheduledMessage
	events   map[uuid.UUID][]MessageStatusEvent
	throttle *Throttle
}

func (s *MemoryStore) snapshot() memSnapshot {
	msgs := make(map[uuid.UUID]ScheduledMessage, len(s.messages))
	for id, m := range s.messages {
		msgs[id] = *m
	}
	evts := make(map[uuid.UUID][]MessageStatusEvent, len(s.events))
	for id, es := range s.events {
		cp := make([]MessageStatusEvent, len(es))
		copy(cp, es)
		evts[id] = cp
	}
	var th *Throttle
	if s.throttle != nil {
		cp := *s.throttle
		th = &cp
	}
	return memSnapshot{messages: msgs, events: evts, throttle: th}
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.messages = make(map[uuid.UUID]*ScheduledMessage, len(snap.messages))
	for id, m := range snap.messages {
		cp := m
		s.messages[id] = &cp
	}
	s.events = snap.events
	s.throttle = snap.throttle
}

func (s *MemoryStore) Create(ctx context.Context, msg *ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, newError(NotFound, "message %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]*ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ScheduledMessage
	for _, m := range s.messages {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.ScheduledFrom != nil && m.ScheduledFor.Before(*f.ScheduledFrom) {
			continue
		}
		if f.ScheduledTo != nil && m.ScheduledFor.After(*f.ScheduledTo) {
			continue
		}
		if f.ToHandleLike != "" && !strings.Contains(strings.ToLower(m.ToHandle), strings.ToLower(f.ToHandleLike)) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[Status]int{}
	for _, m := range s.messages {
		out[m.Status]++
	}
	return out, nil
}

func (s *MemoryStore) Events(ctx context.Context, messageID uuid.UUID) ([]MessageStatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evts := append([]MessageStatusEvent(nil), s.events[messageID]...)
	sort.SliceStable(evts, func(i, j int) bool {
		if !evts[i].Timestamp.Equal(evts[j].Timestamp) {
			return evts[i].Timestamp.Before(evts[j].Timestamp)
		}
		return evts[i].ID < evts[j].ID
	})
	return evts, nil
}

// memTx implements Tx against the MemoryStore it was created from. The
// caller already holds s.mu for the lifetime of the enclosing WithTx call,
// so these methods manipulate state directly.
type memTx struct {
	store *MemoryStore
}

func (t *memTx) LockThrottle(ctx context.Context) (Throttle, error) {
	if t.store.throttle == nil {
		def := DefaultThrottle(time.Now())
		t.store.throttle = &def
	}
	return *t.store.throttle, nil
}

func (t *memTx) SaveThrottle(ctx context.Context, th Throttle) error {
	t.store.throttle = &th
	return nil
}

func (t *memTx) PickDueQueued(ctx context.Context, now time.Time, maxAttempts int) (*ScheduledMessage, error) {
	var candidates []*ScheduledMessage
	for _, m := range t.store.messages {
		if m.Status == StatusQueued && !m.ScheduledFor.After(now) && m.ClaimedAt == nil && m.AttemptCount < maxAttempts {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	cp := *candidates[0]
	return &cp, nil
}

func (t *memTx) PickPendingForGateway(ctx context.Context, now time.Time) (*ScheduledMessage, error) {
	var candidates []*ScheduledMessage
	for _, m := range t.store.messages {
		if m.Status == StatusAccepted && m.Ownership.IsPending() && m.ClaimedAt == nil && !m.ScheduledFor.After(now) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	cp := *candidates[0]
	return &cp, nil
}

func (t *memTx) LockMessage(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	m, ok := t.store.messages[id]
	if !ok {
		return nil, newError(NotFound, "message %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) SaveMessage(ctx context.Context, msg *ScheduledMessage) error {
	cp := *msg
	t.store.messages[msg.ID] = &cp
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, messageID uuid.UUID, status Status, detail map[string]any) error {
	t.store.nextEvt++
	t.store.events[messageID] = append(t.store.events[messageID], MessageStatusEvent{
		ID:        t.store.nextEvt,
		MessageID: messageID,
		Status:    status,
		Timestamp: time.Now(),
		Detail:    detail,
	})
	return nil
}
