package api

import (
	"errors"
	"time"

	"imessage-scheduler/internal/clock"
	"imessage-scheduler/internal/db"
	"imessage-scheduler/internal/idempotency"
	"imessage-scheduler/internal/scheduler"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers adapts the scheduler.Engine to Fiber's request/response model
// (spec §6). It never touches storage directly; every operation goes
// through the engine.
type Handlers struct {
	engine      *scheduler.Engine
	idempotency *idempotency.Store
	clock       clock.Clock
	redis       *db.RedisDB // nil when idempotency caching is disabled
}

func NewHandlers(engine *scheduler.Engine, idem *idempotency.Store, clk clock.Clock, redis *db.RedisDB) *Handlers {
	return &Handlers{engine: engine, idempotency: idem, clock: clk, redis: redis}
}

type messageResponse struct {
	ID           uuid.UUID  `json:"id"`
	ToHandle     string     `json:"to_handle"`
	Body         string     `json:"body"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy    *string    `json:"claimed_by,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	LastError    *string    `json:"last_error,omitempty"`
}

func toMessageResponse(m *scheduler.ScheduledMessage) messageResponse {
	resp := messageResponse{
		ID:           m.ID,
		ToHandle:     m.ToHandle,
		Body:         m.Body,
		ScheduledFor: m.ScheduledFor,
		Status:       string(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		ClaimedAt:    m.ClaimedAt,
		AttemptCount: m.AttemptCount,
		LastError:    m.LastError,
	}
	if gw, ok := m.Ownership.GatewayID(); ok {
		resp.ClaimedBy = &gw
	} else if m.Ownership.IsPending() {
		pending := "gateway_pending"
		resp.ClaimedBy = &pending
	}
	return resp
}

type createMessageRequest struct {
	ToHandle     string    `json:"to_handle"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// CreateMessage handles POST /messages.
func (h *Handlers) CreateMessage(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	key := c.Get("Idempotency-Key")
	if key != "" {
		if existingID := h.idempotency.Lookup(c.Context(), key); existingID != uuid.Nil {
			if existing, err := h.engine.Get(c.Context(), existingID); err == nil {
				return c.Status(fiber.StatusCreated).JSON(toMessageResponse(existing))
			}
		}
	}

	msg, err := h.engine.Create(c.Context(), req.ToHandle, req.Body, req.ScheduledFor)
	if err != nil {
		return schedulerError(c, err)
	}
	if key != "" {
		h.idempotency.Remember(c.Context(), key, msg.ID)
	}
	return c.Status(fiber.StatusCreated).JSON(toMessageResponse(msg))
}

// ListMessages handles GET /messages.
func (h *Handlers) ListMessages(c *fiber.Ctx) error {
	filter := scheduler.ListFilter{
		Status:       scheduler.Status(c.Query("status")),
		ToHandleLike: c.Query("to_handle"),
	}
	if from := c.Query("scheduled_from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed scheduled_from")
		}
		filter.ScheduledFrom = &t
	}
	if to := c.Query("scheduled_to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed scheduled_to")
		}
		filter.ScheduledTo = &t
	}

	msgs, err := h.engine.List(c.Context(), filter)
	if err != nil {
		return schedulerError(c, err)
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return c.JSON(out)
}

// GetMessage handles GET /messages/{id}.
func (h *Handlers) GetMessage(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed message id")
	}
	msg, err := h.engine.Get(c.Context(), id)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(toMessageResponse(msg))
}

// CancelMessage handles POST /messages/{id}/cancel.
func (h *Handlers) CancelMessage(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed message id")
	}
	msg, err := h.engine.Cancel(c.Context(), id)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(toMessageResponse(msg))
}

type claimRequest struct {
	GatewayID string `json:"gateway_id"`
}

// Claim handles POST /gateway/claim.
func (h *Handlers) Claim(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	msg, ok, err := h.engine.Claim(c.Context(), req.GatewayID)
	if err != nil {
		return schedulerError(c, err)
	}
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(toMessageResponse(msg))
}

type reportRequest struct {
	MessageID uuid.UUID      `json:"message_id"`
	Status    string         `json:"status"`
	Error     *string        `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Report handles POST /gateway/report.
func (h *Handlers) Report(c *fiber.Ctx) error {
	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	msg, err := h.engine.Report(c.Context(), scheduler.ReportInput{
		MessageID: req.MessageID,
		Status:    scheduler.Status(req.Status),
		Error:     req.Error,
		Detail:    req.Detail,
	})
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(toMessageResponse(msg))
}

// Health handles GET /health. When Redis-backed idempotency caching is
// configured, a failed ping degrades the response instead of failing it —
// idempotency is a best-effort convenience, not a dependency of the core.
func (h *Handlers) Health(c *fiber.Ctx) error {
	status := "ok"
	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Context()); err != nil {
			status = "degraded"
		}
	}
	return c.JSON(fiber.Map{
		"status": status,
		"time":   h.clock.Now(),
	})
}

// Stats handles GET /stats.
func (h *Handlers) Stats(c *fiber.Ctx) error {
	stats, err := h.engine.Stats(c.Context())
	if err != nil {
		return schedulerError(c, err)
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return c.JSON(out)
}

// Events handles GET /messages/{id}/events — the per-message audit trail
// the admin/reporting surface (out of THE CORE's scope per spec §1) reads
// via the Store's existing Events query.
func (h *Handlers) Events(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed message id")
	}
	events, err := h.engine.Events(c.Context(), id)
	if err != nil {
		return schedulerError(c, err)
	}
	return c.JSON(events)
}

// schedulerError maps a scheduler.Error's Kind to an HTTP status (spec §7).
func schedulerError(c *fiber.Ctx, err error) error {
	var schedErr *scheduler.Error
	if !errors.As(err, &schedErr) {
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}

	switch schedErr.Kind {
	case scheduler.InvalidArgument, scheduler.InvalidState:
		return fiber.NewError(fiber.StatusBadRequest, schedErr.Message)
	case scheduler.NotFound:
		return fiber.NewError(fiber.StatusNotFound, schedErr.Message)
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}
