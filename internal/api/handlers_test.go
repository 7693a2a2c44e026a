package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"imessage-scheduler/internal/clock"
	"imessage-scheduler/internal/idempotency"
	"imessage-scheduler/internal/scheduler"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T) (*fiber.App, *scheduler.Engine) {
	t.Helper()
	store := scheduler.NewMemoryStore()
	frozen := clock.NewFrozen(time.Now())
	engine := scheduler.NewEngine(store, frozen, zap.NewNop())
	handlers := NewHandlers(engine, idempotency.NewStore(nil, zap.NewNop()), frozen, nil)

	app := fiber.New()
	app.Post("/messages", handlers.CreateMessage)
	app.Get("/messages/:id", handlers.GetMessage)
	app.Post("/messages/:id/cancel", handlers.CancelMessage)
	app.Get("/health", handlers.Health)
	app.Get("/stats", handlers.Stats)
	return app, engine
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateMessage_Validation(t *testing.T) {
	app, _ := newTestApp(t)

	body, _ := json.Marshal(map[string]any{
		"scheduled_for": time.Now(),
	})
	req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for missing to_handle/body, got %d", resp.StatusCode)
	}
}

func TestCreateAndGetMessage(t *testing.T) {
	app, _ := newTestApp(t)

	body, _ := json.Marshal(map[string]any{
		"to_handle":     "friend@example.com",
		"body":          "hello",
		"scheduled_for": time.Now(),
	})
	req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != string(scheduler.StatusQueued) {
		t.Fatalf("expected QUEUED, got %s", created.Status)
	}

	getResp, err := app.Test(httptest.NewRequest("GET", "/messages/"+created.ID.String(), nil))
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestCancelMessage_NotFound(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/messages/00000000-0000-0000-0000-000000000000/cancel", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
