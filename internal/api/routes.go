package api

import (
	"imessage-scheduler/internal/gatewayauth"
	"imessage-scheduler/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes wires the spec §6 surface: client-facing message endpoints,
// gateway-facing claim/report endpoints behind the shared-secret
// middleware, and the operational health/stats/metrics endpoints.
func SetupRoutes(
	app *fiber.App,
	logger *zap.Logger,
	metrics *observability.Metrics,
	handlers *Handlers,
	gatewayAuth *gatewayauth.Service,
) {
	SetupMiddleware(app, logger, metrics)

	app.Get("/health", handlers.Health)
	app.Get("/stats", handlers.Stats)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/messages", handlers.CreateMessage)
	app.Get("/messages", handlers.ListMessages)
	app.Get("/messages/:id", handlers.GetMessage)
	app.Get("/messages/:id/events", handlers.Events)
	app.Post("/messages/:id/cancel", handlers.CancelMessage)

	gateway := app.Group("/gateway", gatewayAuth.RequireSharedSecret())
	gateway.Post("/claim", handlers.Claim)
	gateway.Post("/report", handlers.Report)
}
