package engine

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"rocket-guard/internal/metrics"
)

func RegisterDynamicRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	api.Get("/:entity/count", h.Count)
	api.Get("/:entity/_subscribe", h.Subscribe)
	api.Get("/:entity", h.List)
	api.Post("/:entity/bulk", h.Insert)
	api.Post("/:entity", h.Save)
	api.Patch("/:entity", h.UpdateMany)
	api.Delete("/:entity", h.Delete)
}

// RegisterSystemRoutes mounts /health and, when m is set, /metrics.
func RegisterSystemRoutes(app *fiber.App, m *metrics.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}
}

// RequestMetrics counts every request by method, route and status.
func RequestMetrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = ToAppError(err).Status
		}
		m.RecordRequest(c.Method(), c.Route().Path, status)
		return err
	}
}
