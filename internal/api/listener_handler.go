package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"capsule-go/internal/capsule"
)

// ListenerSource reports the listeners owned by a capsule.
type ListenerSource interface {
	Listeners() []capsule.ListenerStats
}

// ListenerHandler exposes listener state for operators.
type ListenerHandler struct {
	source ListenerSource
	logger *slog.Logger
}

// NewListenerHandler creates a listener handler.
func NewListenerHandler(source ListenerSource, logger *slog.Logger) *ListenerHandler {
	return &ListenerHandler{
		source: source,
		logger: logger,
	}
}

// List handles GET /v1/listeners
func (h *ListenerHandler) List(c *fiber.Ctx) error {
	return Success(c, h.source.Listeners())
}
