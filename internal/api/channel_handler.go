package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"capsule-go/internal/archive"
	"capsule-go/internal/capsule"
	"capsule-go/internal/relay"
)

// ChannelHandler handles HTTP requests that publish to or inspect channels.
type ChannelHandler struct {
	publisher relay.Publisher
	recorder  *archive.Recorder
	logger    *slog.Logger
}

// NewChannelHandler creates a channel handler. recorder may be nil when the
// archive is disabled.
func NewChannelHandler(publisher relay.Publisher, recorder *archive.Recorder, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
	}
}

// Publish handles POST /v1/channels/:channel/messages
// The request body is the payload; it is wrapped in an envelope and pushed
// onto the channel list. An optional ?db= targets another database.
func (h *ChannelHandler) Publish(c *fiber.Ctx) error {
	channel := c.Params("channel")

	body := c.Body()
	if len(body) == 0 {
		return BadRequest(c, "request body is required")
	}
	payload, err := capsule.DecodePayload(body)
	if err != nil {
		h.logger.Debug("failed to parse payload", "error", err)
		return BadRequest(c, "request body must be valid JSON")
	}

	var options []capsule.CallOption
	if db := c.Query("db"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return BadRequest(c, "db must be a non-negative integer")
		}
		options = append(options, capsule.WithEndpoint("", n))
	}

	if err := h.publisher.Publish(c.Context(), channel, payload, options...); err != nil {
		return publishError(c, err)
	}

	return Accepted(c, map[string]string{
		"status":  "queued",
		"channel": channel,
	})
}

// Archive handles GET /v1/channels/:channel/archive
// Returns the most recent archived messages for the channel.
func (h *ChannelHandler) Archive(c *fiber.Ctx) error {
	if h.recorder == nil {
		return NotFound(c, "archive is disabled")
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return BadRequest(c, "limit must be a positive integer")
		}
		limit = n
	}

	records, err := h.recorder.Recent(c.Context(), c.Params("channel"), limit)
	if err != nil {
		h.logger.Error("failed to list archive", "error", err)
		return InternalError(c, "failed to list archive")
	}

	return Success(c, records)
}

// publishError maps capsule errors onto HTTP statuses.
func publishError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, capsule.ErrInvalidEndpoint), errors.Is(err, capsule.ErrEmptyChannel):
		return Error(c, fiber.StatusBadRequest, ErrCodeInvalidEndpoint, err.Error())
	case errors.Is(err, capsule.ErrUnreachable), errors.Is(err, capsule.ErrClosed):
		return Error(c, fiber.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, capsule.ErrPublishFailed):
		return Error(c, fiber.StatusBadGateway, ErrCodePublishFailed, err.Error())
	default:
		return InternalError(c, err.Error())
	}
}
