// Package server provides the HTTP surface of the relay: chat, comparison,
// model listing, health and metrics endpoints.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"modelrelay/internal/catalog"
	"modelrelay/internal/core"
	"modelrelay/internal/relay"
)

// Handler holds the HTTP handlers
type Handler struct {
	relay      *relay.Relay
	comparator *relay.Comparator
	catalog    *catalog.Catalog
	logger     *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(r *relay.Relay, cmp *relay.Comparator, cat *catalog.Catalog, logger *slog.Logger) *Handler {
	return &Handler{relay: r, comparator: cmp, catalog: cat, logger: logger}
}

// Chat handles POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := validateChatRequest(&req); err != nil {
		return handleError(c, err)
	}

	ctx := c.Request().Context()

	if !req.Stream {
		result, err := h.relay.Complete(ctx, &req)
		if err != nil {
			return handleError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}

	// Streaming: from here on, failures are stream events, not HTTP errors.
	w := relay.NewEventWriter(c.Response())
	if err := h.relay.Stream(ctx, &req, w); err != nil {
		h.logger.Warn("chat stream ended with error", "model", req.Model, "error", err)
	}
	return nil
}

// Compare handles POST /api/compare
func (h *Handler) Compare(c echo.Context) error {
	var req core.CompareRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := validateMessages(req.Messages); err != nil {
		return handleError(c, err)
	}
	// Bound enforcement happens before SSE headers are written, so it
	// surfaces synchronously and opens zero upstream connections.
	if err := h.comparator.Validate(&req); err != nil {
		return handleError(c, err)
	}

	w := relay.NewEventWriter(c.Response())
	if err := h.comparator.Run(c.Request().Context(), &req, w); err != nil {
		h.logger.Warn("comparison run ended with error", "models", req.Models, "error", err)
	}
	return nil
}

// ListModels handles GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	models, err := h.catalog.List(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]catalog.Model{"models": models})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts relay errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var relayErr *core.RelayError
	if errors.As(err, &relayErr) {
		return c.JSON(relayErr.HTTPStatusCode(), relayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
