package intake

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/ingest-service/internal/broker"
)

// HealthBroker is the subset of the Producer the /health endpoint reports
// on (spec §6: kafka.{status,enabled,connected,failed}).
type HealthBroker interface {
	Enabled() bool
	ConnectionState() (connected, failed bool)
	BreakerOpen() bool
	Stats() broker.Stats
}

// HealthBuffer is the subset of the Fallback Buffer the /health endpoint
// reports on (spec §6: producer_stats.bufferSize/dropped).
type HealthBuffer interface {
	Size() int
	Dropped() int64
}

// Handler mounts the HTTP surface of spec §4.I/§6.
type Handler struct {
	svc    *Service
	prod   HealthBroker
	buf    HealthBuffer
	logger *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, prod HealthBroker, buf HealthBuffer, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, prod: prod, buf: buf, logger: logger}
}

// RegisterRoutes mounts the intake surface on e.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.POST("/", h.Single)
	e.POST("/batch", h.Batch)
	e.OPTIONS("/*", h.Preflight)
	e.GET("/health", h.Health)
}

func requestMeta(c echo.Context, body []byte) RequestMeta {
	return RequestMeta{
		ClientID:  c.QueryParam("client_id"),
		Origin:    c.Request().Header.Get("Origin"),
		UserAgent: c.Request().Header.Get("User-Agent"),
		RemoteIP:  c.RealIP(),
		BodySize:  len(body),
	}
}

// Single handles POST / (spec §4.I single-event contract). HTTP status is
// always 200 for well-formed requests; failure is communicated in the body
// "status" field, a deliberate contract for the tracker-SDK path.
func (h *Handler) Single(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, Result{Status: "error", Message: "Unable to read request body"})
	}

	meta := requestMeta(c, body)

	tenantOutcome := h.svc.ResolveTenant(c.Request().Context(), meta)
	if tenantOutcome.Status != "accepted" {
		return c.JSON(http.StatusOK, Result{Status: "error", Message: tenantOutcome.Message})
	}

	result := h.svc.ProcessEvent(c.Request().Context(), meta, body)
	return c.JSON(http.StatusOK, result)
}

// Batch handles POST /batch (spec §4.I batch contract).
func (h *Handler) Batch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, BatchResult{Status: "error"})
	}

	meta := requestMeta(c, body)

	tenantOutcome := h.svc.ResolveTenant(c.Request().Context(), meta)
	if tenantOutcome.Status != "accepted" {
		return c.JSON(http.StatusOK, BatchResult{Status: "error"})
	}

	var rawEvents []json.RawMessage
	if err := json.Unmarshal(body, &rawEvents); err != nil {
		return c.JSON(http.StatusOK, BatchResult{Status: "error"})
	}

	batchResult, err := h.svc.ProcessBatch(c.Request().Context(), meta, rawEvents)
	if err != nil {
		return c.JSON(http.StatusOK, BatchResult{Status: "error"})
	}
	return c.JSON(http.StatusOK, batchResult)
}

// Preflight answers CORS preflight requests, echoing the request origin
// (spec §6: "CORS echoes the request origin and allows the listed
// headers").
func (h *Handler) Preflight(c echo.Context) error {
	origin := c.Request().Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	c.Response().Header().Set("Access-Control-Allow-Origin", origin)
	c.Response().Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Response().Header().Set("Access-Control-Allow-Headers",
		"Content-Type, databuddy-sdk-name, databuddy-sdk-version")
	return c.NoContent(http.StatusNoContent)
}

// Health reports broker and buffer state (spec §6).
func (h *Handler) Health(c echo.Context) error {
	connected, failed := h.prod.ConnectionState()
	stats := h.prod.Stats()

	kafka := map[string]interface{}{
		"status":    "ok",
		"enabled":   h.prod.Enabled(),
		"connected": connected,
		"failed":    failed,
	}
	if h.prod.BreakerOpen() {
		kafka["status"] = "circuit_open"
	}

	producerStats := map[string]interface{}{
		"sent":       stats.Sent,
		"failed":     stats.Failed,
		"bufferSize": h.buf.Size(),
		"dropped":    h.buf.Dropped(),
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"kafka":          kafka,
		"producer_stats": producerStats,
	})
}
