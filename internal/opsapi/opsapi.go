// Package opsapi is the observability surface bolted onto the sandbox
// pool: stats, health, a point-in-time sandbox listing, and a live
// event feed. It never calls Acquire, Release, or exec on a handle —
// every mutating operation stays behind pkg/sandbox, consumed by the
// out-of-scope agent layer, not this HTTP surface.
package opsapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dataanalyst/sandboxpool/internal/sandboxpool"
)

// Handler wires the ops routes to a Manager, grounded in the teacher's
// internal/api.Handler shape (driver + apiKey, RegisterRoutes, an
// authMiddleware gated on whether an API key is configured at all).
type Handler struct {
	mgr    *sandboxpool.Manager
	apiKey string
}

// NewHandler constructs a Handler. An empty apiKey disables auth
// entirely, matching the teacher's "no key configured -> no check"
// behavior.
func NewHandler(mgr *sandboxpool.Manager, apiKey string) *Handler {
	return &Handler{mgr: mgr, apiKey: apiKey}
}

// RegisterRoutes mounts the /v1 group, applying the API-key middleware
// only when one is configured.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")
	if h.apiKey != "" {
		v1.Use(h.authMiddleware)
	}

	v1.GET("/stats", h.getStats)
	v1.GET("/healthz", h.getHealthz)
	v1.GET("/sandboxes", h.listSandboxes)
	v1.GET("/events", h.streamEvents)
}

func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-Sandbox-API-Key")
		if key == "" {
			key = c.QueryParam("api_key")
		}
		if key != h.apiKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}

func (h *Handler) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.GetStats())
}

func (h *Handler) getHealthz(c echo.Context) error {
	if err := h.mgr.Driver().Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// sandboxSummary is the operator-facing view of a tracked sandbox: no
// exec/write surface, just enough to inspect pool composition.
type sandboxSummary struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	CreatedAt      int64  `json:"createdAt"`
	LastUsedAt     int64  `json:"lastUsedAt"`
	HealthFailures int    `json:"healthFailures"`
	SessionID      string `json:"sessionId,omitempty"`
	ExecCount      int    `json:"execCount"`
}

func (h *Handler) listSandboxes(c echo.Context) error {
	snapshots := h.mgr.ListSandboxes()
	out := make([]sandboxSummary, 0, len(snapshots))
	for _, sb := range snapshots {
		out = append(out, sandboxSummary{
			ID:             sb.ID,
			State:          string(sb.State),
			CreatedAt:      sb.CreatedAt,
			LastUsedAt:     sb.LastUsedAt,
			HealthFailures: sb.HealthFailures,
			SessionID:      sb.SessionID,
			ExecCount:      sb.ExecCount,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"sandboxes": out})
}

// allowedOrigin is a narrower take on the teacher's permissive
// CheckOrigin: no Origin header means a CLI/SDK dialing directly, which
// is allowed; otherwise only localhost origins are accepted.
func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://localhost")
}
