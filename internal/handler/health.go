package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"maps-proxy-go/internal/pool"
	"maps-proxy-go/internal/reporter"
	"maps-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	service  *service.ScriptService
	pool     *pool.Pool
	notifier *reporter.Notifier
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(svc *service.ScriptService, p *pool.Pool, n *reporter.Notifier, v Version) *HealthHandler {
	return &HealthHandler{service: svc, pool: p, notifier: n, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of GET /proxy/status.
type statusResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	UpstreamURL  string            `json:"upstream_url"`
	Pool         pool.Stats        `json:"pool"`
	RecentErrors []reporter.Report `json:"recent_errors"`
}

// Status returns proxy status, worker pool counters and recent error reports.
// The upstream URL is shown with the key redacted.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:       "ok",
		Version:      string(h.version),
		UpstreamURL:  h.service.UpstreamURL(),
		Pool:         h.pool.Stats(),
		RecentErrors: h.notifier.Recent(),
	})
}
