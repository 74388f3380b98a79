// Package handler contains the HTTP handlers and route wiring.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"maps-proxy-go/internal/metrics"
	"maps-proxy-go/internal/reporter"
	"maps-proxy-go/internal/service"
)

// ScriptContentType is the media type of every successful script response.
const ScriptContentType = "application/javascript"

// ScriptHandler serves the maps script fetched from upstream.
type ScriptHandler struct {
	service  *service.ScriptService
	reporter reporter.Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewScriptHandler creates a ScriptHandler.
// The metrics parameter is optional; pass nil to disable byte counting.
func NewScriptHandler(svc *service.ScriptService, rep reporter.Reporter, m *metrics.Metrics, logger *slog.Logger) *ScriptHandler {
	return &ScriptHandler{
		service:  svc,
		reporter: rep,
		metrics:  m,
		logger:   logger.With("component", "script_handler"),
	}
}

// Handle fetches the script from upstream and streams it to the client.
// The request itself carries nothing the handler needs; only its arrival
// and context matter.
func (h *ScriptHandler) Handle(c echo.Context) error {
	h.logger.Info("looking up map", "request_id", requestID(c))

	resp, err := h.service.Fetch(c.Request().Context())
	if err != nil {
		return h.fail(c, err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, ScriptContentType)

	n, err := copyStream(res, resp.Body)
	if h.metrics != nil {
		h.metrics.UpstreamBytes.Add(float64(n))
	}
	if err != nil {
		return h.fail(c, err, n)
	}

	if !res.Committed {
		// Empty upstream body.
		res.WriteHeader(http.StatusOK)
	}
	res.Flush()
	h.logger.Info("response flushed", "request_id", requestID(c), "bytes", n)
	return nil
}

// fail logs and reports err once, then answers 500 with no body. If part of
// the body already reached the client the status cannot change, and the
// client sees a truncated script.
func (h *ScriptHandler) fail(c echo.Context, err error, written int64) error {
	res := c.Response()
	id := requestID(c)

	h.logger.Error("map lookup failed",
		"err", reporter.Sanitize(err.Error()),
		"request_id", id,
		"bytes_written", written,
		"truncated", res.Committed,
	)
	h.reporter.Report(c.Request().Context(), "script_handler", err,
		slog.String("path", c.Request().URL.Path),
		slog.String("request_id", id),
	)

	if res.Committed {
		return nil
	}
	res.Header().Del(echo.HeaderContentType)
	return c.NoContent(http.StatusInternalServerError)
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}
