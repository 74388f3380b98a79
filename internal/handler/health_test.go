package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"maps-proxy-go/internal/pool"
)

func newTestPool(t *testing.T, minWorkers, maxWorkers int) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Options{Min: minWorkers, Max: maxWorkers}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := &HealthHandler{}
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	env := newScriptEnv(t, "https://upstream.test/js?key=%s&callback=initMap")
	env.notifier.Report(context.Background(), "script_handler", errors.New("fetch failed for key=ABC123"))
	p := newTestPool(t, 2, 16)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(env.svc, p, env.notifier, "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.Contains(rec.Body.String(), testKey) {
		t.Errorf("status body leaks the key: %s", rec.Body.String())
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	if body.UpstreamURL != "https://upstream.test/js?key=[REDACTED]&callback=initMap" {
		t.Errorf("body.upstream_url = %q", body.UpstreamURL)
	}
	if body.Pool.Min != 2 || body.Pool.Max != 16 || !body.Pool.Running {
		t.Errorf("body.pool = %+v, want running min 2 max 16", body.Pool)
	}
	if len(body.RecentErrors) != 1 || body.RecentErrors[0].Source != "script_handler" {
		t.Errorf("body.recent_errors = %+v, want one script_handler report", body.RecentErrors)
	}
}
