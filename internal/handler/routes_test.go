package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte(`initMap();`))
	}))
	defer upstream.Close()

	env := newScriptEnv(t, upstream.URL+"/js?key=%s&signed_in=true&callback=initMap")
	env.cfg.Metrics.Enabled = true
	env.cfg.Metrics.Path = "/metrics"

	script := NewScriptHandler(env.svc, env.notifier, env.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	health := NewHealthHandler(env.svc, newTestPool(t, 1, 4), env.notifier, "test")

	e := echo.New()
	RegisterRoutes(e, env.cfg, env.metrics, script, health)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET map.js", http.MethodGet, ScriptPath, http.StatusOK},
		{"GET map.js ignores query", http.MethodGet, ScriptPath + "?foo=bar", http.StatusOK},
		{"POST map.js not allowed", http.MethodPost, ScriptPath, http.StatusMethodNotAllowed},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET other maps path", http.MethodGet, "/api/v1/maps/other.js", http.StatusNotFound},
		{"GET /unknown", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	env := newScriptEnv(t, "https://upstream.test/js?key=%s")
	health := NewHealthHandler(env.svc, newTestPool(t, 0, 1), env.notifier, "test")

	e := echo.New()
	RegisterRoutes(e, env.cfg, env.metrics, env.handler, health)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegisterRoutes_MetricsExposesPool(t *testing.T) {
	env := newScriptEnv(t, "https://upstream.test/js?key=%s")
	env.cfg.Metrics.Enabled = true
	env.cfg.Metrics.Path = "/metrics"
	p := newTestPool(t, 3, 9)
	env.metrics.RegisterPool(p)

	e := echo.New()
	RegisterRoutes(e, env.cfg, env.metrics, env.handler, NewHealthHandler(env.svc, p, env.notifier, "test"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), "maps_proxy_pool_workers_max 9") {
		t.Errorf("metrics output missing pool gauge:\n%s", rec.Body.String())
	}
}
