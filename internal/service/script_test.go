package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"maps-proxy-go/internal/client"
	"maps-proxy-go/internal/config"
)

func newTestService(t *testing.T, tmpl, key string) *ScriptService {
	t.Helper()
	cfg := &config.Config{
		Maps: config.MapsConfig{APIKey: config.Secret(key), URLTemplate: tmpl},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  5,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewScriptService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewScriptService: %v", err)
	}
	return svc
}

func TestScriptService_BuildUpstreamURL(t *testing.T) {
	svc := newTestService(t, "https://upstream.test/js?key=%s&signed_in=true&callback=initMap", "ABC123")

	want := "https://upstream.test/js?key=ABC123&signed_in=true&callback=initMap"
	if got := svc.buildUpstreamURL(); got != want {
		t.Errorf("buildUpstreamURL() = %q, want %q", got, want)
	}
	if got := svc.UpstreamURL(); strings.Contains(got, "ABC123") {
		t.Errorf("UpstreamURL() = %q leaks the key", got)
	}
}

func TestScriptService_BuildUpstreamURL_EscapesKey(t *testing.T) {
	svc := newTestService(t, "https://upstream.test/js?key=%s&callback=initMap", "a&b=c")

	want := "https://upstream.test/js?key=a%26b%3Dc&callback=initMap"
	if got := svc.buildUpstreamURL(); got != want {
		t.Errorf("buildUpstreamURL() = %q, want %q", got, want)
	}
}

func TestNewScriptService_MissingKey(t *testing.T) {
	cfg := &config.Config{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewScriptService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Errorf("NewScriptService() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestScriptService_Fetch(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		if q.Get("key") != "ABC123" || q.Get("signed_in") != "true" || q.Get("callback") != "initMap" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte("var x=1;"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL+"/js?key=%s&signed_in=true&callback=initMap", "ABC123")

	for range 2 {
		resp, err := svc.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if string(body) != "var x=1;" {
			t.Errorf("body = %q, want %q", body, "var x=1;")
		}
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2 (no caching)", hits.Load())
	}
}

func TestScriptService_Fetch_ErrorStatus(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL+"/js?key=%s", "ABC123")

	_, err := svc.Fetch(context.Background())
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Fatalf("Fetch() error = %v, want ErrUpstreamStatus", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %q, want status code", err)
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want exactly 1 (no retry)", hits.Load())
	}
}

func TestScriptService_Fetch_ErrorRedactsKey(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1/js?key=%s&signed_in=true", "ABC123")

	_, err := svc.Fetch(context.Background())
	if err == nil {
		t.Fatal("Fetch() expected error for unreachable upstream, got nil")
	}
	if strings.Contains(err.Error(), "ABC123") {
		t.Errorf("error leaks the key: %q", err)
	}
	if !strings.Contains(err.Error(), redactedKey) {
		t.Errorf("error = %q, want redacted URL for diagnosis", err)
	}
}
