package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders_SetOnStreamedResponse(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/api/v1/maps/map.js", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "application/javascript")
		if _, err := c.Response().Write([]byte("initMap")); err != nil {
			return err
		}
		c.Response().Flush()
		_, err := c.Response().Write([]byte("();"))
		return err
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/maps/map.js", http.NoBody))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Content-Type":           "application/javascript",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Body.String() != "initMap();" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "initMap();")
	}
}

func TestSecurityHeaders_StripsHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())

	var seen http.Header
	e.GET("/api/v1/maps/map.js", func(c echo.Context) error {
		seen = c.Request().Header.Clone()
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/maps/map.js", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Accept", "*/*")
	e.ServeHTTP(httptest.NewRecorder(), req)

	for _, h := range []string{"Connection", "Proxy-Authorization"} {
		if v := seen.Get(h); v != "" {
			t.Errorf("%s should be stripped, got %q", h, v)
		}
	}
	if seen.Get("Accept") != "*/*" {
		t.Errorf("Accept = %q, want it kept", seen.Get("Accept"))
	}
}
