package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"maps-proxy-go/internal/metrics"
)

// MetricsMiddleware records request count, latency and response size. It
// sits outside Dispatch so that time spent waiting for a worker is included.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			start := time.Now()

			err := next(c)

			m.RequestsInFlight.Dec()
			elapsed := time.Since(start).Seconds()

			path := metrics.NormalizePath(c.Request().URL.Path)
			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(resolveStatus(c, err)),
				path,
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(elapsed)
			if size := c.Response().Size; size > 0 {
				m.ResponseBytes.WithLabelValues(path).Add(float64(size))
			}

			return err
		}
	}
}

// resolveStatus returns the status the client will see. An *echo.HTTPError
// that has not been written yet is rendered later by the error handler.
func resolveStatus(c echo.Context, err error) int {
	if c.Response().Committed || err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 500
}
