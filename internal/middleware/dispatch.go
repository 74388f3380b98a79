package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"maps-proxy-go/internal/pool"
	"maps-proxy-go/internal/reporter"
)

// Dispatch returns an Echo middleware that runs the rest of the chain on a
// worker from p. The connection goroutine blocks until the worker is done.
// If no worker frees up before the request context ends, or the pool has
// stopped, the client gets 503.
//
// Panics on the worker are recovered here, logged, reported and turned into
// a 500; the worker goes back to the pool. scrub redacts secrets from the
// logged panic message; nil falls back to reporter.Sanitize.
func Dispatch(p *pool.Pool, rep reporter.Reporter, scrub func(string) string, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "dispatch")
	if scrub == nil {
		scrub = reporter.Sanitize
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			done := make(chan error, 1)

			task := func() {
				defer func() {
					if r := recover(); r != nil {
						err := fmt.Errorf("panic: %v", r)
						logger.Error("handler panicked",
							"err", scrub(err.Error()),
							"path", c.Request().URL.Path,
						)
						rep.Report(c.Request().Context(), "dispatch", err,
							slog.String("path", c.Request().URL.Path))
						done <- echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
					}
				}()
				done <- next(c)
			}

			if err := p.Submit(c.Request().Context(), task); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable).SetInternal(err)
			}
			return <-done
		}
	}
}
