package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"maps-proxy-go/internal/client"
	"maps-proxy-go/internal/config"
	"maps-proxy-go/internal/handler"
	"maps-proxy-go/internal/metrics"
	"maps-proxy-go/internal/middleware"
	"maps-proxy-go/internal/pool"
	"maps-proxy-go/internal/reporter"
	"maps-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("maps-proxy"),
		kong.Description("Serves the maps script from upstream without exposing the API key."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			reporter.NewNotifier,
			func(n *reporter.Notifier) reporter.Reporter { return n },
			newPool,
			newEcho,
			client.NewUpstreamClient,
			service.NewScriptService,
			handler.NewScriptHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, registerPoolMetrics, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newPool builds the request worker pool. Panics that escape a task are
// logged by the pool and forwarded to the reporter.
func newPool(cfg *config.Config, logger *slog.Logger, rep reporter.Reporter) (*pool.Pool, error) {
	return pool.New(pool.Options{
		Min:         cfg.Server.Pool.MinThreads,
		Max:         cfg.Server.Pool.MaxThreads,
		IdleTimeout: cfg.Server.Pool.IdleTimeout(),
		OnPanic: func(r any) {
			rep.Report(context.Background(), "worker_pool", fmt.Errorf("panic: %v", r))
		},
	}, logger)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, p *pool.Pool, n *reporter.Notifier) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0); the upstream client timeout bounds how
	// long a script response can stream.
	e.Server.WriteTimeout = 0
	// Keep-alive connections close on the same schedule as idle workers;
	// 0 falls back to ReadTimeout.
	e.Server.IdleTimeout = cfg.Server.Pool.IdleTimeout()
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	// Everything below runs on a pool worker.
	e.Use(middleware.Dispatch(p, n, n.Scrub, logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func registerPoolMetrics(m *metrics.Metrics, p *pool.Pool) {
	m.RegisterPool(p)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, p *pool.Pool, cfg *config.Config, logger *slog.Logger, rep reporter.Reporter) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			if err := p.Start(); err != nil {
				_ = ln.Close()
				return err
			}
			logger.Info("starting server",
				"addr", addr,
				"min_threads", cfg.Server.Pool.MinThreads,
				"max_threads", cfg.Server.Pool.MaxThreads,
			)
			go func() {
				defer reporter.Recover(rep, logger, "server")
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
					rep.Report(context.Background(), "server", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			err := e.Shutdown(ctx)
			return errors.Join(err, p.Stop(ctx))
		},
	})
}
