// Package reporter forwards errors to monitoring with secrets scrubbed.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"maps-proxy-go/internal/config"
	"maps-proxy-go/internal/metrics"
)

// keyPattern matches key query parameter values in URLs embedded in error messages.
var keyPattern = regexp.MustCompile(`(?i)([?&](?:api_?)?key=)[^&\s"]+`)

const maxRecent = 20

// Reporter receives errors that monitoring should know about.
type Reporter interface {
	Report(ctx context.Context, source string, err error, attrs ...slog.Attr)
}

// Report is a single scrubbed error report.
type Report struct {
	Time    time.Time         `json:"time"`
	Source  string            `json:"source"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Notifier is the Reporter used in production. It counts reports per
// source and keeps the most recent ones for the status endpoint.
type Notifier struct {
	secrets []string
	metrics *metrics.Metrics

	mu     sync.Mutex
	recent []Report
}

// NewNotifier creates a Notifier that scrubs the configured API key.
// The metrics parameter is optional; pass nil to disable counting.
func NewNotifier(cfg *config.Config, m *metrics.Metrics) *Notifier {
	var secrets []string
	if key := cfg.Maps.APIKey.Reveal(); key != "" {
		secrets = append(secrets, key)
		if esc := url.QueryEscape(key); esc != key {
			secrets = append(secrets, esc)
		}
	}
	return &Notifier{secrets: secrets, metrics: m}
}

// Report implements Reporter.
func (n *Notifier) Report(_ context.Context, source string, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}

	r := Report{
		Time:    time.Now().UTC(),
		Source:  source,
		Message: n.Scrub(err.Error()),
	}
	if len(attrs) > 0 {
		r.Attrs = make(map[string]string, len(attrs))
		for _, a := range attrs {
			r.Attrs[a.Key] = n.Scrub(a.Value.Resolve().String())
		}
	}

	n.mu.Lock()
	n.recent = append(n.recent, r)
	if len(n.recent) > maxRecent {
		n.recent = n.recent[len(n.recent)-maxRecent:]
	}
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.ErrorsReported.WithLabelValues(source).Inc()
	}
}

// Recent returns up to the last 20 reports, oldest first.
func (n *Notifier) Recent() []Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Report, len(n.recent))
	copy(out, n.recent)
	return out
}

// Scrub removes the API key and any key= query values from s.
func (n *Notifier) Scrub(s string) string {
	for _, secret := range n.secrets {
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return Sanitize(s)
}

// Sanitize redacts key query parameter values from URLs embedded in s.
func Sanitize(s string) string {
	return keyPattern.ReplaceAllString(s, "${1}[REDACTED]")
}

// Recover is the process-wide failure hook. Deferred at the top of a
// goroutine, it logs and reports a panic, then lets the goroutine return.
func Recover(r Reporter, logger *slog.Logger, source string) {
	v := recover()
	if v == nil {
		return
	}
	err := fmt.Errorf("panic: %v", v)
	logger.Error("recovered panic", "source", source, "err", Sanitize(err.Error()))
	r.Report(context.Background(), source, err)
}

// Nop discards every report.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, string, error, ...slog.Attr) {}
