// Package service builds upstream script requests and enforces the
// secret-handling rules around them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"maps-proxy-go/internal/client"
	"maps-proxy-go/internal/config"
	"maps-proxy-go/internal/model"
)

// ErrUpstreamStatus is returned when the upstream answers with an error status.
var ErrUpstreamStatus = errors.New("upstream returned error status")

const redactedKey = "[REDACTED]"

// ScriptService fetches the maps script with the API key injected.
type ScriptService struct {
	client      *client.UpstreamClient
	logger      *slog.Logger
	tmpl        string
	key         config.Secret
	redactedURL string
}

// NewScriptService creates a ScriptService.
func NewScriptService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ScriptService, error) {
	if cfg.Maps.APIKey.Reveal() == "" {
		return nil, config.ErrMissingAPIKey
	}
	tmpl := cfg.Maps.URLTemplate
	if tmpl == "" {
		tmpl = config.DefaultURLTemplate
	}
	if _, err := url.Parse(fmt.Sprintf(tmpl, "x")); err != nil {
		return nil, fmt.Errorf("parse url template: %w", err)
	}

	return &ScriptService{
		client:      c,
		logger:      logger.With("component", "script_service"),
		tmpl:        tmpl,
		key:         cfg.Maps.APIKey,
		redactedURL: fmt.Sprintf(tmpl, redactedKey),
	}, nil
}

// UpstreamURL returns the upstream URL with the key redacted, safe for display.
func (s *ScriptService) UpstreamURL() string {
	return s.redactedURL
}

// Fetch performs one upstream request for the script. There is no retry.
// The caller is responsible for closing the response body.
// Returned errors never contain the API key.
func (s *ScriptService) Fetch(ctx context.Context) (*model.UpstreamScript, error) {
	s.logger.Debug("fetching script", "url", s.redactedURL)

	resp, err := s.client.Fetch(ctx, s.buildUpstreamURL())
	if err != nil {
		return nil, fmt.Errorf("fetch script: %w", s.scrub(err))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch script: %w (status %d)", ErrUpstreamStatus, resp.StatusCode)
	}
	return resp, nil
}

func (s *ScriptService) buildUpstreamURL() string {
	return fmt.Sprintf(s.tmpl, url.QueryEscape(s.key.Reveal()))
}

// scrub replaces the URL carried by a *url.Error with the redacted form.
// Transport errors below url.Error do not carry the query string.
func (s *ScriptService) scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = s.redactedURL
	}
	return err
}
