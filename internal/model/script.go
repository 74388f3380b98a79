// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
)

// UpstreamScript is an open upstream response. The holder must close Body.
type UpstreamScript struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
