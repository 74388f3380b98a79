package middleware

import (
	"github.com/labstack/echo/v4"
)

// Inbound headers that only describe the client's hop to us.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop request
// headers and sets response security headers. The headers are set before
// the handler runs: a streamed script commits on its first write.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqHeader := c.Request().Header
			for _, h := range hopByHopHeaders {
				reqHeader.Del(h)
			}

			resHeader := c.Response().Header()
			for _, kv := range securityHeaders {
				resHeader.Set(kv[0], kv[1])
			}

			return next(c)
		}
	}
}
