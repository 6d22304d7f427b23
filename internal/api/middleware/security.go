package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the headers every API response carries. API responses
// hold tokens and console output, so they are never cached.
func SecurityHeaders(tls bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		if tls {
			h.Set("Strict-Transport-Security", "max-age=31536000")
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}

		c.Next()
	}
}

// ContentSecurityPolicy allows nothing but connections back to the manager.
// Debug mode also allows websocket connections to other hosts for a dev frontend.
func ContentSecurityPolicy(debug bool) gin.HandlerFunc {
	connectSrc := "'self'"
	if debug {
		connectSrc += " ws: wss:"
	}
	policy := strings.Join([]string{
		"default-src 'none'",
		"connect-src " + connectSrc,
		"frame-ancestors 'none'",
		"base-uri 'none'",
	}, "; ")

	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", policy)
		c.Next()
	}
}
