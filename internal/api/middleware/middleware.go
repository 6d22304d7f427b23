package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/config"
	"github.com/ZakirC4/papermc-setup/internal/logging"
)

const corsAllowHeaders = "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With"

// originPolicy is the parsed form of security.cors.allowed_origins
type originPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{origins: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*", "0.0.0.0/0":
			p.any = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	return p
}

// allows reports whether a browser origin may call the API. Requests without an
// Origin header (CLI tools, same-origin navigation) are always allowed.
func (p originPolicy) allows(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS answers preflights and echoes allowed origins. Credentials are only
// allowed for an echoed origin, never for "*".
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	policy := newOriginPolicy(cfg.AllowedOrigins)
	methods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	if len(cfg.AllowedMethods) > 0 {
		methods = strings.Join(cfg.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowed := policy.allows(origin)
		header := c.Writer.Header()

		if allowed && origin != "" {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Add("Vary", "Origin")
		} else if allowed && policy.any {
			header.Set("Access-Control-Allow-Origin", "*")
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		header.Set("Access-Control-Allow-Methods", methods)
		header.Set("Access-Control-Max-Age", "600")
		c.AbortWithStatus(http.StatusNoContent)
	}
}

// Logger logs every request as a structured http_request event.
// The query string is not logged: websocket clients pass their token in it.
func Logger() gin.HandlerFunc {
	logger := logging.Component("HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if path == "/health" && gin.Mode() != gin.DebugMode {
			return
		}

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
			"user", c.GetString("username"),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http_request", attrs...)
			return
		}
		logger.Info("http_request", attrs...)
	}
}

// RateLimit caps requests per client IP within a one minute window
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := newWindowLimiter(cfg.RequestsPerMinute, time.Minute)
	enabled := cfg.Enabled && cfg.RequestsPerMinute > 0

	return func(c *gin.Context) {
		if !enabled || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		remaining, ok := limiter.take(c.ClientIP(), time.Now())
		if !ok {
			tooManyRequests(c, "Rate limit exceeded")
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}

// LoginRateLimit locks a client IP out of the login route after too many
// rejected attempts in a minute. A successful login clears the count.
func LoginRateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := newWindowLimiter(cfg.LoginAttemptsPerMinute, time.Minute)
	enabled := cfg.Enabled && cfg.LoginAttemptsPerMinute > 0

	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		key := c.ClientIP()
		if limiter.exhausted(key, time.Now()) {
			tooManyRequests(c, "Too many failed login attempts")
			return
		}

		c.Next()

		switch c.Writer.Status() {
		case http.StatusUnauthorized:
			limiter.take(key, time.Now())
		case http.StatusOK:
			limiter.reset(key)
		}
	}
}

func tooManyRequests(c *gin.Context, message string) {
	c.Header("Retry-After", "60")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
}

// windowLimiter counts events per key in fixed windows
type windowLimiter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	windows     map[string]*window
	lastCleanup time.Time
}

type window struct {
	start time.Time
	count int
}

func newWindowLimiter(limit int, length time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:       limit,
		window:      length,
		windows:     make(map[string]*window),
		lastCleanup: time.Now(),
	}
}

// take counts one event for key and returns how many remain in the window
func (l *windowLimiter) take(key string, now time.Time) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, now)
	if w.count >= l.limit {
		return 0, false
	}
	w.count++
	return l.limit - w.count, true
}

func (l *windowLimiter) exhausted(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(key, now).count >= l.limit
}

func (l *windowLimiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// current returns the live window for key. Callers hold l.mu.
func (l *windowLimiter) current(key string, now time.Time) *window {
	if now.Sub(l.lastCleanup) > l.window {
		for k, w := range l.windows {
			if now.Sub(w.start) >= l.window {
				delete(l.windows, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[key] = w
	}
	return w
}
