package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"gotransit/internal/handler"
	"gotransit/internal/metrics"
	"gotransit/internal/templates"
)

type middlewareConfig struct {
	logger       *slog.Logger
	cookieSecret []byte
	ready        <-chan struct{}
	limiter      *rateLimiter
	gzipMinSize  int
	metrics      *metrics.Collector
	daily        *dailyTrigger
}

func withMiddleware(h http.Handler, mc middlewareConfig) (http.Handler, error) {
	gzip, err := gzhttp.NewWrapper(gzhttp.MinSize(mc.gzipMinSize))
	if err != nil {
		return nil, err
	}
	h = rateLimit(h, mc.limiter, mc.metrics)
	h = identify(h, mc.cookieSecret)
	h = waitForData(h, mc.ready)
	h = gzip(h)
	h = requestLogger(h, mc.logger, mc.metrics, mc.daily)
	return securityHeaders(h), nil
}

// waitForData answers 503 while the first schedule import runs. Static
// assets, auth pages and metrics pass through.
func waitForData(next http.Handler, ready <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ready:
			next.ServeHTTP(w, r)
			return
		default:
		}

		p := r.URL.Path
		if strings.HasPrefix(p, "/static/") || p == "/metrics" ||
			p == "/login" || p == "/register" || p == "/logout" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", "5")
		if strings.HasPrefix(p, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"routes": []any{},
				"error":  "Schedule data is loading. Please try again shortly.",
			})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		templates.LoadingPage().Render(r.Context(), w)
	})
}

// identify puts the signed-in user's ID into the request context.
// Requests without a valid session pass through anonymously.
func identify(next http.Handler, secret []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(handler.CookieName)
		if err == nil {
			if id := handler.VerifyCookie(cookie.Value, secret); id != 0 {
				r = r.WithContext(handler.WithUserID(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	sweepEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > sweepEvery {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > idleAfter {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// rateLimit applies the per-client limiter to /api/ requests.
func rateLimit(next http.Handler, rl *rateLimiter, m *metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || rl.allow(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		if m != nil {
			m.Limited()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded. Please try again later."})
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// dailyTrigger runs fn once per agency-local day, on the first request.
type dailyTrigger struct {
	loc *time.Location
	fn  func()
	now func() time.Time

	mu      sync.Mutex
	lastDay string
}

func newDailyTrigger(loc *time.Location, fn func()) *dailyTrigger {
	return &dailyTrigger{loc: loc, fn: fn, now: time.Now}
}

func (d *dailyTrigger) visit() {
	if d == nil || d.fn == nil {
		return
	}
	day := d.now().In(d.loc).Format("2006-01-02")
	d.mu.Lock()
	if d.lastDay == day {
		d.mu.Unlock()
		return
	}
	d.lastDay = day
	d.mu.Unlock()
	go d.fn()
}

func requestLogger(next http.Handler, logger *slog.Logger, m *metrics.Collector, daily *dailyTrigger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		daily.visit()
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
		if m != nil {
			m.Request(strconv.Itoa(sw.status))
		}
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// staticCacheHandler sets long cache headers on versioned static assets (?v=...).
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "" {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
