// Package gate puts a shared-password wall in front of the app. Unlocking
// sets a long-lived cookie holding a server-side token; a middleware checks
// that cookie on every other request.
package gate

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const (
	// CookieName carries the gate token.
	CookieName = "kg_gate"
	// DefaultMaxAge is how long an unlock lasts.
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultAttemptsPerMinute bounds unlock attempts per client.
	DefaultAttemptsPerMinute = 10
)

// Config configures the gate.
type Config struct {
	Password string
	Token    string
	// Secure marks the cookie Secure; set it in production.
	Secure            bool
	MaxAge            time.Duration
	AttemptsPerMinute int
}

// Gate checks passwords and cookies.
type Gate struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a gate.
func New(cfg Config) *Gate {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = DefaultAttemptsPerMinute
	}
	return &Gate{cfg: cfg, limiters: make(map[string]*clientLimiter)}
}

// Enabled reports whether both the password and the token are configured.
// A half-configured gate leaves the app open and fails unlock attempts.
func (g *Gate) Enabled() bool {
	return g.cfg.Password != "" && g.cfg.Token != ""
}

// RegisterRoutes mounts the unlock endpoint on the given router.
func RegisterRoutes(r chi.Router, g *Gate) {
	r.Post("/api/unlock", g.handleUnlock)
}

type unlockRequest struct {
	Password string `json:"password"`
}

func (g *Gate) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if !g.Enabled() {
		log.Printf("gate: unlock attempted without password or token configured")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server misconfigured"})
		return
	}
	if !g.allow(clientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "too many attempts"})
		return
	}

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Password = ""
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(g.cfg.Password)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"ok": false})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    g.cfg.Token,
		Path:     "/",
		MaxAge:   int(g.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Authorized reports whether r carries a valid gate cookie.
func (g *Gate) Authorized(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(g.cfg.Token)) == 1
}

// Middleware rejects requests without a valid cookie. Pages redirect to
// the unlock form; API and websocket calls get a 401.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypass(r.URL.Path) || g.Authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		target := "/unlock?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	})
}

func bypass(path string) bool {
	switch path {
	case "/favicon.ico", "/unlock", "/api/unlock", "/healthz":
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

func (g *Gate) allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.limiters[key]
	if !ok {
		per := time.Minute / time.Duration(g.cfg.AttemptsPerMinute)
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Every(per), g.cfg.AttemptsPerMinute)}
		g.limiters[key] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// PruneLimiters forgets clients that have made no unlock attempt for
// idle and returns how many were dropped. A dropped client starts again
// with a full bucket, so idle should exceed the refill time of a minute.
func (g *Gate) PruneLimiters(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for key, c := range g.limiters {
		if c.lastSeen.Before(cutoff) {
			delete(g.limiters, key)
			n++
		}
	}
	return n
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
