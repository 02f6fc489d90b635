package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/gate"
)

func newTestServer(t *testing.T, cfg Config, g *gate.Gate) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(cfg, database, g)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, Config{Port: 0}, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, Config{Port: 0, AllowedOrigins: []string{"https://chat.example.com"}}, nil)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
		t.Errorf("expected CORS Allow-Origin header, got %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no Allow-Origin for an unlisted origin, got %q", got)
	}
}

func TestGateWrapsAPI(t *testing.T) {
	g := gate.New(gate.Config{Password: "pw", Token: "tok"})
	srv := newTestServer(t, Config{}, g)
	srv.API().Get("/api/thing", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	req := httptest.NewRequest("GET", "/api/thing", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/thing", nil)
	req.AddCookie(&http.Cookie{Name: gate.CookieName, Value: "tok"})
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("expected 200 ok with cookie, got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected health check to bypass the gate, got %d", w.Code)
	}
}

func TestHealthCheckDatabase(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	srv := New(Config{}, database, nil)

	get := func(s *Server) (int, map[string]string) {
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
		var body map[string]string
		json.Unmarshal(w.Body.Bytes(), &body)
		return w.Code, body
	}

	if code, body := get(srv); code != http.StatusOK || body["database"] != "ok" {
		t.Errorf("open database: got %d %v", code, body)
	}
	database.Close()
	if code, body := get(srv); code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("closed database: got %d %v", code, body)
	}
	if code, body := get(New(Config{}, nil, nil)); code != http.StatusOK || body["database"] != "disabled" {
		t.Errorf("no database: got %d %v", code, body)
	}
}
