package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, New(PageConfig{WorkflowID: "wf_123", MaxZoom: 5, MinZoom: 1}))
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPages(t *testing.T) {
	h := newRouter()

	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{"/", "text/html", `id="chat-host"`},
		{"/unlock", "text/html", `/api/unlock`},
		{"/static/app.js", "javascript", "WebSocket"},
		{"/static/style.css", "text/css", ".panel-view"},
	}
	for _, tt := range tests {
		w := get(h, tt.path)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.path, w.Code)
			continue
		}
		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, tt.contentType) {
			t.Errorf("%s: unexpected content type %q", tt.path, ct)
		}
		if !strings.Contains(w.Body.String(), tt.contains) {
			t.Errorf("%s: expected body to contain %q", tt.path, tt.contains)
		}
	}
}

func TestConfigEndpoint(t *testing.T) {
	w := get(newRouter(), "/api/config")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cfg PageConfig
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if cfg.WorkflowID != "wf_123" {
		t.Errorf("expected workflow id, got %q", cfg.WorkflowID)
	}
	if cfg.SessionEndpoint != "/api/create-session" || cfg.LiveEndpoint != "/ws/live" {
		t.Errorf("expected default endpoints, got %+v", cfg)
	}
}

func TestMissingAsset(t *testing.T) {
	if w := get(newRouter(), "/static/nope.js"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
