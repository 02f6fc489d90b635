// Package web serves the chat page, the unlock form and their assets.
package web

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed index.html unlock.html
var pages embed.FS

//go:embed static
var static embed.FS

// PageConfig is handed to the browser at startup.
type PageConfig struct {
	WorkflowID      string  `json:"workflow_id"`
	ChatKitScript   string  `json:"chatkit_script"`
	DomainKey       string  `json:"domain_key,omitempty"`
	SessionEndpoint string  `json:"session_endpoint"`
	LiveEndpoint    string  `json:"live_endpoint"`
	MinZoom         float64 `json:"min_zoom"`
	MaxZoom         float64 `json:"max_zoom"`
	Repair          bool    `json:"repair"`
}

// Handler serves the pages.
type Handler struct {
	cfg PageConfig
}

// New creates a handler.
func New(cfg PageConfig) *Handler {
	if cfg.SessionEndpoint == "" {
		cfg.SessionEndpoint = "/api/create-session"
	}
	if cfg.LiveEndpoint == "" {
		cfg.LiveEndpoint = "/ws/live"
	}
	return &Handler{cfg: cfg}
}

// RegisterRoutes mounts the pages on the given router.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/", h.servePage("index.html"))
	r.Get("/unlock", h.servePage("unlock.html"))
	r.Get("/api/config", h.handleConfig)

	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(sub))))
}

func (h *Handler) servePage(name string) http.HandlerFunc {
	body, err := pages.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(body)
	}
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.cfg)
}
