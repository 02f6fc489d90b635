// Package live serves websocket sessions that mirror a browser's chat
// widget into a server-side document. Each session runs its own diagram
// pipeline, standalone panel and chat bridge, and streams results back.
package live

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/chatdiagram/internal/chatkit"
	"github.com/ziadkadry99/chatdiagram/internal/panel"
	"github.com/ziadkadry99/chatdiagram/internal/pipeline"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures every session a Handler creates.
type Options struct {
	// Loader, Fallback and Cache are shared by all sessions. Each session
	// gets its own Adapter on top of them.
	Loader      render.Loader
	Fallback    render.Fallback
	Cache       render.Cache
	Engine      render.EngineConfig
	ScriptURL   string
	LoadTimeout time.Duration

	Pipeline pipeline.Options
	Panel    panel.Options
	// ChatKit is the template for each session's bridge. Document,
	// WaitDefined and the callbacks are filled in per session.
	ChatKit chatkit.BridgeOptions
	// SessionBaseURL, when set, is the server root the bridge calls to
	// create chat sessions on behalf of the browser.
	SessionBaseURL string
}

// Handler accepts live sessions.
type Handler struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewHandler creates a handler.
func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts, sessions: make(map[string]*Session)}
}

// RegisterRoutes mounts the websocket endpoint on the given router.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/ws/live", h.handleWebSocket)
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: websocket upgrade: %v", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	s, err := newSession(conn, r, h.opts)
	if err != nil {
		h.mu.Unlock()
		log.Printf("live: starting session: %v", err)
		conn.WriteJSON(outbound{Type: "error", Error: err.Error()})
		conn.Close()
		return
	}
	h.sessions[s.ID] = s
	h.wg.Add(1)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.ID)
		h.mu.Unlock()
		h.wg.Done()
	}()
	s.run()
}

// Close ends every session and waits for them to tear down.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	for _, s := range h.sessions {
		s.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
