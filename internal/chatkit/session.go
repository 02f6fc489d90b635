// Package chatkit connects the app to a hosted chat workflow: it mints
// session secrets on the server and keeps the client-side bridge state.
package chatkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAPIBase is the upstream API root.
	DefaultAPIBase = "https://api.openai.com/v1"
	// BetaHeader opts into the sessions API.
	BetaHeader = "chatkit_beta=v1"
	// UserCookie keeps a stable anonymous user id per browser.
	UserCookie = "chatkit_session_id"
)

// SessionConfig configures the session endpoint.
type SessionConfig struct {
	APIKey     string
	APIBase    string
	WorkflowID string
	Secure     bool
	Client     *http.Client
}

// SessionHandler proxies session creation so the API key never leaves
// the server.
type SessionHandler struct {
	cfg SessionConfig
}

// NewSessionHandler creates a handler.
func NewSessionHandler(cfg SessionConfig) *SessionHandler {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SessionHandler{cfg: cfg}
}

// RegisterRoutes mounts the session endpoint on the given router.
func RegisterRoutes(r chi.Router, h *SessionHandler) {
	r.Post("/api/create-session", h.handleCreateSession)
}

type createSessionRequest struct {
	Workflow *struct {
		ID string `json:"id"`
	} `json:"workflow,omitempty"`
	ChatKitConfiguration map[string]any `json:"chatkit_configuration,omitempty"`
}

type upstreamSessionRequest struct {
	Workflow             upstreamWorkflow `json:"workflow"`
	User                 string           `json:"user"`
	ChatKitConfiguration map[string]any   `json:"chatkit_configuration,omitempty"`
}

type upstreamWorkflow struct {
	ID string `json:"id"`
}

// SessionResponse is what the browser receives.
type SessionResponse struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAfter any    `json:"expires_after,omitempty"`
}

func (h *SessionHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if h.cfg.APIKey == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Missing OPENAI_API_KEY environment variable"})
		return
	}

	var req createSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	workflowID := h.cfg.WorkflowID
	if req.Workflow != nil && strings.TrimSpace(req.Workflow.ID) != "" {
		workflowID = strings.TrimSpace(req.Workflow.ID)
	}
	if workflowID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing workflow id"})
		return
	}

	userID := h.userID(w, r)
	payload, err := json.Marshal(upstreamSessionRequest{
		Workflow:             upstreamWorkflow{ID: workflowID},
		User:                 userID,
		ChatKitConfiguration: req.ChatKitConfiguration,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encoding session request"})
		return
	}

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.cfg.APIBase+"/chatkit/sessions", bytes.NewReader(payload))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	upReq.Header.Set("OpenAI-Beta", BetaHeader)

	resp, err := h.cfg.Client.Do(upReq)
	if err != nil {
		log.Printf("chatkit: creating session: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Failed to reach session service"})
		return
	}
	defer resp.Body.Close()

	var body struct {
		ClientSecret string `json:"client_secret"`
		ExpiresAfter any    `json:"expires_after"`
		Error        any    `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := upstreamMessage(body.Error)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		log.Printf("chatkit: session request failed with status %d: %s", resp.StatusCode, msg)
		writeJSON(w, resp.StatusCode, map[string]string{"error": msg})
		return
	}
	if body.ClientSecret == "" {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Missing client secret in response"})
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ClientSecret: body.ClientSecret, ExpiresAfter: body.ExpiresAfter})
}

// userID returns the browser's anonymous id, issuing one when absent.
func (h *SessionHandler) userID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(UserCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func upstreamMessage(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
	}
	if v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
