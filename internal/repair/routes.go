package repair

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/llm"
)

// FixRequest is the body of POST /api/mermaid-fix.
type FixRequest struct {
	Code        string `json:"code"`
	RenderError string `json:"renderError,omitempty"`
}

// FixResponse carries the repaired definition.
type FixResponse struct {
	FixedCode string `json:"fixedCode"`
}

// Handler serves repair requests. A nil fixer means no API key is
// configured.
type Handler struct {
	fixer    *Fixer
	provider string
	log      *db.DB
}

// NewHandler creates a handler. d may be nil to skip the repair log.
func NewHandler(f *Fixer, providerName string, d *db.DB) *Handler {
	return &Handler{fixer: f, provider: providerName, log: d}
}

// RegisterRoutes mounts the repair endpoint on the given router.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/api/mermaid-fix", h.handleFix)
}

func (h *Handler) handleFix(w http.ResponseWriter, r *http.Request) {
	if h.fixer == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Missing OPENAI_API_KEY environment variable"})
		return
	}
	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = FixRequest{}
	}
	if strings.TrimSpace(req.Code) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing mermaid code"})
		return
	}

	fixed, err := h.fixer.Fix(r.Context(), req.Code, req.RenderError)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyOutput):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
			status = apiErr.StatusCode
		}
	}
	h.record(r, req, status)

	if err != nil {
		log.Printf("repair: %v", err)
		msg := "Unexpected error while fixing Mermaid"
		if status == http.StatusBadGateway {
			msg = "Model returned empty output"
		} else if status != http.StatusInternalServerError {
			msg = err.Error()
		}
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, http.StatusOK, FixResponse{FixedCode: fixed})
}

func (h *Handler) record(r *http.Request, req FixRequest, status int) {
	if h.log == nil {
		return
	}
	sum := sha256.Sum256([]byte(req.Code))
	_, err := h.log.ExecContext(r.Context(),
		`INSERT INTO repairs (id, input_hash, render_error, provider, model, status) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), hex.EncodeToString(sum[:]), req.RenderError, h.provider, h.fixer.Model(), status,
	)
	if err != nil {
		log.Printf("repair: recording attempt: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
