package render

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// RenderRequest is the body of POST /api/render.
type RenderRequest struct {
	Definition string `json:"definition"`
}

// RenderResponse reports the artifact and the path that produced it.
type RenderResponse struct {
	State   State  `json:"state"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	LiveURL string `json:"live_url,omitempty"`
	InkURL  string `json:"ink_url,omitempty"`
}

// RegisterRoutes mounts the render endpoint on the given router.
func RegisterRoutes(r chi.Router, a *Adapter, inkBase string) {
	r.Post("/api/render", renderHandler(a, inkBase))
}

func renderHandler(a *Adapter, inkBase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		def := strings.TrimSpace(req.Definition)
		if def == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "definition is required"})
			return
		}

		buf := &Buffer{}
		st, err := a.Render(r.Context(), buf, def, "")
		content, _ := buf.Content()
		resp := RenderResponse{
			State:   st,
			Content: content,
			LiveURL: LiveURL(def),
			InkURL:  InkURL(inkBase, def),
		}
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
