package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SyntaxError is a definition the engine refused to draw.
type SyntaxError struct {
	Message string
}

func (e *SyntaxError) Error() string {
	return "diagram syntax error: " + e.Message
}

// HTTPLoader loads an engine backed by a Kroki compatible render service.
// Loading succeeds once the service answers its health probe.
type HTTPLoader struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPLoader creates a loader for the service at base.
func NewHTTPLoader(base string) *HTTPLoader {
	return &HTTPLoader{
		BaseURL: strings.TrimRight(base, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Load probes the service and returns an engine bound to it.
func (l *HTTPLoader) Load(ctx context.Context) (Engine, error) {
	if l.BaseURL == "" {
		return nil, fmt.Errorf("no engine url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building health probe: %w", err)
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("probing engine: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probing engine: status %d", resp.StatusCode)
	}
	return &HTTPEngine{baseURL: l.BaseURL, client: l.client()}, nil
}

func (l *HTTPLoader) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

// HTTPEngine renders through POST {base}/mermaid/svg.
type HTTPEngine struct {
	baseURL string
	client  *http.Client

	mu  sync.RWMutex
	cfg EngineConfig
}

// Initialize stores the configuration sent with each render.
func (e *HTTPEngine) Initialize(cfg EngineConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Render posts definition and returns the SVG tagged with id.
func (e *HTTPEngine) Render(ctx context.Context, id, definition string) (*Result, error) {
	e.mu.RLock()
	theme := e.cfg.Theme
	e.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/mermaid/svg", strings.NewReader(definition))
	if err != nil {
		return nil, fmt.Errorf("building render request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "image/svg+xml")
	if theme != "" {
		req.Header.Set("Kroki-Diagram-Options-Theme", theme)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rendering diagram: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading render response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &SyntaxError{Message: strings.TrimSpace(string(body))}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("rendering diagram: status %d", resp.StatusCode)
	}
	return &Result{SVG: tagSVG(string(body), id)}, nil
}

// tagSVG gives the root svg element an id when it has none.
func tagSVG(svg, id string) string {
	i := strings.Index(svg, "<svg")
	if i < 0 || id == "" {
		return svg
	}
	end := strings.Index(svg[i:], ">")
	if end < 0 || strings.Contains(svg[i:i+end], " id=") {
		return svg
	}
	return svg[:i] + `<svg id="` + id + `"` + svg[i+4:]
}
