// Package render turns diagram definitions into SVG. It owns the one
// shared engine handle per page, loads it at most once, and degrades to a
// remote renderer and finally to the raw definition text.
package render

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrEngineUnavailable is returned when the local engine could not be
	// loaded or never registered itself.
	ErrEngineUnavailable = errors.New("diagram engine unavailable")
	// ErrDetached is returned by a Surface whose mount has been removed or
	// torn down. Output for it is discarded.
	ErrDetached = errors.New("render surface detached")
	// ErrEmptyArtifact is returned when a renderer answers without SVG.
	ErrEmptyArtifact = errors.New("renderer returned no svg")
)

// State records which path produced a mount's content.
type State string

const (
	StatePending   State = "pending"
	StateRendered  State = "rendered"
	StateRemote    State = "remote"
	StateRaw       State = "raw"
	StateDiscarded State = "discarded"
)

// Succeeded reports whether s carries a drawn diagram.
func (s State) Succeeded() bool {
	return s == StateRendered || s == StateRemote
}

// EngineConfig is applied to the engine before every render.
type EngineConfig struct {
	Theme          string            `json:"theme"`
	SecurityLevel  string            `json:"securityLevel"`
	StartOnLoad    bool              `json:"startOnLoad"`
	ThemeVariables map[string]string `json:"themeVariables,omitempty"`
}

// DefaultEngineConfig is the neutral indigo look used everywhere.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Theme:         "neutral",
		SecurityLevel: "strict",
		StartOnLoad:   false,
		ThemeVariables: map[string]string{
			"primaryColor":       "#eef2ff",
			"primaryTextColor":   "#1e1b4b",
			"primaryBorderColor": "#6366f1",
			"lineColor":          "#4f46e5",
			"secondaryColor":     "#e0e7ff",
			"tertiaryColor":      "#f5f3ff",
			"fontFamily":         "Inter, system-ui, sans-serif",
		},
	}
}

// Result is one successful engine render.
type Result struct {
	SVG string
	// Bind wires interactive behavior into the surface after the SVG is
	// painted. May be nil.
	Bind func(Surface)
}

// Engine renders definitions. Implementations must be safe for
// concurrent use.
type Engine interface {
	Initialize(cfg EngineConfig)
	Render(ctx context.Context, id, definition string) (*Result, error)
}

// Loader produces an Engine. It is called at most once per Adapter
// between resets.
type Loader interface {
	Load(ctx context.Context) (Engine, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Engine, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (Engine, error) { return f(ctx) }

// Surface receives rendered output. content is trusted markup: SVG from a
// renderer or the escaped raw definition.
type Surface interface {
	Paint(content string, state State) error
}

// Fallback fetches SVG from a remote renderer.
type Fallback interface {
	Fetch(ctx context.Context, definition string) (string, error)
}

// Cache stores finished artifacts keyed by definition and theme.
type Cache interface {
	Get(ctx context.Context, key string) (svg string, state State, ok bool)
	Put(ctx context.Context, key, svg string, state State) error
}

// Buffer is a Surface that keeps the last painted content in memory.
type Buffer struct {
	mu      sync.Mutex
	content string
	state   State
}

// Paint stores content.
func (b *Buffer) Paint(content string, state State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = content
	b.state = state
	return nil
}

// Content returns the last painted content and its state.
func (b *Buffer) Content() (string, State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content, b.state
}
