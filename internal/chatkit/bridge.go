package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
)

const (
	// DefaultScriptURL hosts the chat widget.
	DefaultScriptURL = "https://cdn.platform.openai.com/deployments/chatkit/chatkit.js"
	// ScriptMarker tags the injected widget script.
	ScriptMarker = "data-chatkit-loader"
	// ElementName is the custom element the widget script registers.
	ElementName = "openai-chatkit"
	// DefaultSessionEndpoint is the server route FetchClientSecret calls.
	DefaultSessionEndpoint = "/api/create-session"
	// DefaultScriptTimeout bounds how long the widget may take to register.
	DefaultScriptTimeout = 5 * time.Second
)

// ErrMissingSecret is returned when the session endpoint answers without
// a client secret.
var ErrMissingSecret = errors.New("Missing client secret in response")

// ScriptStatus tracks the widget script.
type ScriptStatus string

const (
	ScriptIdle    ScriptStatus = "idle"
	ScriptLoading ScriptStatus = "loading"
	ScriptReady   ScriptStatus = "ready"
	ScriptError   ScriptStatus = "error"
)

// Theme is a widget color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Fact is a note the assistant asked the page to keep.
type Fact struct {
	ID   string `json:"fact_id"`
	Text string `json:"fact_text"`
}

// ToolCall is a client tool invocation from the widget.
type ToolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	Success bool `json:"success"`
}

// WaitDefined blocks until the named custom element is registered.
type WaitDefined func(ctx context.Context, name string) error

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// BaseURL is prepended to Endpoint, e.g. "http://localhost:8080".
	BaseURL    string
	Endpoint   string
	WorkflowID string
	ScriptURL  string
	// Document receives the widget script tag. May be nil.
	Document      *dom.Document
	WaitDefined   WaitDefined
	ScriptTimeout time.Duration
	Client        *http.Client
	// Header is added to session requests, e.g. the caller's cookies.
	Header  http.Header
	OnTheme func(Theme)
	OnFact  func(Fact)
}

// BridgeState is a copy of the bridge's user-visible state.
type BridgeState struct {
	Script       ScriptStatus `json:"script"`
	ScriptError  string       `json:"script_error,omitempty"`
	SessionError string       `json:"session_error,omitempty"`
	// IntegrationError is reported by the widget itself.
	IntegrationError string `json:"integration_error,omitempty"`
	Retryable        bool   `json:"retryable"`
	Initializing     bool   `json:"initializing"`
	InstanceKey      int    `json:"instance_key"`
}

// BlockingError is the message an overlay should show, if any.
func (s BridgeState) BlockingError() string {
	switch {
	case s.ScriptError != "":
		return s.ScriptError
	case s.SessionError != "":
		return s.SessionError
	default:
		return s.IntegrationError
	}
}

// Bridge supplies the chat widget with session secrets and answers its
// client tools. It is safe for concurrent use.
type Bridge struct {
	opts BridgeOptions

	mu      sync.Mutex
	state   BridgeState
	facts   map[string]bool
	attempt int
}

// NewBridge creates a bridge in the idle state.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultSessionEndpoint
	}
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultScriptURL
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = DefaultScriptTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Bridge{
		opts:  opts,
		state: BridgeState{Script: ScriptIdle, Initializing: true},
		facts: make(map[string]bool),
	}
}

// Configured reports whether a real workflow id is set.
func (b *Bridge) Configured() bool {
	id := strings.TrimSpace(b.opts.WorkflowID)
	return id != "" && !strings.HasPrefix(id, "wf_replace")
}

// State returns the current state.
func (b *Bridge) State() BridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) update(fn func(s *BridgeState)) {
	b.mu.Lock()
	fn(&b.state)
	b.mu.Unlock()
}

// LoadScript injects the widget script once and waits for the widget
// element to register. A stale script with another src is replaced.
func (b *Bridge) LoadScript(ctx context.Context) error {
	b.mu.Lock()
	attempt := b.attempt
	b.state.Script = ScriptLoading
	b.state.ScriptError = ""
	b.mu.Unlock()

	if d := b.opts.Document; d != nil {
		if src, ok := scriptSrc(d); ok && src != b.opts.ScriptURL {
			removeScript(d)
		}
		d.EnsureScript(ScriptMarker, b.opts.ScriptURL)
	}

	err := b.waitDefined(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if attempt != b.attempt {
		// A reset started a newer attempt.
		return err
	}
	if err != nil {
		log.Printf("chatkit: widget script failed: %v", err)
		b.state.Script = ScriptError
		b.state.ScriptError = "Unable to load the chat widget. Please try again."
		b.state.Retryable = true
		b.state.Initializing = false
		return fmt.Errorf("loading widget script: %w", err)
	}
	b.state.Script = ScriptReady
	b.state.ScriptError = ""
	b.state.Retryable = false
	return nil
}

func (b *Bridge) waitDefined(ctx context.Context) error {
	if b.opts.WaitDefined == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.ScriptTimeout)
	defer cancel()
	if err := b.opts.WaitDefined(ctx, ElementName); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s not available after load", ElementName)
		}
		return err
	}
	return nil
}

// FetchClientSecret asks the session endpoint for a client secret.
// current is the secret being refreshed, empty on first start.
func (b *Bridge) FetchClientSecret(ctx context.Context, current string) (string, error) {
	b.update(func(s *BridgeState) {
		if current == "" {
			s.Initializing = true
		}
		s.SessionError = ""
		s.IntegrationError = ""
		s.Retryable = false
	})

	secret, err := b.createSession(ctx)

	b.update(func(s *BridgeState) {
		if err != nil {
			s.SessionError = err.Error()
			s.Retryable = true
		}
		if current == "" {
			s.Initializing = false
		}
	})
	if err != nil {
		log.Printf("chatkit: creating session: %v", err)
		return "", err
	}
	return secret, nil
}

func (b *Bridge) createSession(ctx context.Context) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"workflow": map[string]string{"id": b.opts.WorkflowID},
		"chatkit_configuration": map[string]any{
			"file_upload": map[string]bool{"enabled": true},
		},
	})
	url := strings.TrimRight(b.opts.BaseURL, "/") + b.opts.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	for k, vs := range b.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.opts.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var data map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			log.Printf("chatkit: malformed session response: %v", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fallback := http.StatusText(resp.StatusCode)
		return "", errors.New(errorDetail(data, fallback))
	}
	secret, _ := data["client_secret"].(string)
	if secret == "" {
		return "", ErrMissingSecret
	}
	return secret, nil
}

// errorDetail digs the most specific message out of an error body.
func errorDetail(data map[string]any, fallback string) string {
	if data == nil {
		return fallback
	}
	if msg := message(data["error"]); msg != "" {
		return msg
	}
	switch d := data["details"].(type) {
	case string:
		return d
	case map[string]any:
		if msg := message(d["error"]); msg != "" {
			return msg
		}
	}
	if msg, ok := data["message"].(string); ok {
		return msg
	}
	return fallback
}

func message(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		m, _ := e["message"].(string)
		return m
	}
	return ""
}

// HandleClientTool answers a tool call from the widget. Unknown tools
// and invalid themes report failure.
func (b *Bridge) HandleClientTool(call ToolCall) ToolResult {
	switch call.Name {
	case "switch_theme":
		t, _ := call.Params["theme"].(string)
		theme := Theme(t)
		if theme != ThemeLight && theme != ThemeDark {
			return ToolResult{Success: false}
		}
		if b.opts.OnTheme != nil {
			b.opts.OnTheme(theme)
		}
		return ToolResult{Success: true}

	case "record_fact":
		id := paramString(call.Params["fact_id"])
		text := paramString(call.Params["fact_text"])
		b.mu.Lock()
		if id == "" || b.facts[id] {
			b.mu.Unlock()
			return ToolResult{Success: true}
		}
		b.facts[id] = true
		b.mu.Unlock()
		if b.opts.OnFact != nil {
			b.opts.OnFact(Fact{ID: id, Text: strings.Join(strings.Fields(text), " ")})
		}
		return ToolResult{Success: true}
	}
	return ToolResult{Success: false}
}

func paramString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// ResponseStarted clears integration errors when the widget starts a reply.
func (b *Bridge) ResponseStarted() {
	b.update(func(s *BridgeState) {
		s.IntegrationError = ""
		s.Retryable = false
	})
}

// ThreadChanged forgets recorded facts.
func (b *Bridge) ThreadChanged() {
	b.mu.Lock()
	clear(b.facts)
	b.mu.Unlock()
}

// ReportError records an error raised by the widget. It is not retryable.
func (b *Bridge) ReportError(msg string) {
	if msg == "" {
		msg = "Unknown chat error"
	}
	b.update(func(s *BridgeState) {
		s.IntegrationError = msg
		s.Retryable = false
	})
}

// Reset restarts the widget from scratch: errors and facts are cleared,
// the script is removed for a fresh load and the instance key changes so
// the widget is recreated.
func (b *Bridge) Reset() {
	b.mu.Lock()
	b.attempt++
	clear(b.facts)
	b.state = BridgeState{
		Script:       ScriptIdle,
		Initializing: true,
		InstanceKey:  b.state.InstanceKey + 1,
	}
	b.mu.Unlock()
	if d := b.opts.Document; d != nil {
		removeScript(d)
	}
}

func scriptSrc(d *dom.Document) (src string, ok bool) {
	d.View(func(root *html.Node) {
		if s := findScript(root); s != nil {
			src, _ = dom.Attr(s, "src")
			ok = true
		}
	})
	return src, ok
}

func removeScript(d *dom.Document) {
	d.Update(func(tx *dom.Tx) {
		if s := findScript(tx.Root()); s != nil {
			tx.Remove(s)
		}
	})
}

func findScript(root *html.Node) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Script {
				if _, ok := dom.Attr(c, ScriptMarker); ok {
					found = c
					return
				}
			}
			walk(c)
		}
	}
	walk(root)
	return found
}
