package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/html"

	"github.com/ziadkadry99/chatdiagram/internal/chatkit"
	"github.com/ziadkadry99/chatdiagram/internal/dom"
	"github.com/ziadkadry99/chatdiagram/internal/panel"
	"github.com/ziadkadry99/chatdiagram/internal/pipeline"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

// MirrorAttr carries the id the browser gives every mirrored element.
const MirrorAttr = "data-mirror-id"

// inbound is a message from the browser.
type inbound struct {
	Type string `json:"type"`
	// Node is the MirrorAttr id of the element a mirror message addresses.
	Node string `json:"node,omitempty"`
	// After is the id of the element child to insert after; empty inserts
	// first.
	After string `json:"after,omitempty"`
	// Runs are the text runs around a node's element children.
	Runs []string `json:"runs,omitempty"`
	// Name and Value describe an attribute change; a nil Value removes it.
	Name  string  `json:"name,omitempty"`
	Value *string `json:"value,omitempty"`
	// Target is a CSS selector resolved across every shadow root. It is
	// used when Node is empty.
	Target string `json:"target,omitempty"`
	// Shadow resolves the addressed element to the shadow root it hosts.
	Shadow  bool              `json:"shadow,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ID      string            `json:"id,omitempty"`
	Zoom    float64           `json:"zoom,omitempty"`
	Pointer int               `json:"pointer,omitempty"`
	X       float64           `json:"x,omitempty"`
	Y       float64           `json:"y,omitempty"`
	Wheel   *panel.WheelEvent `json:"wheel,omitempty"`
	Tool    *chatkit.ToolCall `json:"tool,omitempty"`
}

// outbound is a message to the browser.
type outbound struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	Diagram   *diagramMessage      `json:"diagram,omitempty"`
	Panel     *panel.Snapshot      `json:"panel,omitempty"`
	ChatKit   *chatkit.BridgeState `json:"chatkit,omitempty"`
	Tool      string               `json:"tool,omitempty"`
	Result    *chatkit.ToolResult  `json:"result,omitempty"`
	Theme     chatkit.Theme        `json:"theme,omitempty"`
	Fact      *chatkit.Fact        `json:"fact,omitempty"`
	Secret    string               `json:"secret,omitempty"`
	Showing   string               `json:"showing,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type diagramMessage struct {
	ID string `json:"id"`
	// Source is the mirror id of the block the diagram replaced.
	Source     string       `json:"source,omitempty"`
	State      render.State `json:"state"`
	Definition string       `json:"definition"`
	Language   string       `json:"language,omitempty"`
	Content    string       `json:"content,omitempty"`
	LiveURL    string       `json:"live_url,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Session is one connected browser.
type Session struct {
	ID string

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	opts    Options
	doc     *dom.Document
	adapter *render.Adapter
	pipe    *pipeline.Pipeline
	panel   *panel.Panel
	bridge  *chatkit.Bridge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	definedMu sync.Mutex
	defined   chan struct{}
}

func newSession(conn *websocket.Conn, r *http.Request, opts Options) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		opts:    opts,
		doc:     dom.Blank(),
		ctx:     ctx,
		cancel:  cancel,
		defined: make(chan struct{}),
	}
	s.adapter = render.NewAdapter(render.Options{
		Loader:      opts.Loader,
		Fallback:    opts.Fallback,
		Cache:       opts.Cache,
		Document:    s.doc,
		ScriptURL:   opts.ScriptURL,
		LoadTimeout: opts.LoadTimeout,
		Engine:      opts.Engine,
	})

	po := opts.Panel
	po.OnChange = func(snap panel.Snapshot) {
		s.send(outbound{Type: "panel", Panel: &snap})
	}
	s.panel = panel.New(s.adapter, po)

	bo := opts.ChatKit
	bo.Document = s.doc
	bo.WaitDefined = s.waitDefined
	if opts.SessionBaseURL != "" {
		bo.BaseURL = opts.SessionBaseURL
		if bo.Header == nil {
			bo.Header = http.Header{}
		}
		if c := r.Header.Get("Cookie"); c != "" {
			bo.Header.Set("Cookie", c)
		}
	}
	bo.OnTheme = func(t chatkit.Theme) { s.send(outbound{Type: "theme", Theme: t}) }
	bo.OnFact = func(f chatkit.Fact) { s.send(outbound{Type: "fact", Fact: &f}) }
	s.bridge = chatkit.NewBridge(bo)

	if err := s.startPipeline(); err != nil {
		s.panel.Close()
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) startPipeline() error {
	po := s.opts.Pipeline
	po.Events = s.onEvent
	if po.SourceAttr == "" {
		po.SourceAttr = MirrorAttr
	}
	p, err := pipeline.New(s.doc, s.adapter, po)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	p.Start()
	s.pipe = p
	return nil
}

func (s *Session) onEvent(e pipeline.Event) {
	m := e.Mount
	msg := &diagramMessage{
		ID:         m.ID,
		Source:     m.Source,
		State:      e.State,
		Definition: m.Definition,
		Language:   m.Language,
		LiveURL:    render.LiveURL(m.Definition),
	}
	if e.Kind == pipeline.EventRendered {
		msg.Content = m.Artifact()
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	if e.State.Succeeded() {
		s.panel.OfferSynced(m.Definition)
	}
	s.send(outbound{Type: "diagram", Diagram: msg})
}

func (s *Session) send(msg outbound) {
	if s.closed.Load() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Printf("live: websocket write: %v", err)
	}
}

func (s *Session) sendError(msg string) {
	s.send(outbound{Type: "error", Error: msg})
}

func (s *Session) run() {
	defer s.teardown()
	s.send(outbound{Type: "ready", SessionID: s.ID})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("live: websocket read: %v", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("invalid message format")
			continue
		}
		if err := s.handle(msg); err != nil {
			s.sendError(err.Error())
		}
	}
}

func (s *Session) handle(msg inbound) error {
	switch msg.Type {
	case "host":
		body := s.doc.Body()
		if body == nil {
			return errors.New("document has no body")
		}
		return s.mutate(func(tx *dom.Tx) error { return tx.SetInnerHTML(body, msg.HTML) })
	case "shadow":
		return s.withNode(msg, func(tx *dom.Tx, n *html.Node) error {
			root := dom.ShadowRoot(n)
			if root == nil {
				var err error
				if root, err = tx.AttachShadow(n); err != nil {
					return err
				}
			} else if msg.Node != "" {
				return tx.SetInnerHTML(root, msg.HTML)
			}
			if msg.HTML == "" {
				return nil
			}
			_, err := tx.AppendHTML(root, msg.HTML)
			return err
		})
	case "insert":
		return s.withNode(msg, func(tx *dom.Tx, n *html.Node) error {
			ref := n.LastChild
			if msg.After == "" {
				ref = nil
			} else if c := mirroredChild(n, msg.After); c != nil {
				ref = c
			}
			_, err := tx.InsertHTMLAfter(n, ref, msg.HTML)
			return err
		})
	case "text_runs":
		return s.withNode(msg, func(tx *dom.Tx, n *html.Node) error {
			tx.ReplaceTextRuns(n, msg.Runs)
			return nil
		})
	case "attr":
		if msg.Name == "" {
			return errors.New("name is required")
		}
		return s.withNode(msg, func(tx *dom.Tx, n *html.Node) error {
			if msg.Name == MirrorAttr {
				return nil
			}
			if msg.Value == nil {
				tx.RemoveAttr(n, msg.Name)
			} else {
				tx.SetAttr(n, msg.Name, *msg.Value)
			}
			return nil
		})
	case "append":
		return s.withTarget(msg, func(tx *dom.Tx, n *html.Node) error {
			_, err := tx.AppendHTML(n, msg.HTML)
			return err
		})
	case "text":
		return s.withTarget(msg, func(tx *dom.Tx, n *html.Node) error {
			tx.AppendText(n, msg.Text)
			return nil
		})
	case "remove":
		return s.withNode(msg, func(tx *dom.Tx, n *html.Node) error { return tx.Remove(n) })
	case "toggle_source":
		m, ok := s.pipe.Mount(msg.ID)
		if !ok {
			return fmt.Errorf("unknown diagram %q", msg.ID)
		}
		showing, err := m.ToggleSource()
		if err != nil {
			return err
		}
		view := "diagram"
		if showing {
			view = "source"
		}
		s.send(outbound{Type: "toggled", Diagram: &diagramMessage{ID: m.ID, State: m.State(), Definition: m.Definition}, Showing: view})
		return nil
	case "reset":
		s.pipe.Close()
		if body := s.doc.Body(); body != nil {
			s.doc.SetInnerHTML(body, "")
		}
		return s.startPipeline()

	case "panel_text":
		s.panel.SetText(msg.Text)
	case "panel_sync":
		s.panel.OfferSynced(msg.Text)
	case "panel_apply":
		if !s.panel.ApplySynced() {
			return errors.New("no diagram from the chat yet")
		}
	case "panel_zoom":
		s.panel.Zoom(msg.Zoom)
	case "panel_zoom_in":
		s.panel.ZoomIn()
	case "panel_zoom_out":
		s.panel.ZoomOut()
	case "panel_wheel":
		if msg.Wheel == nil {
			return errors.New("wheel is required")
		}
		s.panel.Wheel(*msg.Wheel)
	case "panel_drag_start":
		s.panel.BeginDrag(msg.Pointer, msg.X, msg.Y)
	case "panel_drag":
		s.panel.DragTo(msg.Pointer, msg.X, msg.Y)
	case "panel_drag_end":
		s.panel.EndDrag(msg.Pointer)
	case "panel_reset":
		s.panel.ResetView()

	case "chatkit_load":
		s.goBridge(func() {
			if err := s.bridge.LoadScript(s.ctx); err != nil {
				log.Printf("live: session %s: %v", s.ID, err)
			}
		})
	case "chatkit_ready":
		s.markDefined()
	case "chatkit_secret":
		s.goBridge(func() {
			secret, err := s.bridge.FetchClientSecret(s.ctx, msg.Text)
			if err == nil {
				s.send(outbound{Type: "secret", Secret: secret})
			}
		})
	case "chatkit_reset":
		s.definedMu.Lock()
		s.defined = make(chan struct{})
		s.definedMu.Unlock()
		s.bridge.Reset()
		s.sendBridge()
	case "client_tool":
		if msg.Tool == nil {
			return errors.New("tool is required")
		}
		res := s.bridge.HandleClientTool(*msg.Tool)
		s.send(outbound{Type: "tool_result", Tool: msg.Tool.Name, Result: &res})
	case "thread_changed":
		s.bridge.ThreadChanged()
	case "response_start":
		s.bridge.ResponseStarted()
		s.sendBridge()
	case "chat_error":
		s.bridge.ReportError(msg.Text)
		s.sendBridge()

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
	return nil
}

// mutate runs fn in a document update.
func (s *Session) mutate(fn func(tx *dom.Tx) error) error {
	var err error
	s.doc.Update(func(tx *dom.Tx) { err = fn(tx) })
	return err
}

func (s *Session) withTarget(msg inbound, fn func(tx *dom.Tx, n *html.Node) error) error {
	if msg.Target == "" {
		return errors.New("target is required")
	}
	sel, err := dom.Compile(msg.Target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", msg.Target, err)
	}
	return s.mutate(func(tx *dom.Tx) error {
		n := findTarget(tx.Root(), sel)
		if n == nil {
			return fmt.Errorf("no element matches %q", msg.Target)
		}
		if msg.Shadow && msg.Type != "shadow" {
			if n = dom.ShadowRoot(n); n == nil {
				return fmt.Errorf("%q hosts no shadow root", msg.Target)
			}
		}
		return fn(tx, n)
	})
}

// withNode resolves msg.Node, or msg.Target when no node id is given. A
// node id that no longer resolves belongs to content a mount replaced or
// that was removed, and the message is dropped.
func (s *Session) withNode(msg inbound, fn func(tx *dom.Tx, n *html.Node) error) error {
	if msg.Node == "" {
		return s.withTarget(msg, fn)
	}
	return s.mutate(func(tx *dom.Tx) error {
		n := findMirrored(tx.Root(), msg.Node)
		if n == nil {
			return nil
		}
		if msg.Shadow && msg.Type != "shadow" {
			if n = dom.ShadowRoot(n); n == nil {
				return nil
			}
		}
		return fn(tx, n)
	})
}

// findMirrored returns the element carrying mirror id id, searching every
// shadow root but never the inside of a mount.
func findMirrored(root *html.Node, id string) *html.Node {
	var walk func(n *html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if v, ok := dom.Attr(c, MirrorAttr); ok && v == id {
				return c
			}
			if dom.HasClass(c, pipeline.MountClass) {
				continue
			}
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(root)
}

func mirroredChild(parent *html.Node, id string) *html.Node {
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if v, ok := dom.Attr(c, MirrorAttr); ok && c.Type == html.ElementNode && v == id {
			return c
		}
	}
	return nil
}

// findTarget searches the document and every shadow root in it.
func findTarget(root *html.Node, sel dom.Selector) *html.Node {
	for _, r := range dom.CollectShadowRoots(root) {
		if n := dom.QueryFirst(r, sel); n != nil {
			return n
		}
	}
	return nil
}

func (s *Session) goBridge(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
		s.sendBridge()
	}()
}

func (s *Session) sendBridge() {
	st := s.bridge.State()
	s.send(outbound{Type: "chatkit", ChatKit: &st})
}

func (s *Session) markDefined() {
	s.definedMu.Lock()
	defer s.definedMu.Unlock()
	select {
	case <-s.defined:
	default:
		close(s.defined)
	}
}

func (s *Session) waitDefined(ctx context.Context, _ string) error {
	s.definedMu.Lock()
	ch := s.defined
	s.definedMu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) teardown() {
	s.closed.Store(true)
	s.cancel()
	s.pipe.Close()
	s.panel.Close()
	s.wg.Wait()
	s.conn.Close()
}
