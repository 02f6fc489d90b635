package pipeline

import (
	"errors"
	"html"
	"sync"

	nethtml "golang.org/x/net/html"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

const (
	// MountClass is set on every mount element.
	MountClass = "diagram-mount"
	// AttrID holds the mount's unique id.
	AttrID = "data-diagram-id"
	// AttrState mirrors the mount's render.State.
	AttrState = "data-diagram-rendered"
	// AttrView is "diagram" or "source" when the view toggle is enabled.
	AttrView = "data-diagram-view"
)

// ErrToggleDisabled is returned by ToggleSource when the capability is off.
var ErrToggleDisabled = errors.New("source view toggle is disabled")

// Mount is the element that replaced a detected code block. It implements
// render.Surface.
type Mount struct {
	ID         string
	Definition string
	Language   string
	// SourceHTML is the serialized container the mount replaced.
	SourceHTML string
	// Source is the container's Options.SourceAttr value, if any.
	Source string

	doc        *dom.Document
	node       *nethtml.Node
	viewToggle bool

	mu            sync.Mutex
	state         render.State
	artifact      string
	showingSource bool
	closed        bool
}

func newMountNode(id string) *nethtml.Node {
	return dom.NewElement("div",
		nethtml.Attribute{Key: "class", Val: MountClass},
		nethtml.Attribute{Key: AttrID, Val: id},
		nethtml.Attribute{Key: AttrState, Val: string(render.StatePending)},
	)
}

// Node returns the mount element. Read it only inside a document View.
func (m *Mount) Node() *nethtml.Node { return m.node }

// State returns the current render state.
func (m *Mount) State() render.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Artifact returns the last painted content.
func (m *Mount) Artifact() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifact
}

// Paint replaces the mount's content. It fails with render.ErrDetached once
// the mount is torn down or no longer in the document.
func (m *Mount) Paint(content string, state render.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return render.ErrDetached
	}
	var err error
	m.doc.Update(func(tx *dom.Tx) {
		if !tx.Contains(m.node) {
			err = render.ErrDetached
			return
		}
		if err = tx.SetInnerHTML(m.node, content); err != nil {
			return
		}
		tx.SetAttr(m.node, AttrState, string(state))
		if m.viewToggle {
			tx.SetAttr(m.node, AttrView, "diagram")
		}
	})
	if err != nil {
		return err
	}
	m.artifact = content
	m.state = state
	m.showingSource = false
	return nil
}

// ToggleSource flips between the rendered artifact and the original
// definition. It returns true when the source is now showing.
func (m *Mount) ToggleSource() (bool, error) {
	if !m.viewToggle {
		return false, ErrToggleDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, render.ErrDetached
	}
	next := !m.showingSource
	content, view := m.artifact, "diagram"
	if next {
		content, view = SourceBlock(m.Definition, m.Language), "source"
	}
	var err error
	m.doc.Update(func(tx *dom.Tx) {
		if !tx.Contains(m.node) {
			err = render.ErrDetached
			return
		}
		if err = tx.SetInnerHTML(m.node, content); err != nil {
			return
		}
		tx.SetAttr(m.node, AttrView, view)
	})
	if err != nil {
		return m.showingSource, err
	}
	m.showingSource = next
	return next, nil
}

// unmount clears the mount and refuses further paints.
func (m *Mount) unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.doc.Update(func(tx *dom.Tx) {
		if tx.Contains(m.node) && m.node.FirstChild != nil {
			tx.SetInnerHTML(m.node, "")
		}
	})
}

// SourceBlock renders a definition as a read-only code block.
func SourceBlock(definition, language string) string {
	if language == "" {
		language = "mermaid"
	}
	return `<pre class="diagram-source"><code class="language-` + html.EscapeString(language) + `">` +
		html.EscapeString(definition) + `</code></pre>`
}
