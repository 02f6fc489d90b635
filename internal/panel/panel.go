// Package panel is the standalone diagram editor: free text in, one
// rendered diagram out, with pan and zoom on the result.
package panel

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/ziadkadry99/chatdiagram/internal/render"
)

// State is the panel's lifecycle state.
type State string

const (
	StateEmpty     State = "empty"
	StateHasText   State = "has_text"
	StateRendering State = "rendering"
	StateRendered  State = "rendered"
	StateErrored   State = "errored"
)

// DefaultDiagram seeds a fresh playground.
const DefaultDiagram = `graph TD
  A[Ask a question] --> B{Diagram in reply?}
  B -- yes --> C[Render inline]
  B -- no --> D[Show text]
  C --> E[Open in panel]`

// Renderer draws a definition into a surface.
type Renderer interface {
	Render(ctx context.Context, s render.Surface, definition, id string) (render.State, error)
}

// Options configures a Panel.
type Options struct {
	MinZoom float64
	MaxZoom float64
	// OnChange receives a snapshot after every state change. It runs on
	// panel goroutines.
	OnChange func(Snapshot)
}

// Snapshot is a consistent copy of the panel state.
type Snapshot struct {
	State       State        `json:"state"`
	Text        string       `json:"text"`
	Artifact    string       `json:"artifact,omitempty"`
	RenderState render.State `json:"render_state,omitempty"`
	Error       string       `json:"error,omitempty"`
	Zoom        float64      `json:"zoom"`
	ZoomPercent int          `json:"zoom_percent"`
	Pan         Point        `json:"pan"`
	Transform   string       `json:"transform"`
	Synced      string       `json:"synced,omitempty"`
	Edited      bool         `json:"edited"`
}

// Panel renders whatever text it was last given. Edits arriving while a
// render runs collapse into one follow-up render of the latest text, and
// results for superseded text are dropped.
type Panel struct {
	renderer Renderer
	onChange func(Snapshot)

	mu          sync.Mutex
	text        string
	edited      bool
	synced      string
	state       State
	artifact    string
	renderState render.State
	errMsg      string
	pz          PanZoom
	gen         uint64
	renderID    string

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a panel with an empty text.
func New(r Renderer, opts Options) *Panel {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		renderer: r,
		onChange: opts.OnChange,
		state:    StateEmpty,
		pz:       NewPanZoom(opts.MinZoom, opts.MaxZoom),
		renderID: render.NewRenderID(),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// SetText replaces the editor text, as typed by the user.
func (p *Panel) SetText(text string) {
	p.mu.Lock()
	p.setTextLocked(text, true)
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
}

// OfferSynced records the newest diagram seen in the chat. It fills the
// editor only when the user has not typed anything yet.
func (p *Panel) OfferSynced(definition string) {
	definition = strings.TrimSpace(definition)
	if definition == "" {
		return
	}
	p.mu.Lock()
	p.synced = definition
	if !p.edited && strings.TrimSpace(p.text) == "" {
		p.setTextLocked(definition, false)
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
}

// ApplySynced copies the last chat diagram into the editor. It reports
// false when none has been seen.
func (p *Panel) ApplySynced() bool {
	p.mu.Lock()
	if p.synced == "" {
		p.mu.Unlock()
		return false
	}
	p.setTextLocked(p.synced, false)
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
	return true
}

func (p *Panel) setTextLocked(text string, edited bool) {
	p.text = text
	p.edited = p.edited || edited
	p.gen++
	if strings.TrimSpace(text) == "" {
		p.state = StateEmpty
		p.artifact = ""
		p.renderState = ""
		p.errMsg = ""
		return
	}
	p.state = StateHasText
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Panel) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		text := strings.TrimSpace(p.text)
		gen := p.gen
		if text == "" {
			p.mu.Unlock()
			continue
		}
		p.state = StateRendering
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.notify(snap)

		st, err := p.renderer.Render(p.ctx, &surface{p: p, gen: gen}, text, p.renderID)

		p.mu.Lock()
		if gen != p.gen || p.ctx.Err() != nil {
			p.mu.Unlock()
			continue
		}
		if st.Succeeded() {
			p.state = StateRendered
			p.errMsg = ""
		} else {
			p.state = StateErrored
			p.errMsg = "diagram could not be rendered"
			if err != nil && !errors.Is(err, render.ErrDetached) {
				p.errMsg = err.Error()
			}
		}
		snap = p.snapshotLocked()
		p.mu.Unlock()
		if err != nil {
			log.Printf("panel: render finished as %s: %v", st, err)
		}
		p.notify(snap)
	}
}

// surface accepts paints only for the text generation it was created for.
type surface struct {
	p   *Panel
	gen uint64
}

func (s *surface) Paint(content string, st render.State) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.gen != s.p.gen || s.p.ctx.Err() != nil {
		return render.ErrDetached
	}
	s.p.artifact = content
	s.p.renderState = st
	return nil
}

// Zoom sets the zoom factor.
func (p *Panel) Zoom(z float64) {
	p.transform(func(pz *PanZoom) { pz.SetZoom(z) })
}

// ZoomIn and ZoomOut step the zoom by ButtonStep.
func (p *Panel) ZoomIn()  { p.transform(func(pz *PanZoom) { pz.Step(ButtonStep) }) }
func (p *Panel) ZoomOut() { p.transform(func(pz *PanZoom) { pz.Step(-ButtonStep) }) }

// Wheel applies a wheel event.
func (p *Panel) Wheel(e WheelEvent) {
	p.transform(func(pz *PanZoom) { pz.Wheel(e) })
}

// BeginDrag, DragTo and EndDrag pan the diagram.
func (p *Panel) BeginDrag(pointer int, x, y float64) {
	p.transform(func(pz *PanZoom) { pz.BeginDrag(pointer, x, y) })
}

func (p *Panel) DragTo(pointer int, x, y float64) {
	p.transform(func(pz *PanZoom) { pz.DragTo(pointer, x, y) })
}

func (p *Panel) EndDrag(pointer int) {
	p.transform(func(pz *PanZoom) { pz.EndDrag(pointer) })
}

// ResetView restores zoom 1 and no pan.
func (p *Panel) ResetView() {
	p.transform(func(pz *PanZoom) { pz.Reset() })
}

func (p *Panel) transform(fn func(*PanZoom)) {
	p.mu.Lock()
	fn(&p.pz)
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
}

// Snapshot returns the current state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) snapshotLocked() Snapshot {
	return Snapshot{
		State:       p.state,
		Text:        p.text,
		Artifact:    p.artifact,
		RenderState: p.renderState,
		Error:       p.errMsg,
		Zoom:        p.pz.Zoom,
		ZoomPercent: p.pz.Percent(),
		Pan:         p.pz.Pan,
		Transform:   p.pz.Transform(),
		Synced:      p.synced,
		Edited:      p.edited,
	}
}

func (p *Panel) notify(s Snapshot) {
	if p.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panel: change handler panicked: %v", r)
		}
	}()
	p.onChange(s)
}

// Close stops the render worker and waits for it.
func (p *Panel) Close() {
	p.cancel()
	p.wg.Wait()
}
