// Package pipeline watches a live chat document, finds diagram code blocks
// as they stream in (including inside nested shadow roots), swaps each one
// for a mount and renders it in the background.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/ziadkadry99/chatdiagram/internal/detect"
	"github.com/ziadkadry99/chatdiagram/internal/dom"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

const (
	// DefaultHostSelector finds the chat widget element.
	DefaultHostSelector = "openai-chatkit"
	// DefaultPollInterval is how often the host is checked for a newly
	// attached shadow root.
	DefaultPollInterval = 250 * time.Millisecond
)

// Renderer draws a definition into a surface.
type Renderer interface {
	Render(ctx context.Context, s render.Surface, definition, id string) (render.State, error)
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventMounted  EventKind = "mounted"
	EventRendered EventKind = "rendered"
)

// Event reports mount progress.
type Event struct {
	Kind  EventKind
	Mount *Mount
	State render.State
	Err   error
}

// Options configures a Pipeline.
type Options struct {
	HostSelector string
	// Selectors locate code blocks. Empty means detect.CodeSelectors.
	Selectors    []string
	PollInterval time.Duration
	// ViewToggle lets mounts switch between diagram and source.
	ViewToggle bool
	// SourceAttr names an attribute copied from the replaced container onto
	// the mount element and into Mount.Source.
	SourceAttr string
	// Events, if set, is called for every mount and finished render. It
	// runs on pipeline goroutines and must not block for long.
	Events func(Event)
}

var observeAll = dom.ObserveOptions{ChildList: true, CharacterData: true, Subtree: true}

// Pipeline owns the observers, the processed set and the in-flight
// renders for one document.
type Pipeline struct {
	doc       *dom.Document
	renderer  Renderer
	opts      Options
	host      dom.Selector
	selectors []dom.Selector
	processed *processedSet

	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	started atomic.Bool

	// obsMu guards the observer fields. It may be held while taking the
	// document lock, never the other way round.
	obsMu     sync.Mutex
	primary   *dom.Observer
	observed  *html.Node
	shadowObs map[*html.Node]*dom.Observer
	fallback  *dom.Observer
	polling   bool

	mountMu sync.Mutex
	mounts  []*Mount
	byID    map[string]*Mount

	scanMu  sync.Mutex
	scanReq chan struct{}
	stop    chan struct{}
	loops   sync.WaitGroup
	renders sync.WaitGroup
}

// New creates a pipeline over doc. Nothing happens until Start or Scan.
func New(doc *dom.Document, renderer Renderer, opts Options) (*Pipeline, error) {
	if opts.HostSelector == "" {
		opts.HostSelector = DefaultHostSelector
	}
	if len(opts.Selectors) == 0 {
		opts.Selectors = detect.CodeSelectors
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	host, err := dom.Compile(opts.HostSelector)
	if err != nil {
		return nil, fmt.Errorf("compiling host selector: %w", err)
	}
	sels, err := detect.CompileSelectors(opts.Selectors)
	if err != nil {
		return nil, fmt.Errorf("compiling code selectors: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		doc:       doc,
		renderer:  renderer,
		opts:      opts,
		host:      host,
		selectors: sels,
		processed: newProcessedSet(),
		ctx:       ctx,
		cancel:    cancel,
		shadowObs: make(map[*html.Node]*dom.Observer),
		byID:      make(map[string]*Mount),
		scanReq:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}, nil
}

// Start begins watching the document. When the host is not there yet a
// body observer waits for it.
func (p *Pipeline) Start() {
	if p.closed.Load() || !p.started.CompareAndSwap(false, true) {
		return
	}
	p.loops.Add(1)
	go p.scanLoop()

	if p.attachObserver() {
		return
	}
	body := p.doc.Body()
	if body == nil {
		return
	}
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if p.closed.Load() || p.primary != nil {
		return
	}
	p.fallback = p.doc.Observe(body, dom.ObserveOptions{ChildList: true, Subtree: true}, p.onBodyMutation)
}

// locate returns the host and the root to watch: the host's shadow root
// when it has one, else the host itself.
func (p *Pipeline) locate() (host, root *html.Node) {
	p.doc.View(func(doc *html.Node) {
		host = dom.QueryFirst(doc, p.host)
		if host == nil {
			return
		}
		root = dom.ShadowRoot(host)
		if root == nil {
			root = host
		}
	})
	return host, root
}

// attachObserver points the primary observer at the host's current root.
// It reports whether the host exists.
func (p *Pipeline) attachObserver() bool {
	host, root := p.locate()
	if host == nil {
		return false
	}

	p.obsMu.Lock()
	if p.closed.Load() {
		p.obsMu.Unlock()
		return false
	}
	changed := p.observed != root
	if changed {
		if p.primary != nil {
			p.primary.Disconnect()
		}
		if o, ok := p.shadowObs[root]; ok {
			o.Disconnect()
			delete(p.shadowObs, root)
		}
		p.primary = p.doc.Observe(root, observeAll, p.onPrimaryMutation)
		p.observed = root
		log.Printf("pipeline: observing <%s>", root.Data)
	}
	startPoll := !p.polling
	if startPoll {
		p.polling = true
		p.loops.Add(1)
	}
	p.obsMu.Unlock()

	if startPoll {
		go p.pollShadow()
	}
	p.attachShadowObservers()
	p.RequestScan()
	return true
}

// attachShadowObservers watches every shadow root under the host that is
// not watched yet. The set only grows until Close.
func (p *Pipeline) attachShadowObservers() {
	var roots []*html.Node
	host, root := p.locate()
	if host == nil {
		return
	}
	p.doc.View(func(*html.Node) { roots = dom.CollectShadowRoots(root) })

	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if p.closed.Load() {
		return
	}
	for _, r := range roots {
		if r == p.observed {
			continue
		}
		if _, ok := p.shadowObs[r]; ok {
			continue
		}
		p.shadowObs[r] = p.doc.Observe(r, observeAll, p.onShadowMutation)
	}
}

func (p *Pipeline) onBodyMutation([]dom.MutationRecord) {
	if !p.attachObserver() {
		return
	}
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if p.fallback != nil {
		p.fallback.Disconnect()
		p.fallback = nil
	}
}

// Observers for new shadow roots attach before the scan is requested, so
// content appended after that scan is still seen.
func (p *Pipeline) onPrimaryMutation([]dom.MutationRecord) {
	p.attachShadowObservers()
	if p.rootChanged() {
		p.attachObserver()
	}
	p.RequestScan()
}

func (p *Pipeline) onShadowMutation([]dom.MutationRecord) {
	p.attachShadowObservers()
	p.RequestScan()
}

func (p *Pipeline) rootChanged() bool {
	host, root := p.locate()
	if host == nil {
		return false
	}
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	return root != p.observed
}

// pollShadow re-attaches the primary observer when the host gains a shadow
// root after the observer was attached.
func (p *Pipeline) pollShadow() {
	defer p.loops.Done()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.rootChanged() {
				p.attachObserver()
			}
		}
	}
}

// RequestScan schedules a pass. Requests made while a pass is pending
// collapse into it.
func (p *Pipeline) RequestScan() {
	select {
	case p.scanReq <- struct{}{}:
	default:
	}
}

func (p *Pipeline) scanLoop() {
	defer p.loops.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-p.scanReq:
			p.Scan()
		}
	}
}

// Scan runs one extraction pass synchronously and returns the number of
// new mounts. Containers already processed are skipped, so repeated scans
// of an unchanged document do nothing.
func (p *Pipeline) Scan() int {
	p.scanMu.Lock()
	defer p.scanMu.Unlock()
	if p.closed.Load() {
		return 0
	}

	var created []*Mount
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("pipeline: scan panicked: %v", r)
			}
		}()
		p.doc.Update(func(tx *dom.Tx) {
			host := dom.QueryFirst(tx.Root(), p.host)
			if host == nil {
				return
			}
			root := dom.ShadowRoot(host)
			if root == nil {
				root = host
			}
			for _, c := range detect.Scan(dom.CollectShadowRoots(root), p.selectors) {
				if m := p.mountLocked(tx, c); m != nil {
					created = append(created, m)
				}
			}
		})
	}()

	for _, m := range created {
		p.emit(Event{Kind: EventMounted, Mount: m, State: render.StatePending})
		p.renders.Add(1)
		go p.renderMount(m)
	}
	return len(created)
}

func (p *Pipeline) mountLocked(tx *dom.Tx, c detect.Candidate) *Mount {
	if c.Container.Parent == nil || p.processed.within(c.Container) {
		return nil
	}
	id := uuid.NewString()
	m := &Mount{
		ID:         id,
		Definition: c.Definition,
		Language:   c.Language,
		SourceHTML: dom.Render(c.Container),
		doc:        p.doc,
		node:       newMountNode(id),
		viewToggle: p.opts.ViewToggle,
		state:      render.StatePending,
	}
	if p.opts.SourceAttr != "" {
		if v, ok := dom.Attr(c.Container, p.opts.SourceAttr); ok {
			m.Source = v
			dom.SetAttr(m.node, p.opts.SourceAttr, v)
		}
	}
	if err := tx.ReplaceWith(c.Container, m.node); err != nil {
		log.Printf("pipeline: replacing block: %v", err)
		return nil
	}
	p.processed.mark(c.Container)
	p.processed.mark(m.node)

	p.mountMu.Lock()
	p.mounts = append(p.mounts, m)
	p.byID[id] = m
	p.mountMu.Unlock()
	return m
}

func (p *Pipeline) renderMount(m *Mount) {
	defer p.renders.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: render of %s panicked: %v", m.ID, r)
		}
	}()
	st, err := p.renderer.Render(p.ctx, m, m.Definition, m.ID)
	switch {
	case errors.Is(err, render.ErrDetached), errors.Is(err, context.Canceled):
		return
	case err != nil:
		log.Printf("pipeline: diagram %s rendered as %s: %v", m.ID, st, err)
	}
	p.emit(Event{Kind: EventRendered, Mount: m, State: st, Err: err})
}

func (p *Pipeline) emit(e Event) {
	if p.opts.Events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: event handler panicked: %v", r)
		}
	}()
	p.opts.Events(e)
}

// Mounts returns the mounts created so far in creation order.
func (p *Pipeline) Mounts() []*Mount {
	p.mountMu.Lock()
	defer p.mountMu.Unlock()
	out := make([]*Mount, len(p.mounts))
	copy(out, p.mounts)
	return out
}

// Mount looks up a mount by id.
func (p *Pipeline) Mount(id string) (*Mount, bool) {
	p.mountMu.Lock()
	defer p.mountMu.Unlock()
	m, ok := p.byID[id]
	return m, ok
}

// ObservedRoots returns how many roots currently have an observer.
func (p *Pipeline) ObservedRoots() int {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	n := len(p.shadowObs)
	if p.primary != nil {
		n++
	}
	return n
}

// Wait blocks until every render started so far has finished.
func (p *Pipeline) Wait() {
	p.scanMu.Lock()
	p.scanMu.Unlock()
	p.renders.Wait()
}

// Close disconnects every observer, stops polling, cancels in-flight
// renders and clears mounted content. It blocks until all pipeline
// goroutines have exited.
func (p *Pipeline) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	// Wait out a scan that may still be starting renders.
	p.scanMu.Lock()
	p.scanMu.Unlock()

	p.cancel()

	p.obsMu.Lock()
	if p.primary != nil {
		p.primary.Disconnect()
		p.primary = nil
	}
	for r, o := range p.shadowObs {
		o.Disconnect()
		delete(p.shadowObs, r)
	}
	if p.fallback != nil {
		p.fallback.Disconnect()
		p.fallback = nil
	}
	p.observed = nil
	close(p.stop)
	p.obsMu.Unlock()

	for _, m := range p.Mounts() {
		m.unmount()
	}
	p.loops.Wait()
	p.renders.Wait()
}
