package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
)

const (
	// LoaderMarker tags the engine script element in the page head.
	LoaderMarker = "data-diagram-engine-loader"
	// DefaultScriptURL is the engine bundle injected into pages.
	DefaultScriptURL = "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.min.js"
	// DefaultLoadTimeout bounds a single engine load.
	DefaultLoadTimeout = 15 * time.Second
)

// Options configures an Adapter.
type Options struct {
	Loader   Loader
	Fallback Fallback
	Cache    Cache
	// Document, when set, receives the engine script element.
	Document    *dom.Document
	ScriptURL   string
	LoadTimeout time.Duration
	Engine      EngineConfig
}

type loadResult struct {
	engine Engine
	err    error
}

// Adapter is the shared engine handle. Every render call site on a page
// goes through one Adapter, so the engine loads once no matter how many
// renders race to need it.
type Adapter struct {
	opts   Options
	group  singleflight.Group
	loaded atomic.Pointer[loadResult]
	loads  atomic.Int64
}

// NewAdapter creates an Adapter. The engine is not loaded until first use.
func NewAdapter(opts Options) *Adapter {
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultScriptURL
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Engine.Theme == "" {
		opts.Engine = DefaultEngineConfig()
	}
	return &Adapter{opts: opts}
}

// Loads returns how many times the loader has been invoked.
func (a *Adapter) Loads() int64 { return a.loads.Load() }

// Theme returns the configured engine theme.
func (a *Adapter) Theme() string { return a.opts.Engine.Theme }

// EnsureLoaded returns the engine, loading it on first call. Concurrent
// callers share one load. A failed load is remembered until Reset so later
// renders go straight to the fallback chain. Cancelling ctx abandons the
// wait, not the load.
func (a *Adapter) EnsureLoaded(ctx context.Context) (Engine, error) {
	if r := a.loaded.Load(); r != nil {
		return r.engine, r.err
	}
	ch := a.group.DoChan("engine", func() (any, error) {
		if r := a.loaded.Load(); r != nil {
			return r, nil
		}
		r := a.load(context.WithoutCancel(ctx))
		a.loaded.Store(r)
		return r, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		r := res.Val.(*loadResult)
		return r.engine, r.err
	}
}

func (a *Adapter) load(ctx context.Context) (r *loadResult) {
	a.loads.Add(1)
	defer func() {
		if p := recover(); p != nil {
			r = &loadResult{err: fmt.Errorf("%w: loader panicked: %v", ErrEngineUnavailable, p)}
		}
	}()

	if a.opts.Document != nil {
		if _, inserted := a.opts.Document.EnsureScript(LoaderMarker, a.opts.ScriptURL); inserted {
			log.Printf("render: injected engine script %s", a.opts.ScriptURL)
		}
	}
	if a.opts.Loader == nil {
		return &loadResult{err: fmt.Errorf("%w: no loader configured", ErrEngineUnavailable)}
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.LoadTimeout)
	defer cancel()
	eng, err := a.opts.Loader.Load(ctx)
	if err != nil {
		log.Printf("render: engine load failed: %v", err)
		return &loadResult{err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)}
	}
	if eng == nil {
		return &loadResult{err: fmt.Errorf("%w: engine never registered", ErrEngineUnavailable)}
	}
	return &loadResult{engine: eng}
}

// Reset forgets the memoized load result so the next EnsureLoaded tries
// again. The script element stays in place.
func (a *Adapter) Reset() {
	a.loaded.Store(nil)
}

// NewRenderID returns a fresh render id.
func NewRenderID() string {
	return "diagram-" + uuid.NewString()
}

// Render draws definition into s, trying the local engine, then the remote
// fallback, then the raw text. It always paints something unless the
// surface is detached. The returned error explains why a better path was
// skipped; it is nil only for a local render.
func (a *Adapter) Render(ctx context.Context, s Surface, definition, id string) (state State, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render panicked: %v", p)
			state = a.paintRaw(s, definition)
		}
	}()
	if id == "" {
		id = NewRenderID()
	}

	key := a.cacheKey(definition)
	if a.opts.Cache != nil {
		if svg, st, ok := a.opts.Cache.Get(ctx, key); ok {
			if perr := s.Paint(svg, st); perr != nil {
				return StateDiscarded, perr
			}
			return st, nil
		}
	}

	var cause error
	eng, loadErr := a.EnsureLoaded(ctx)
	if loadErr == nil {
		eng.Initialize(a.opts.Engine)
		res, rerr := eng.Render(ctx, id, definition)
		switch {
		case rerr != nil:
			cause = rerr
		case res == nil || !looksLikeSVG(res.SVG):
			cause = ErrEmptyArtifact
		default:
			if perr := s.Paint(res.SVG, StateRendered); perr != nil {
				return StateDiscarded, perr
			}
			if res.Bind != nil {
				res.Bind(s)
			}
			a.store(ctx, key, res.SVG, StateRendered)
			return StateRendered, nil
		}
	} else {
		cause = loadErr
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return StateDiscarded, ctx.Err()
	}
	return a.fallback(ctx, s, definition, key, cause)
}

func (a *Adapter) fallback(ctx context.Context, s Surface, definition, key string, cause error) (State, error) {
	if a.opts.Fallback != nil {
		svg, ferr := a.opts.Fallback.Fetch(ctx, definition)
		if ferr == nil {
			if perr := s.Paint(svg, StateRemote); perr != nil {
				return StateDiscarded, perr
			}
			a.store(ctx, key, svg, StateRemote)
			return StateRemote, cause
		}
		cause = errors.Join(cause, ferr)
	}
	st := a.paintRaw(s, definition)
	if st == StateDiscarded {
		return st, ErrDetached
	}
	return st, cause
}

func (a *Adapter) paintRaw(s Surface, definition string) State {
	if err := s.Paint(RawBlock(definition), StateRaw); err != nil {
		return StateDiscarded
	}
	return StateRaw
}

func (a *Adapter) store(ctx context.Context, key, svg string, st State) {
	if a.opts.Cache == nil {
		return
	}
	if err := a.opts.Cache.Put(ctx, key, svg, st); err != nil {
		log.Printf("render: caching artifact: %v", err)
	}
}

func (a *Adapter) cacheKey(definition string) string {
	sum := sha256.Sum256([]byte(a.opts.Engine.Theme + "\x00" + strings.TrimSpace(definition)))
	return hex.EncodeToString(sum[:])
}

// RawBlock is the last-resort rendering: the definition as escaped,
// wrapped preformatted text.
func RawBlock(definition string) string {
	return `<pre class="diagram-source" style="white-space:pre-wrap">` + html.EscapeString(definition) + `</pre>`
}

func looksLikeSVG(s string) bool {
	return strings.Contains(s, "<svg")
}
