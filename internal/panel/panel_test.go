package panel

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ziadkadry99/chatdiagram/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPanZoomClamp(t *testing.T) {
	pz := NewPanZoom(1, 5)
	if got := pz.SetZoom(9); got != 5 {
		t.Errorf("expected clamp to 5, got %v", got)
	}
	if got := pz.SetZoom(0.2); got != 1 {
		t.Errorf("expected clamp to 1, got %v", got)
	}
	for i := 0; i < 100; i++ {
		pz.Step(ButtonStep)
	}
	if pz.Zoom != 5 {
		t.Errorf("expected repeated steps to stop at 5, got %v", pz.Zoom)
	}
	for i := 0; i < 100; i++ {
		pz.Wheel(WheelEvent{DeltaY: 1, Modifier: true})
	}
	if pz.Zoom != 1 {
		t.Errorf("expected repeated wheel-out to stop at 1, got %v", pz.Zoom)
	}
}

func TestPanZoomReset(t *testing.T) {
	pz := NewPanZoom(1, 5)
	pz.SetZoom(3.3)
	pz.BeginDrag(1, 10, 10)
	pz.DragTo(1, 60, -40)
	pz.Reset()
	if pz.Zoom != 1 || pz.Pan != (Point{}) || pz.Dragging() {
		t.Errorf("expected identity, got zoom=%v pan=%+v dragging=%v", pz.Zoom, pz.Pan, pz.Dragging())
	}
	if pz.Percent() != 100 {
		t.Errorf("expected 100%%, got %d", pz.Percent())
	}
	if pz.Transform() != "translate(0px, 0px) scale(1)" {
		t.Errorf("unexpected transform %q", pz.Transform())
	}
}

func TestPanZoomResetStaysInBounds(t *testing.T) {
	tests := []struct {
		name     string
		min, max float64
		want     float64
	}{
		{name: "default bounds", min: 1, max: 5, want: 1},
		{name: "min above identity", min: 2, max: 5, want: 2},
		{name: "max below identity", min: 0.25, max: 0.5, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pz := NewPanZoom(tt.min, tt.max)
			if pz.Zoom != tt.want {
				t.Errorf("NewPanZoom zoom = %v, want %v", pz.Zoom, tt.want)
			}
			pz.SetZoom(tt.max)
			pz.Reset()
			if pz.Zoom != tt.want {
				t.Errorf("Reset zoom = %v, want %v", pz.Zoom, tt.want)
			}
		})
	}
}

func TestWheelKeepsPointFixed(t *testing.T) {
	pz := NewPanZoom(1, 5)
	pz.SetZoom(2)
	pz.Pan = Point{X: -30, Y: 12}
	cursor := Point{X: 140, Y: 90}

	// Diagram coordinate under the cursor before zooming.
	before := Point{X: (cursor.X - pz.Pan.X) / pz.Zoom, Y: (cursor.Y - pz.Pan.Y) / pz.Zoom}
	if !pz.Wheel(WheelEvent{DeltaY: -100, OffsetX: cursor.X, OffsetY: cursor.Y, Modifier: true}) {
		t.Fatal("expected modified wheel to be consumed")
	}
	if !near(pz.Zoom, 2.08) {
		t.Fatalf("expected zoom 2.08, got %v", pz.Zoom)
	}
	after := Point{X: (cursor.X - pz.Pan.X) / pz.Zoom, Y: (cursor.Y - pz.Pan.Y) / pz.Zoom}
	if !near(before.X, after.X) || !near(before.Y, after.Y) {
		t.Errorf("point under cursor moved from %+v to %+v", before, after)
	}
}

func TestWheelWithoutModifierIgnored(t *testing.T) {
	pz := NewPanZoom(1, 5)
	if pz.Wheel(WheelEvent{DeltaY: -100}) {
		t.Error("expected plain wheel to be ignored")
	}
	if pz.Zoom != 1 {
		t.Errorf("expected zoom unchanged, got %v", pz.Zoom)
	}
}

func TestDragIgnoresOtherPointers(t *testing.T) {
	pz := NewPanZoom(1, 5)
	pz.BeginDrag(7, 100, 100)
	if pz.DragTo(8, 0, 0) {
		t.Error("expected foreign pointer to be ignored")
	}
	pz.DragTo(7, 130, 80)
	if pz.Pan != (Point{X: 30, Y: -20}) {
		t.Errorf("unexpected pan %+v", pz.Pan)
	}
	pz.EndDrag(7)
	if pz.DragTo(7, 0, 0) {
		t.Error("expected no pan after drag ended")
	}
}

type gatedRenderer struct {
	mu    sync.Mutex
	seen  []string
	gate  chan struct{}
	fail  bool
	first chan struct{}
	once  sync.Once
}

func (g *gatedRenderer) Render(ctx context.Context, s render.Surface, def, _ string) (render.State, error) {
	g.mu.Lock()
	g.seen = append(g.seen, def)
	g.mu.Unlock()
	if g.first != nil {
		g.once.Do(func() { close(g.first) })
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return render.StateDiscarded, ctx.Err()
		}
	}
	if g.fail {
		s.Paint(render.RawBlock(def), render.StateRaw)
		return render.StateRaw, errors.New("syntax error in text")
	}
	if err := s.Paint("<svg>"+def+"</svg>", render.StateRendered); err != nil {
		return render.StateDiscarded, err
	}
	return render.StateRendered, nil
}

func (g *gatedRenderer) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.seen...)
}

func waitState(t *testing.T, p *Panel, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := p.Snapshot(); s.State == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last %+v", want, p.Snapshot())
	return Snapshot{}
}

func TestLatestTextWins(t *testing.T) {
	g := &gatedRenderer{gate: make(chan struct{}), first: make(chan struct{})}
	p := New(g, Options{})
	defer p.Close()

	p.SetText("graph TD\nA-->B")
	<-g.first
	p.SetText("graph TD\nA-->C")
	p.SetText("graph TD\nA-->D")
	close(g.gate)

	s := waitState(t, p, StateRendered)
	if s.Artifact != "<svg>graph TD\nA-->D</svg>" {
		t.Errorf("expected latest text to be shown, got %q", s.Artifact)
	}
	calls := g.calls()
	if len(calls) != 2 {
		t.Fatalf("expected intermediate edits to coalesce into 2 renders, got %d: %q", len(calls), calls)
	}
	if calls[1] != "graph TD\nA-->D" {
		t.Errorf("expected second render of the latest text, got %q", calls[1])
	}
}

func TestErroredState(t *testing.T) {
	p := New(&gatedRenderer{fail: true}, Options{})
	defer p.Close()

	p.SetText("graph TD\nA--")
	s := waitState(t, p, StateErrored)
	if !strings.Contains(s.Error, "syntax error") {
		t.Errorf("expected error message, got %q", s.Error)
	}
	if s.RenderState != render.StateRaw {
		t.Errorf("expected raw artifact, got %s", s.RenderState)
	}
}

func TestEmptyText(t *testing.T) {
	g := &gatedRenderer{}
	p := New(g, Options{})
	defer p.Close()

	p.SetText("pie\n\"a\": 1")
	waitState(t, p, StateRendered)
	p.SetText("   ")
	s := p.Snapshot()
	if s.State != StateEmpty || s.Artifact != "" {
		t.Errorf("expected empty state, got %+v", s)
	}
}

func TestSyncFromChat(t *testing.T) {
	p := New(&gatedRenderer{}, Options{})
	defer p.Close()

	p.OfferSynced("gantt\ntitle A")
	s := waitState(t, p, StateRendered)
	if s.Text != "gantt\ntitle A" || s.Edited {
		t.Errorf("expected untouched editor to follow the chat, got %+v", s)
	}

	p.SetText("pie\n\"x\": 1")
	waitState(t, p, StateRendered)
	p.OfferSynced("gantt\ntitle B")
	s = p.Snapshot()
	if s.Text != "pie\n\"x\": 1" {
		t.Errorf("expected user text to stay, got %q", s.Text)
	}
	if s.Synced != "gantt\ntitle B" {
		t.Errorf("expected synced definition recorded, got %q", s.Synced)
	}

	if !p.ApplySynced() {
		t.Fatal("expected ApplySynced to succeed")
	}
	waitState(t, p, StateRendered)
	if p.Snapshot().Text != "gantt\ntitle B" {
		t.Errorf("expected synced text applied, got %q", p.Snapshot().Text)
	}
}

func TestApplySyncedWithoutDiagram(t *testing.T) {
	p := New(&gatedRenderer{}, Options{})
	defer p.Close()
	if p.ApplySynced() {
		t.Error("expected false without a synced diagram")
	}
}

func TestPanelViewControls(t *testing.T) {
	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	p := New(&gatedRenderer{}, Options{OnChange: func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}})
	defer p.Close()

	p.Zoom(10)
	if p.Snapshot().Zoom != DefaultMaxZoom {
		t.Errorf("expected clamp to max, got %v", p.Snapshot().Zoom)
	}
	p.ZoomOut()
	if !near(p.Snapshot().Zoom, 4.9) {
		t.Errorf("expected 4.9, got %v", p.Snapshot().Zoom)
	}
	p.BeginDrag(1, 0, 0)
	p.DragTo(1, 25, 5)
	p.EndDrag(1)
	if p.Snapshot().Pan != (Point{X: 25, Y: 5}) {
		t.Errorf("unexpected pan %+v", p.Snapshot().Pan)
	}
	p.ResetView()
	s := p.Snapshot()
	if s.Zoom != 1 || s.Pan != (Point{}) || s.ZoomPercent != 100 {
		t.Errorf("expected identity after reset, got %+v", s)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 6 {
		t.Errorf("expected a snapshot per change, got %d", len(snaps))
	}
}
