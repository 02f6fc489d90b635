package panel

import (
	"fmt"
	"math"
)

const (
	DefaultMinZoom = 1.0
	DefaultMaxZoom = 5.0
	// WheelStep is the zoom change per modified wheel notch.
	WheelStep = 0.08
	// ButtonStep is the zoom change per zoom-in/zoom-out action.
	ButtonStep = 0.1
)

// Point is a 2D offset in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WheelEvent is a wheel notch over the diagram viewport.
type WheelEvent struct {
	DeltaY float64 `json:"delta_y"`
	// OffsetX and OffsetY are the pointer position within the viewport.
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	// Modifier is true when ctrl or meta is held. Plain wheel events
	// scroll the page and are ignored.
	Modifier bool `json:"modifier"`
}

type drag struct {
	pointer int
	start   Point
	origin  Point
}

// PanZoom is the viewport transform of the panel. The zero value is not
// usable; call NewPanZoom.
type PanZoom struct {
	Zoom    float64
	Pan     Point
	MinZoom float64
	MaxZoom float64
	drag    *drag
}

// NewPanZoom returns an identity transform clamped to [min, max].
func NewPanZoom(min, max float64) PanZoom {
	if min <= 0 {
		min = DefaultMinZoom
	}
	if max < min {
		max = DefaultMaxZoom
	}
	pz := PanZoom{MinZoom: min, MaxZoom: max}
	pz.Zoom = pz.clamp(1)
	return pz
}

func (pz *PanZoom) clamp(z float64) float64 {
	return math.Min(pz.MaxZoom, math.Max(pz.MinZoom, z))
}

// SetZoom sets the zoom factor, clamped, and returns the applied value.
func (pz *PanZoom) SetZoom(z float64) float64 {
	pz.Zoom = pz.clamp(z)
	return pz.Zoom
}

// Step zooms by delta around the viewport origin.
func (pz *PanZoom) Step(delta float64) float64 {
	return pz.SetZoom(pz.Zoom + delta)
}

// Wheel zooms around the pointer so the diagram point under it stays put.
// It reports whether the event was consumed.
func (pz *PanZoom) Wheel(e WheelEvent) bool {
	if !e.Modifier || e.DeltaY == 0 {
		return false
	}
	step := WheelStep
	if e.DeltaY > 0 {
		step = -step
	}
	next := pz.clamp(pz.Zoom + step)
	if next == pz.Zoom {
		return true
	}
	f := next / pz.Zoom
	pz.Pan.X = e.OffsetX - f*(e.OffsetX-pz.Pan.X)
	pz.Pan.Y = e.OffsetY - f*(e.OffsetY-pz.Pan.Y)
	pz.Zoom = next
	return true
}

// BeginDrag starts panning with the given pointer.
func (pz *PanZoom) BeginDrag(pointer int, x, y float64) {
	pz.drag = &drag{pointer: pointer, start: Point{x, y}, origin: pz.Pan}
}

// DragTo moves the pan offset with the active pointer. Moves from other
// pointers are ignored.
func (pz *PanZoom) DragTo(pointer int, x, y float64) bool {
	if pz.drag == nil || pz.drag.pointer != pointer {
		return false
	}
	pz.Pan = Point{
		X: pz.drag.origin.X + x - pz.drag.start.X,
		Y: pz.drag.origin.Y + y - pz.drag.start.Y,
	}
	return true
}

// EndDrag stops panning for pointer.
func (pz *PanZoom) EndDrag(pointer int) {
	if pz.drag != nil && pz.drag.pointer == pointer {
		pz.drag = nil
	}
}

// Dragging reports whether a pan is in progress.
func (pz *PanZoom) Dragging() bool { return pz.drag != nil }

// Reset restores the identity transform.
func (pz *PanZoom) Reset() {
	pz.Zoom = pz.clamp(1)
	pz.Pan = Point{}
	pz.drag = nil
}

// Percent is the zoom level for display.
func (pz *PanZoom) Percent() int {
	return int(math.Round(pz.Zoom * 100))
}

// Transform is the CSS transform for the diagram layer.
func (pz *PanZoom) Transform() string {
	return fmt.Sprintf("translate(%gpx, %gpx) scale(%g)", pz.Pan.X, pz.Pan.Y, pz.Zoom)
}
