// Package minimap projects the viewport onto an overview of the whole seat
// map and maps overview clicks back to viewport offsets.
//
// All rectangle coordinates are percentages of the content at scale 1, with
// (0,0) at the content's top-left corner. The content is centered in the
// container when scale is 1 and offset is zero.
package minimap

import (
	"ticketflow-cli/gesture"
	"ticketflow-cli/viewport"
)

// ActivationScale is the zoom level above which the minimap is shown.
const ActivationScale = 1.2

type Size struct {
	W float64
	H float64
}

// Rect is a viewport indicator in content percentages.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Center returns the rectangle's center in content percentages.
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Project computes the visible region of the content for a viewport state.
// Size and position are both clamped so the rectangle stays within [0,100].
func Project(state viewport.State, container, content Size) Rect {
	content = orContainer(content, container)
	if state.Scale <= 0 || content.W <= 0 || content.H <= 0 {
		return Rect{W: 100, H: 100}
	}
	x, w := projectAxis(state.Scale, state.Offset.X, container.W, content.W)
	y, h := projectAxis(state.Scale, state.Offset.Y, container.H, content.H)
	return Rect{X: x, Y: y, W: w, H: h}
}

// OffsetFor returns the viewport offset that puts the content point at
// (xPct, yPct) in the middle of the container.
func OffsetFor(scale float64, xPct, yPct float64, container, content Size) gesture.Point {
	content = orContainer(content, container)
	return gesture.Point{
		X: -scale * (xPct/100 - 0.5) * content.W,
		Y: -scale * (yPct/100 - 0.5) * content.H,
	}
}

func projectAxis(scale, offset, container, content float64) (float64, float64) {
	if container <= 0 {
		container = content
	}
	size := 100 * container / (scale * content)
	pos := 50 + 100*(-container/2-offset)/(scale*content)
	size = clamp(size, 0, 100)
	pos = clamp(pos, 0, 100-size)
	return pos, size
}

func orContainer(content, container Size) Size {
	if content.W <= 0 || content.H <= 0 {
		return container
	}
	return content
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// Projector binds the projection to a live viewport controller.
type Projector struct {
	vp        *viewport.Controller
	container Size
	content   Size
}

func New(vp *viewport.Controller) *Projector {
	return &Projector{vp: vp}
}

// Resize records the container (viewport box) and content (map at scale 1)
// sizes in pointer units.
func (p *Projector) Resize(container, content Size) {
	p.container = container
	p.content = content
}

func (p *Projector) Container() Size { return p.container }
func (p *Projector) Content() Size   { return p.content }

func (p *Projector) Active() bool {
	return p.vp.Scale() > ActivationScale
}

func (p *Projector) VisibleRect() Rect {
	return Project(p.vp.State(), p.container, p.content)
}

// Navigate centers the viewport on a minimap click. It reports false and
// does nothing while the minimap is inactive.
func (p *Projector) Navigate(xPct, yPct float64) bool {
	if !p.Active() {
		return false
	}
	xPct = clamp(xPct, 0, 100)
	yPct = clamp(yPct, 0, 100)
	p.vp.SetOffset(OffsetFor(p.vp.Scale(), xPct, yPct, p.container, p.content))
	return true
}
