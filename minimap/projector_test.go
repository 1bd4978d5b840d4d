package minimap

import (
	"math"
	"testing"

	"ticketflow-cli/gesture"
	"ticketflow-cli/viewport"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func zoomedTo(t *testing.T, scale float64) *viewport.Controller {
	t.Helper()
	vp := viewport.New(viewport.Config{MinScale: 0.5, MaxScale: 4, InitialScale: 1})
	for vp.Scale() < scale {
		vp.ZoomIn()
	}
	return vp
}

func TestProject_CenteredAtScaleTwo(t *testing.T) {
	size := Size{W: 100, H: 60}
	r := Project(viewport.State{Scale: 2}, size, size)
	if !approx(r.X, 25) || !approx(r.Y, 25) || !approx(r.W, 50) || !approx(r.H, 50) {
		t.Fatalf("expected {25 25 50 50}, got %+v", r)
	}
}

func TestProject_SizeIsHundredOverScale(t *testing.T) {
	size := Size{W: 80, H: 80}
	for _, s := range []float64{1.25, 1.5, 2, 3} {
		r := Project(viewport.State{Scale: s}, size, size)
		if !approx(r.W, 100/s) || !approx(r.H, 100/s) {
			t.Fatalf("scale %v: expected size %v, got %+v", s, 100/s, r)
		}
	}
}

func TestProject_SizeFollowsContainerToContentRatio(t *testing.T) {
	// Content twice the container: half of it is visible at scale 1.
	r := Project(viewport.State{Scale: 1}, Size{W: 50, H: 50}, Size{W: 100, H: 100})
	if !approx(r.W, 50) || !approx(r.H, 50) {
		t.Fatalf("expected half-size rect, got %+v", r)
	}
	if !approx(r.X, 25) || !approx(r.Y, 25) {
		t.Fatalf("expected centred rect, got %+v", r)
	}
}

func TestProject_ClampsPosition(t *testing.T) {
	size := Size{W: 100, H: 100}
	r := Project(viewport.State{Scale: 2, Offset: gesture.Point{X: 1000, Y: -1000}}, size, size)
	if r.X != 0 {
		t.Fatalf("expected x clamped to 0, got %v", r.X)
	}
	if !approx(r.Y, 50) {
		t.Fatalf("expected y clamped to 50, got %v", r.Y)
	}
}

func TestProject_ClampsSizeWhenZoomedOut(t *testing.T) {
	size := Size{W: 100, H: 100}
	r := Project(viewport.State{Scale: 0.5}, size, size)
	if r.W != 100 || r.X != 0 {
		t.Fatalf("expected full-width rect, got %+v", r)
	}
}

func TestNavigate_RoundTripsThroughProjection(t *testing.T) {
	vp := zoomedTo(t, 2)
	p := New(vp)
	p.Resize(Size{W: 100, H: 50}, Size{W: 100, H: 50})

	if !p.Navigate(70, 40) {
		t.Fatal("expected navigation while zoomed")
	}
	cx, cy := p.VisibleRect().Center()
	if !approx(cx, 70) || !approx(cy, 40) {
		t.Fatalf("expected rect centered on (70,40), got (%v,%v)", cx, cy)
	}

	p.Navigate(50, 50)
	if vp.Offset() != (gesture.Point{}) {
		t.Fatalf("expected center click to zero the offset, got %+v", vp.Offset())
	}
}

func TestNavigate_InactiveBelowThreshold(t *testing.T) {
	vp := viewport.New(viewport.DefaultConfig())
	vp.ApplyWheel(1)
	p := New(vp)
	p.Resize(Size{W: 100, H: 100}, Size{W: 100, H: 100})
	if p.Active() {
		t.Fatalf("expected inactive at scale %v", vp.Scale())
	}
	if p.Navigate(10, 10) {
		t.Fatal("expected navigate to be ignored")
	}
}
