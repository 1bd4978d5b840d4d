package viewport

import (
	"math"
	"math/rand"
	"testing"

	"ticketflow-cli/gesture"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWheelZoomIn_Sequence(t *testing.T) {
	c := New(Config{MinScale: 0.5, MaxScale: 3, InitialScale: 1})
	want := []float64{1.1, 1.21, 1.331}
	for i, w := range want {
		c.ApplyWheel(1)
		if !approx(c.Scale(), w) {
			t.Fatalf("step %d: expected scale %v, got %v", i+1, w, c.Scale())
		}
	}
}

func TestZoomButtonsClamp(t *testing.T) {
	c := New(DefaultConfig())
	for i := 0; i < 20; i++ {
		c.ZoomIn()
	}
	if c.Scale() != 3 {
		t.Fatalf("expected scale clamped to 3, got %v", c.Scale())
	}
	for i := 0; i < 20; i++ {
		c.ZoomOut()
	}
	if c.Scale() != 0.5 {
		t.Fatalf("expected scale clamped to 0.5, got %v", c.Scale())
	}
}

func TestOffsetResetWhenZoomedOut(t *testing.T) {
	c := New(DefaultConfig())
	c.ZoomIn()
	c.ApplyPan(40, -20)
	if c.Offset() != (gesture.Point{X: 40, Y: -20}) {
		t.Fatalf("expected offset (40,-20), got %+v", c.Offset())
	}
	c.ZoomOut()
	if c.Scale() > 1 {
		t.Fatalf("expected scale <= 1, got %v", c.Scale())
	}
	if c.Offset() != (gesture.Point{}) {
		t.Fatalf("expected offset reset, got %+v", c.Offset())
	}
}

func TestPanIgnoredAtScaleOne(t *testing.T) {
	c := New(DefaultConfig())
	c.ApplyPan(10, 10)
	if c.Offset() != (gesture.Point{}) {
		t.Fatalf("expected offset to stay zero, got %+v", c.Offset())
	}
	c.SetOffset(gesture.Point{X: 5, Y: 5})
	if c.Offset() != (gesture.Point{}) {
		t.Fatalf("expected programmatic offset to stay zero, got %+v", c.Offset())
	}
}

func TestApplyPinch_AccumulatesCenterShift(t *testing.T) {
	c := New(DefaultConfig())
	c.Apply(gesture.Delta{Kind: gesture.Pinch, Phase: gesture.Pinching, ScaleRatio: 1, Center: gesture.Point{X: 50, Y: 50}, Fresh: true})
	c.Apply(gesture.Delta{Kind: gesture.Pinch, Phase: gesture.Pinching, ScaleRatio: 2, Center: gesture.Point{X: 60, Y: 55}})
	if !approx(c.Scale(), 2) {
		t.Fatalf("expected scale 2, got %v", c.Scale())
	}
	if c.Offset() != (gesture.Point{X: 10, Y: 5}) {
		t.Fatalf("expected offset (10,5), got %+v", c.Offset())
	}
	c.Apply(gesture.Delta{Kind: gesture.Pinch, Phase: gesture.Pinching, ScaleRatio: 1, Center: gesture.Point{X: 70, Y: 50}})
	if c.Offset() != (gesture.Point{X: 20, Y: 0}) {
		t.Fatalf("expected offset (20,0), got %+v", c.Offset())
	}

	// A fresh pinch re-references its center instead of jumping.
	c.Apply(gesture.Delta{Kind: gesture.End, Phase: gesture.Idle})
	c.Apply(gesture.Delta{Kind: gesture.Pinch, Phase: gesture.Pinching, ScaleRatio: 1, Center: gesture.Point{X: 500, Y: 500}, Fresh: true})
	if c.Offset() != (gesture.Point{X: 20, Y: 0}) {
		t.Fatalf("expected offset unchanged by fresh pinch, got %+v", c.Offset())
	}
}

func TestDraggingFollowsTrackerPhase(t *testing.T) {
	c := New(DefaultConfig())
	c.ZoomIn()
	tr := gesture.NewTracker()

	c.Apply(tr.Begin([]gesture.Point{{X: 10, Y: 10}}, c.View()))
	if !c.Dragging() {
		t.Fatal("expected dragging during single-contact pan")
	}
	c.Apply(tr.Move([]gesture.Point{{X: 30, Y: 10}}, c.View()))
	if c.Offset() != (gesture.Point{X: 20, Y: 0}) {
		t.Fatalf("expected offset (20,0), got %+v", c.Offset())
	}
	c.Apply(tr.Lift(nil, c.View()))
	if c.Dragging() {
		t.Fatal("expected dragging cleared after end")
	}
}

func TestReset(t *testing.T) {
	c := New(Config{MinScale: 0.5, MaxScale: 3, InitialScale: 1.5})
	c.ZoomIn()
	c.ApplyPan(12, 12)
	c.Reset()
	if c.Scale() != 1.5 || c.Offset() != (gesture.Point{}) {
		t.Fatalf("expected reset to (1.5, 0,0), got %+v", c.State())
	}
}

func TestTransformDividesOffsetByScale(t *testing.T) {
	c := New(DefaultConfig())
	c.ApplyWheel(1)
	c.ApplyWheel(1)
	c.ApplyPan(121, -242)
	tf := c.Transform()
	if !approx(tf.Translate.X, 100) || !approx(tf.Translate.Y, -200) {
		t.Fatalf("expected translate (100,-200), got %+v", tf.Translate)
	}
}

func TestInvalidConfigFallsBackToDefaults(t *testing.T) {
	c := New(Config{MinScale: 2, MaxScale: 1, InitialScale: 1})
	if c.Config() != DefaultConfig() {
		t.Fatalf("expected default config, got %+v", c.Config())
	}
}

func TestInvariantsUnderRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := New(DefaultConfig())
	tr := gesture.NewTracker()

	for i := 0; i < 5000; i++ {
		p := gesture.Point{X: rng.Float64() * 400, Y: rng.Float64() * 400}
		q := gesture.Point{X: rng.Float64() * 400, Y: rng.Float64() * 400}
		switch rng.Intn(9) {
		case 0:
			c.Apply(tr.Begin([]gesture.Point{p}, c.View()))
		case 1:
			c.Apply(tr.Begin([]gesture.Point{p, q}, c.View()))
		case 2:
			c.Apply(tr.Move([]gesture.Point{p}, c.View()))
		case 3:
			c.Apply(tr.Move([]gesture.Point{p, q}, c.View()))
		case 4:
			c.Apply(tr.Lift(nil, c.View()))
		case 5:
			c.Apply(tr.Wheel(rng.Float64()*2 - 1))
		case 6:
			c.ZoomIn()
		case 7:
			c.ZoomOut()
		case 8:
			c.SetOffset(p)
		}
		s := c.Scale()
		if s < 0.5 || s > 3 {
			t.Fatalf("step %d: scale %v out of bounds", i, s)
		}
		if s <= 1 && c.Offset() != (gesture.Point{}) {
			t.Fatalf("step %d: offset %+v not reset at scale %v", i, c.Offset(), s)
		}
	}
}
