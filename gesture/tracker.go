// Package gesture turns raw pointer, touch and wheel input into primitive
// viewport deltas. It knows nothing about seats or rendering.
package gesture

import "math"

const (
	WheelZoomIn  = 1.1
	WheelZoomOut = 0.9

	// DefaultTapSlop is how far (in pointer units) a contact may travel and
	// still count as a tap when it lifts.
	DefaultTapSlop = 4.0
)

type Point struct {
	X float64
	Y float64
}

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Phase is the explicit interaction state of a touch sequence.
type Phase int

const (
	Idle Phase = iota
	Panning
	Pinching
)

func (p Phase) String() string {
	switch p {
	case Panning:
		return "panning"
	case Pinching:
		return "pinching"
	default:
		return "idle"
	}
}

type Kind int

const (
	None Kind = iota
	Pinch
	Pan
	Wheel
	End
)

// Delta is the output of one tracker step. Only the fields relevant to Kind
// are set; Phase always carries the tracker phase after the step.
type Delta struct {
	Kind  Kind
	Phase Phase

	// Pinch: ScaleRatio is relative to the previous sample, so consecutive
	// ratios compose by multiplication. Fresh marks the first sample of a
	// pinch, whose Center becomes the reference for the following ones.
	ScaleRatio float64
	Center     Point
	Fresh      bool

	// Pan: absolute offset derived from the anchor fixed at pan start.
	DX float64
	DY float64

	// Wheel: +1 zooms in, -1 zooms out.
	Direction int

	// End: true when the finished sequence never moved the viewport and
	// never travelled beyond the tap slop.
	Tap bool
}

// View is the subset of viewport state the tracker needs to anchor pans.
type View struct {
	Scale  float64
	Offset Point
}

// Tracker holds the GestureSession of one continuous interaction. The zero
// value is not ready for use; call NewTracker.
type Tracker struct {
	TapSlop float64

	phase        Phase
	active       bool
	moved        bool
	origin       Point
	anchor       Point
	panFrom      Point
	lastDistance float64
	lastCenter   Point
}

func NewTracker() *Tracker {
	return &Tracker{TapSlop: DefaultTapSlop}
}

func (t *Tracker) Phase() Phase { return t.phase }

// Dragging reports whether a single-contact pan is in progress.
func (t *Tracker) Dragging() bool { return t.phase == Panning }

// Begin is called whenever a contact goes down. points lists every contact
// currently touching.
func (t *Tracker) Begin(points []Point, view View) Delta {
	if !t.active {
		t.active = true
		t.moved = false
		if len(points) > 0 {
			t.origin = points[0]
		}
	}
	return t.track(points, view)
}

// Move is called when any active contact moves.
func (t *Tracker) Move(points []Point, view View) Delta {
	if !t.active {
		return Delta{Kind: None, Phase: t.phase}
	}
	return t.track(points, view)
}

// Lift is called when a contact goes up. remaining lists the contacts still
// touching; when it is empty the session ends.
func (t *Tracker) Lift(remaining []Point, view View) Delta {
	if len(remaining) == 0 {
		tap := t.active && !t.moved
		t.reset()
		return Delta{Kind: End, Phase: Idle, Tap: tap}
	}
	return t.track(remaining, view)
}

// Cancel drops the session without producing a tap.
func (t *Tracker) Cancel() Delta {
	t.reset()
	return Delta{Kind: End, Phase: Idle}
}

// Wheel maps a wheel event to a discrete zoom step. Only the sign of deltaY
// matters: positive scrolls away from the user and zooms out.
func (t *Tracker) Wheel(deltaY float64) Delta {
	switch {
	case deltaY < 0:
		return Delta{Kind: Wheel, Phase: t.phase, Direction: 1}
	case deltaY > 0:
		return Delta{Kind: Wheel, Phase: t.phase, Direction: -1}
	default:
		return Delta{Kind: None, Phase: t.phase}
	}
}

// WheelFactor returns the multiplicative zoom step for a wheel direction.
func WheelFactor(direction int) float64 {
	if direction > 0 {
		return WheelZoomIn
	}
	return WheelZoomOut
}

func (t *Tracker) reset() {
	t.phase = Idle
	t.active = false
	t.moved = false
	t.anchor = Point{}
	t.panFrom = Point{}
	t.lastDistance = 0
	t.lastCenter = Point{}
}

func (t *Tracker) track(points []Point, view View) Delta {
	switch {
	case len(points) >= 2:
		return t.pinch(points[0], points[1])
	case len(points) == 1:
		return t.single(points[0], view)
	default:
		return Delta{Kind: None, Phase: t.phase}
	}
}

func (t *Tracker) pinch(a, b Point) Delta {
	d := distance(a, b)
	c := midpoint(a, b)
	if t.phase != Pinching {
		t.phase = Pinching
		t.moved = true
		t.anchor = Point{}
		t.lastDistance = d
		t.lastCenter = c
		return Delta{Kind: Pinch, Phase: Pinching, ScaleRatio: 1, Center: c, Fresh: true}
	}

	ratio := 1.0
	if t.lastDistance > 0 {
		ratio = d / t.lastDistance
	}
	t.lastDistance = d
	t.lastCenter = c
	return Delta{Kind: Pinch, Phase: Pinching, ScaleRatio: ratio, Center: c}
}

func (t *Tracker) single(p Point, view View) Delta {
	if distance(p, t.origin) > t.TapSlop {
		t.moved = true
	}

	switch t.phase {
	case Pinching:
		// Two contacts became one: drop the pinch anchors and, when zoomed,
		// re-anchor a pan at the remaining contact with no carried delta.
		t.lastDistance = 0
		t.lastCenter = Point{}
		t.startPan(p, view)
		return Delta{Kind: None, Phase: t.phase}
	case Panning:
		if view.Scale <= 1 {
			t.phase = Idle
			return Delta{Kind: None, Phase: Idle}
		}
		if p != t.panFrom {
			// Any pan that shifts the offset disqualifies the tap, however short.
			t.moved = true
		}
		return Delta{Kind: Pan, Phase: Panning, DX: p.X - t.anchor.X, DY: p.Y - t.anchor.Y}
	default:
		t.startPan(p, view)
		return Delta{Kind: None, Phase: t.phase}
	}
}

func (t *Tracker) startPan(p Point, view View) {
	if view.Scale > 1 {
		t.phase = Panning
		t.anchor = p.Sub(view.Offset)
		t.panFrom = p
		return
	}
	t.phase = Idle
	t.anchor = Point{}
}
