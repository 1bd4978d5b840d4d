// Package viewport owns the pan and zoom state of the seat map.
package viewport

import (
	"errors"
	"fmt"

	"ticketflow-cli/gesture"
)

const (
	DefaultMinScale     = 0.5
	DefaultMaxScale     = 3
	DefaultInitialScale = 1

	zoomInStep  = 1.25
	zoomOutStep = 0.8
)

type Config struct {
	MinScale     float64 `yaml:"min_scale"`
	MaxScale     float64 `yaml:"max_scale"`
	InitialScale float64 `yaml:"initial_scale"`
}

func DefaultConfig() Config {
	return Config{
		MinScale:     DefaultMinScale,
		MaxScale:     DefaultMaxScale,
		InitialScale: DefaultInitialScale,
	}
}

// Validate checks that the scale bounds are usable.
func (c Config) Validate() error {
	if c.MinScale <= 0 {
		return errors.New("viewport min scale must be positive")
	}
	if c.MaxScale < c.MinScale {
		return fmt.Errorf("viewport max scale %.2f is below min scale %.2f", c.MaxScale, c.MinScale)
	}
	if c.InitialScale < c.MinScale || c.InitialScale > c.MaxScale {
		return fmt.Errorf("viewport initial scale %.2f is outside [%.2f, %.2f]", c.InitialScale, c.MinScale, c.MaxScale)
	}
	return nil
}

// State is a snapshot of the viewport transform.
type State struct {
	Scale  float64
	Offset gesture.Point
}

// Transform is what renderers apply to the content, around the content's
// own center: scale first, then translate by Translate (already divided by
// the scale so pointer-space pans map onto un-scaled content).
type Transform struct {
	Scale     float64
	Translate gesture.Point
}

// Controller is the single writer of ViewportState. Every mutation goes
// through normalize, so scale stays within bounds and the offset is zero
// whenever scale <= 1.
type Controller struct {
	cfg    Config
	scale  float64
	offset gesture.Point

	phase       gesture.Phase
	pinchRef    gesture.Point
	hasPinchRef bool
}

// New returns a controller at the initial scale. Invalid bounds fall back to
// the defaults.
func New(cfg Config) *Controller {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	c := &Controller{cfg: cfg, scale: cfg.InitialScale}
	c.normalize()
	return c
}

func (c *Controller) Config() Config        { return c.cfg }
func (c *Controller) Scale() float64        { return c.scale }
func (c *Controller) Offset() gesture.Point { return c.offset }

func (c *Controller) State() State {
	return State{Scale: c.scale, Offset: c.offset}
}

// View is the state the gesture tracker needs to anchor a pan.
func (c *Controller) View() gesture.View {
	return gesture.View{Scale: c.scale, Offset: c.offset}
}

func (c *Controller) Transform() Transform {
	return Transform{
		Scale:     c.scale,
		Translate: gesture.Point{X: c.offset.X / c.scale, Y: c.offset.Y / c.scale},
	}
}

// Dragging reports whether a single-contact pan is in progress. Consumers
// suppress seat selection while it is true.
func (c *Controller) Dragging() bool {
	return c.phase == gesture.Panning
}

// Apply routes one tracker delta to the matching operation.
func (c *Controller) Apply(d gesture.Delta) {
	c.phase = d.Phase
	switch d.Kind {
	case gesture.Pinch:
		if d.Fresh {
			c.hasPinchRef = false
		}
		c.ApplyPinch(d.ScaleRatio, d.Center)
	case gesture.Pan:
		c.ApplyPan(d.DX, d.DY)
	case gesture.Wheel:
		c.ApplyWheel(d.Direction)
	case gesture.End:
		c.hasPinchRef = false
	}
}

// ApplyPinch scales by ratio and shifts the offset by how far the pinch
// center moved since the previous pinch sample.
func (c *Controller) ApplyPinch(ratio float64, center gesture.Point) {
	if ratio > 0 {
		c.scale = c.clamp(c.scale * ratio)
	}
	if c.hasPinchRef {
		c.offset = c.offset.Add(center.Sub(c.pinchRef))
	}
	c.pinchRef = center
	c.hasPinchRef = true
	c.normalize()
}

// ApplyPan replaces the offset; the tracker's anchor already encodes the
// offset at pan start.
func (c *Controller) ApplyPan(dx, dy float64) {
	c.offset = gesture.Point{X: dx, Y: dy}
	c.normalize()
}

func (c *Controller) ApplyWheel(direction int) {
	c.scale = c.clamp(c.scale * gesture.WheelFactor(direction))
	c.normalize()
}

func (c *Controller) ZoomIn() {
	c.scale = c.clamp(c.scale * zoomInStep)
	c.normalize()
}

func (c *Controller) ZoomOut() {
	c.scale = c.clamp(c.scale * zoomOutStep)
	c.normalize()
}

func (c *Controller) Reset() {
	c.scale = c.cfg.InitialScale
	c.offset = gesture.Point{}
	c.hasPinchRef = false
	c.normalize()
}

// SetOffset moves the viewport without gesture input (minimap navigation,
// keyboard panning).
func (c *Controller) SetOffset(p gesture.Point) {
	c.offset = p
	c.normalize()
}

// PanBy shifts the offset by a relative amount.
func (c *Controller) PanBy(dx, dy float64) {
	c.SetOffset(c.offset.Add(gesture.Point{X: dx, Y: dy}))
}

func (c *Controller) clamp(scale float64) float64 {
	return min(max(scale, c.cfg.MinScale), c.cfg.MaxScale)
}

func (c *Controller) normalize() {
	c.scale = c.clamp(c.scale)
	if c.scale <= 1 {
		c.offset = gesture.Point{}
	}
}
