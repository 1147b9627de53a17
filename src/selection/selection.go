package selection

import (
	"errors"
	"fmt"
	"log"
	"math"

	"manga-dissector/src/events"
	"manga-dissector/src/overlay"
	"manga-dissector/src/transform"
)

// ErrActive is returned by Activate when a selection is already in progress
// or has not been released yet.
var ErrActive = errors.New("selection already active")

const DefaultMinSize = 20

const (
	suppressTag = "selection/suppress"
	gestureTag  = "selection/gesture"
)

// SuppressedKinds are stopped in the capture phase while the overlay is up,
// unless they target the overlay itself.
var SuppressedKinds = []events.Kind{
	events.MouseMove, events.MouseOver, events.MouseOut, events.MouseEnter, events.MouseLeave,
	events.PointerOver, events.PointerOut, events.PointerEnter, events.PointerLeave, events.PointerMove,
	events.TouchMove, events.TouchStart, events.TouchEnd,
	events.Scroll, events.Wheel,
}

type State int

const (
	Idle State = iota
	Armed
	Dragging
	Validated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case Validated:
		return "validated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Controller owns the drag gesture. It is driven by events dispatched through
// the registry and must only be used from the event-loop goroutine.
type Controller struct {
	reg      *events.Registry
	overlay  overlay.Overlay
	minSize  float64
	onSelect func(transform.SelectionRect)
	onAbort  func(reason string)

	state            State
	anchorX, anchorY float64
	rect             transform.SelectionRect
}

// New creates an idle controller. minSize <= 0 selects DefaultMinSize.
func New(reg *events.Registry, ov overlay.Overlay, minSize float64) *Controller {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Controller{reg: reg, overlay: ov, minSize: minSize}
}

// OnSelect sets the callback invoked with every validated rectangle.
func (c *Controller) OnSelect(fn func(transform.SelectionRect)) { c.onSelect = fn }

// OnAbort sets the callback invoked when a gesture ends without a selection.
func (c *Controller) OnAbort(fn func(reason string)) { c.onAbort = fn }

func (c *Controller) State() State { return c.state }

// Active reports whether the overlay is installed.
func (c *Controller) Active() bool { return c.state != Idle }

// Gesturing reports whether the user can still be mid-gesture.
func (c *Controller) Gesturing() bool { return c.state == Armed || c.state == Dragging }

// Rect returns the live or validated rectangle.
func (c *Controller) Rect() transform.SelectionRect { return c.rect }

// Activate moves Idle to Armed: shows the overlay and installs suppression
// and gesture listeners.
func (c *Controller) Activate() error {
	if c.state != Idle {
		return ErrActive
	}
	if err := c.overlay.Show(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to show selection overlay: %w", err)
	}

	c.reg.Add(suppressTag, events.Capture, SuppressedKinds, func(ev *events.Event) bool {
		return ev.Target != events.TargetOverlay
	})
	c.reg.Add(gestureTag, events.Capture, []events.Kind{events.PointerDown, events.PointerMove, events.PointerUp}, c.handleGesture)
	c.reg.Add(gestureTag, events.Capture, []events.Kind{events.KeyDown}, func(ev *events.Event) bool {
		if ev.Key == "Escape" {
			return c.Cancel()
		}
		return false
	})

	c.state = Armed
	log.Printf("selection: armed")
	return nil
}

func (c *Controller) handleGesture(ev *events.Event) bool {
	if ev.Target != events.TargetOverlay {
		return false
	}
	switch ev.Kind {
	case events.PointerDown:
		c.PointerDown(ev.X, ev.Y)
	case events.PointerMove:
		c.PointerMove(ev.X, ev.Y)
	case events.PointerUp:
		c.PointerUp(ev.X, ev.Y)
	}
	return true
}

// PointerDown records the anchor and starts dragging.
func (c *Controller) PointerDown(x, y float64) {
	if c.state != Armed {
		return
	}
	c.anchorX, c.anchorY = x, y
	c.rect = transform.SelectionRect{Left: x, Top: y}
	c.state = Dragging
	c.overlay.Box(c.rect)
}

// PointerMove recomputes the live rectangle as the bounding box of anchor and pointer.
func (c *Controller) PointerMove(x, y float64) {
	if c.state != Dragging {
		return
	}
	c.rect = boundingBox(c.anchorX, c.anchorY, x, y)
	c.overlay.Box(c.rect)
}

// PointerUp validates the gesture. Undersized rectangles are discarded
// silently and everything is torn down.
func (c *Controller) PointerUp(x, y float64) {
	if c.state != Dragging {
		return
	}
	c.rect = boundingBox(c.anchorX, c.anchorY, x, y)
	if c.rect.Width < c.minSize || c.rect.Height < c.minSize {
		log.Printf("selection: discarded %.0fx%.0f (minimum %.0f)", c.rect.Width, c.rect.Height, c.minSize)
		c.teardown()
		c.aborted("selection too small")
		return
	}

	// No further gestures; suppression stays until Release.
	c.reg.RemoveTag(gestureTag)
	c.state = Validated
	sel := c.rect
	log.Printf("selection: validated (%.0f,%.0f %.0fx%.0f)", sel.Left, sel.Top, sel.Width, sel.Height)
	if c.onSelect != nil {
		c.onSelect(sel)
	}
}

// Cancel returns to Idle from Armed or Dragging. It reports whether anything was cancelled.
func (c *Controller) Cancel() bool {
	if !c.Gesturing() {
		return false
	}
	log.Printf("selection: cancelled while %s", c.state)
	c.teardown()
	c.aborted("selection cancelled")
	return true
}

// Conceal hides the overlay of a validated selection without removing it.
func (c *Controller) Conceal() {
	if c.state == Validated {
		c.overlay.Conceal()
	}
}

// Release tears down a validated selection once its capture has completed.
func (c *Controller) Release() {
	if c.state != Validated {
		return
	}
	c.teardown()
}

func (c *Controller) teardown() {
	c.reg.RemoveTag(suppressTag)
	c.reg.RemoveTag(gestureTag)
	c.overlay.Remove()
	c.state = Idle
	c.anchorX, c.anchorY = 0, 0
	c.rect = transform.SelectionRect{}
}

func (c *Controller) aborted(reason string) {
	if c.onAbort != nil {
		c.onAbort(reason)
	}
}

func boundingBox(x0, y0, x1, y1 float64) transform.SelectionRect {
	return transform.SelectionRect{
		Left:   math.Min(x0, x1),
		Top:    math.Min(y0, y1),
		Width:  math.Abs(x1 - x0),
		Height: math.Abs(y1 - y0),
	}
}

// ListenerCount returns how many selection listeners are registered.
func (c *Controller) ListenerCount() int {
	return c.reg.CountTag(suppressTag) + c.reg.CountTag(gestureTag)
}
