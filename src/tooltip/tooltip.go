package tooltip

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"manga-dissector/src/events"
	"manga-dissector/src/transform"
)

const tag = "tooltip"

// Surface draws the panel. Sizes are the panel's unscaled CSS size; the
// surface applies scale itself. Open and SetContent report the size the panel
// takes once the markup is laid out.
type Surface interface {
	Open(html string, scale float64) (Size, error)
	SetContent(html string) (Size, error)
	Move(p Point) error
	Resize(s Size) error
	Close() error
}

type Options struct {
	Gap           float64
	Margin        float64
	MinWidth      float64
	MinHeight     float64
	ZoomThreshold float64
	DismissDelay  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Gap:           10,
		Margin:        10,
		MinWidth:      250,
		MinHeight:     150,
		ZoomThreshold: 1.1,
		DismissDelay:  100 * time.Millisecond,
	}
}

var ErrNotOpen = errors.New("tooltip not open")

type gesture int

const (
	none gesture = iota
	dragging
	resizing
)

// Manager owns the single panel. It is driven from the event-loop goroutine.
type Manager struct {
	reg     *events.Registry
	surface Surface
	opts    Options
	now     func() time.Time

	keepOpen func() bool
	onClose  func()

	open      bool
	state     DisplayState
	html      string
	pos       Point
	size      Size
	scale     float64
	viewportW float64
	viewportH float64
	openedAt  time.Time

	gesture     gesture
	grabX       float64
	grabY       float64
	startSize   Size
	justDragged bool
}

func New(reg *events.Registry, surface Surface, opts Options) *Manager {
	d := DefaultOptions()
	if opts.MinWidth <= 0 {
		opts.MinWidth = d.MinWidth
	}
	if opts.MinHeight <= 0 {
		opts.MinHeight = d.MinHeight
	}
	if opts.ZoomThreshold <= 0 {
		opts.ZoomThreshold = d.ZoomThreshold
	}
	return &Manager{reg: reg, surface: surface, opts: opts, now: time.Now, scale: 1}
}

// SetGuard installs the keep-open condition consulted before click-outside dismissal.
func (m *Manager) SetGuard(keepOpen func() bool) { m.keepOpen = keepOpen }

// OnClose is called after the panel closes for any reason.
func (m *Manager) OnClose(fn func()) { m.onClose = fn }

func (m *Manager) IsOpen() bool        { return m.open }
func (m *Manager) State() DisplayState { return m.state }
func (m *Manager) HTML() string        { return m.html }
func (m *Manager) Position() Point     { return m.pos }
func (m *Manager) Size() Size          { return m.size }
func (m *Manager) Scale() float64      { return m.scale }
func (m *Manager) ListenerCount() int  { return m.reg.CountTag(tag) }
func (m *Manager) screenSize() Size    { return Size{m.size.Width * m.scale, m.size.Height * m.scale} }
func (m *Manager) dismissArmed() bool  { return !m.now().Before(m.openedAt.Add(m.opts.DismissDelay)) }
func (m *Manager) guarded() bool       { return m.keepOpen != nil && m.keepOpen() }

// Open shows the panel below sel. If a panel is already open only its
// content changes.
func (m *Manager) Open(sel transform.SelectionRect, vp transform.ViewportState, c Content) error {
	if m.open {
		return m.Render(c)
	}
	html, err := Render(c)
	if err != nil {
		return err
	}

	scale := ZoomScale(vp, m.opts.ZoomThreshold)
	size, err := m.surface.Open(html, scale)
	if err != nil {
		return fmt.Errorf("failed to open tooltip: %w", err)
	}
	m.open = true
	m.state = c.State
	m.html = html
	m.size = size
	m.scale = scale
	m.viewportW, m.viewportH = vp.LayoutWidth, vp.LayoutHeight
	m.openedAt = m.now()
	m.pos = Place(Anchor(sel), m.screenSize(), m.viewportW, m.viewportH, m.opts)
	if err := m.surface.Move(m.pos); err != nil {
		log.Printf("tooltip: move failed: %v", err)
	}

	m.reg.Add(tag, events.Capture, []events.Kind{events.PointerDown}, m.handlePointerDown)
	m.reg.Add(tag, events.Capture, []events.Kind{events.PointerMove}, m.handlePointerMove)
	m.reg.Add(tag, events.Capture, []events.Kind{events.PointerUp}, m.handlePointerUp)
	m.reg.Add(tag, events.Bubble, []events.Kind{events.Click}, m.handleClick)

	log.Printf("tooltip: opened %s at (%.0f,%.0f) size %.0fx%.0f scale %.2f", c.State, m.pos.X, m.pos.Y, size.Width, size.Height, scale)
	return nil
}

// Render replaces the content. The panel keeps its position unless the new
// size would push it out of the viewport.
func (m *Manager) Render(c Content) error {
	if !m.open {
		return ErrNotOpen
	}
	html, err := Render(c)
	if err != nil {
		return err
	}
	m.state = c.State
	if html == m.html {
		return nil
	}
	m.html = html
	size, err := m.surface.SetContent(html)
	if err != nil {
		return fmt.Errorf("failed to update tooltip: %w", err)
	}
	if size.Width > 0 && size.Height > 0 {
		m.size = size
	}
	if p := clampDrag(m.pos, m.screenSize(), m.viewportW, m.viewportH); p != m.pos {
		m.pos = p
		if err := m.surface.Move(p); err != nil {
			log.Printf("tooltip: move failed: %v", err)
		}
	}
	return nil
}

// Close removes the panel and all of its listeners.
func (m *Manager) Close() {
	if !m.open {
		return
	}
	m.reg.RemoveTag(tag)
	if err := m.surface.Close(); err != nil {
		log.Printf("tooltip: close failed: %v", err)
	}
	m.open = false
	m.html = ""
	m.gesture = none
	m.justDragged = false
	log.Printf("tooltip: closed")
	if m.onClose != nil {
		m.onClose()
	}
}

func (m *Manager) handlePointerDown(ev *events.Event) bool {
	switch ev.Target {
	case events.TargetResize:
		m.gesture = resizing
		m.grabX, m.grabY = ev.X, ev.Y
		m.startSize = m.size
		return true
	case events.TargetPanel:
		m.gesture = dragging
		m.grabX, m.grabY = ev.X-m.pos.X, ev.Y-m.pos.Y
		m.justDragged = false
	}
	return false
}

func (m *Manager) handlePointerMove(ev *events.Event) bool {
	switch m.gesture {
	case dragging:
		p := clampDrag(Point{X: ev.X - m.grabX, Y: ev.Y - m.grabY}, m.screenSize(), m.viewportW, m.viewportH)
		if p != m.pos {
			m.justDragged = true
			m.pos = p
			if err := m.surface.Move(p); err != nil {
				log.Printf("tooltip: move failed: %v", err)
			}
		}
		return true
	case resizing:
		m.size = Size{
			Width:  math.Max(m.opts.MinWidth, m.startSize.Width+(ev.X-m.grabX)),
			Height: math.Max(m.opts.MinHeight, m.startSize.Height+(ev.Y-m.grabY)),
		}
		if err := m.surface.Resize(m.size); err != nil {
			log.Printf("tooltip: resize failed: %v", err)
		}
		return true
	}
	return false
}

func (m *Manager) handlePointerUp(ev *events.Event) bool {
	g := m.gesture
	m.gesture = none
	return g == resizing
}

func (m *Manager) handleClick(ev *events.Event) bool {
	switch ev.Target {
	case events.TargetClose:
		m.Close()
		return true
	case events.TargetPanel, events.TargetResize:
		m.justDragged = false
		return false
	}
	if m.justDragged {
		// The click that ends a drag outside the panel.
		m.justDragged = false
		return false
	}
	if !m.dismissArmed() || m.guarded() || ev.Target == events.TargetOverlay {
		return false
	}
	m.Close()
	return false
}
