// Package events holds the process-wide listener registry that stands in for
// the page's global event listeners. The event loop owns the registry; it is
// not safe for concurrent use.
package events

import (
	"log"
	"time"
)

type Kind string

const (
	MouseMove    Kind = "mousemove"
	MouseOver    Kind = "mouseover"
	MouseOut     Kind = "mouseout"
	MouseEnter   Kind = "mouseenter"
	MouseLeave   Kind = "mouseleave"
	PointerOver  Kind = "pointerover"
	PointerOut   Kind = "pointerout"
	PointerEnter Kind = "pointerenter"
	PointerLeave Kind = "pointerleave"
	PointerMove  Kind = "pointermove"
	PointerDown  Kind = "pointerdown"
	PointerUp    Kind = "pointerup"
	TouchMove    Kind = "touchmove"
	TouchStart   Kind = "touchstart"
	TouchEnd     Kind = "touchend"
	Scroll       Kind = "scroll"
	Wheel        Kind = "wheel"
	Click        Kind = "click"
	KeyDown      Kind = "keydown"
)

// Target names the element an event was dispatched on.
type Target string

const (
	TargetPage    Target = "page"
	TargetOverlay Target = "overlay"
	TargetPanel   Target = "panel"
	TargetClose   Target = "close"
	TargetResize  Target = "resize"
)

// Event is a DOM event forwarded from the page companion.
type Event struct {
	Kind   Kind      `json:"kind"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Target Target    `json:"target"`
	Key    string    `json:"key,omitempty"`
	Alt    bool      `json:"alt,omitempty"`
	Time   time.Time `json:"-"`
}

type Phase int

const (
	Capture Phase = iota
	Bubble
)

// Handler reacts to an event. Returning true stops propagation to every
// listener after it, including the page itself.
type Handler func(ev *Event) (stop bool)

// Handle identifies one registration.
type Handle uint64

type listener struct {
	id    Handle
	tag   string
	phase Phase
	kinds map[Kind]bool
	fn    Handler
}

type Registry struct {
	next      Handle
	listeners []*listener
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers fn for kinds under tag. Listeners run capture phase first,
// then bubble, each in registration order.
func (r *Registry) Add(tag string, phase Phase, kinds []Kind, fn Handler) Handle {
	r.next++
	l := &listener{id: r.next, tag: tag, phase: phase, kinds: make(map[Kind]bool, len(kinds)), fn: fn}
	for _, k := range kinds {
		l.kinds[k] = true
	}
	r.listeners = append(r.listeners, l)
	return l.id
}

// Remove unregisters h. Removing an unknown handle is a no-op.
func (r *Registry) Remove(h Handle) bool {
	for i, l := range r.listeners {
		if l.id == h {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveTag unregisters every listener carrying tag and returns how many went.
func (r *Registry) RemoveTag(tag string) int {
	kept := r.listeners[:0]
	removed := 0
	for _, l := range r.listeners {
		if l.tag == tag {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(r.listeners); i++ {
		r.listeners[i] = nil
	}
	r.listeners = kept
	if removed > 0 {
		log.Printf("events: removed %d listener(s) tagged %q", removed, tag)
	}
	return removed
}

func (r *Registry) Count() int { return len(r.listeners) }

func (r *Registry) CountTag(tag string) int {
	n := 0
	for _, l := range r.listeners {
		if l.tag == tag {
			n++
		}
	}
	return n
}

func (r *Registry) registered(id Handle) bool {
	for _, l := range r.listeners {
		if l.id == id {
			return true
		}
	}
	return false
}

// Dispatch delivers ev and reports whether a listener stopped it. Listeners
// removed by an earlier handler during the same dispatch are skipped.
func (r *Registry) Dispatch(ev Event) bool {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	snapshot := make([]*listener, len(r.listeners))
	copy(snapshot, r.listeners)
	for _, phase := range []Phase{Capture, Bubble} {
		for _, l := range snapshot {
			if l.phase != phase || !l.kinds[ev.Kind] || !r.registered(l.id) {
				continue
			}
			if l.fn(&ev) {
				return true
			}
		}
	}
	return false
}
