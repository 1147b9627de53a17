package overlay

import (
	"log"

	"manga-dissector/src/transform"
)

// Overlay is the full-page transparent layer the selection gesture is drawn
// on. Calls come only from the event-loop goroutine.
type Overlay interface {
	// Show installs the layer and its page-side suppression.
	Show() error
	// Box draws the live selection rectangle.
	Box(r transform.SelectionRect)
	// Conceal makes the layer invisible while keeping it in the layout.
	Conceal()
	// Remove tears the layer and its page-side suppression down.
	Remove()
}

// Logging is an Overlay with no page behind it. The offline CLI and tests use it.
type Logging struct {
	Shown     bool
	Concealed bool
	Last      transform.SelectionRect
}

func (l *Logging) Show() error {
	log.Printf("overlay: show")
	l.Shown, l.Concealed = true, false
	return nil
}

func (l *Logging) Box(r transform.SelectionRect) { l.Last = r }

func (l *Logging) Conceal() {
	log.Printf("overlay: conceal")
	l.Concealed = true
}

func (l *Logging) Remove() {
	log.Printf("overlay: remove")
	l.Shown, l.Concealed = false, false
}
