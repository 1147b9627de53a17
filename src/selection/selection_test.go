package selection

import (
	"errors"
	"testing"

	"manga-dissector/src/events"
	"manga-dissector/src/overlay"
	"manga-dissector/src/transform"
)

func newController(t *testing.T) (*Controller, *events.Registry, *overlay.Logging, *[]transform.SelectionRect) {
	t.Helper()
	reg := events.NewRegistry()
	ov := &overlay.Logging{}
	c := New(reg, ov, 0)
	var got []transform.SelectionRect
	c.OnSelect(func(r transform.SelectionRect) { got = append(got, r) })
	return c, reg, ov, &got
}

func drag(reg *events.Registry, x0, y0, x1, y1 float64) {
	reg.Dispatch(events.Event{Kind: events.PointerDown, Target: events.TargetOverlay, X: x0, Y: y0})
	reg.Dispatch(events.Event{Kind: events.PointerMove, Target: events.TargetOverlay, X: (x0 + x1) / 2, Y: (y0 + y1) / 2})
	reg.Dispatch(events.Event{Kind: events.PointerUp, Target: events.TargetOverlay, X: x1, Y: y1})
}

func TestValidatedSelection(t *testing.T) {
	c, reg, ov, got := newController(t)
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !ov.Shown {
		t.Fatal("overlay not shown")
	}
	// Dragging up-left still yields a normalized rectangle.
	drag(reg, 300, 200, 100, 150)

	if c.State() != Validated {
		t.Fatalf("state = %s, want validated", c.State())
	}
	want := transform.SelectionRect{Left: 100, Top: 150, Width: 200, Height: 50}
	if len(*got) != 1 || (*got)[0] != want {
		t.Fatalf("OnSelect got %+v, want %+v", *got, want)
	}
	if err := c.Activate(); !errors.Is(err, ErrActive) {
		t.Fatalf("Activate while validated: %v, want ErrActive", err)
	}

	c.Conceal()
	if !ov.Concealed || !ov.Shown {
		t.Fatal("Conceal should hide without removing")
	}
	c.Release()
	if c.State() != Idle || ov.Shown || reg.Count() != 0 {
		t.Fatalf("after Release state=%s shown=%v listeners=%d", c.State(), ov.Shown, reg.Count())
	}
}

func TestUndersizedSelectionIsDiscarded(t *testing.T) {
	tests := []struct {
		name           string
		x0, y0, x1, y1 float64
	}{
		{"narrow", 10, 10, 29, 200},
		{"short", 10, 10, 200, 29.5},
		{"click", 50, 50, 50, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reg, ov, got := newController(t)
			if err := c.Activate(); err != nil {
				t.Fatal(err)
			}
			drag(reg, tt.x0, tt.y0, tt.x1, tt.y1)
			if c.State() != Idle {
				t.Errorf("state = %s, want idle", c.State())
			}
			if len(*got) != 0 {
				t.Errorf("OnSelect called for undersized rect: %+v", *got)
			}
			if ov.Shown || reg.Count() != 0 {
				t.Errorf("teardown incomplete: shown=%v listeners=%d", ov.Shown, reg.Count())
			}
		})
	}
}

func TestMinimumSizeIsInclusive(t *testing.T) {
	c, reg, _, got := newController(t)
	_ = c.Activate()
	drag(reg, 0, 0, 20, 20)
	if c.State() != Validated || len(*got) != 1 {
		t.Fatalf("20x20 should validate, state=%s", c.State())
	}
}

func TestSuppressionExemptsOverlay(t *testing.T) {
	c, reg, _, _ := newController(t)
	pageSaw := 0
	reg.Add("page", events.Bubble, SuppressedKinds, func(*events.Event) bool { pageSaw++; return false })

	if err := c.Activate(); err != nil {
		t.Fatal(err)
	}
	for _, k := range SuppressedKinds {
		if !reg.Dispatch(events.Event{Kind: k, Target: events.TargetPage}) {
			t.Errorf("%s on the page was not suppressed", k)
		}
	}
	if pageSaw != 0 {
		t.Errorf("page listener saw %d suppressed events", pageSaw)
	}
	if reg.Dispatch(events.Event{Kind: events.Wheel, Target: events.TargetOverlay}) {
		t.Error("overlay wheel should not be suppressed")
	}

	c.Cancel()
	if reg.Dispatch(events.Event{Kind: events.Scroll, Target: events.TargetPage}) {
		t.Error("scroll still suppressed after cancel")
	}
}

func TestCancel(t *testing.T) {
	c, reg, ov, got := newController(t)

	if c.Cancel() {
		t.Error("Cancel from idle should be a no-op")
	}

	_ = c.Activate()
	reg.Dispatch(events.Event{Kind: events.PointerDown, Target: events.TargetOverlay, X: 10, Y: 10})
	reg.Dispatch(events.Event{Kind: events.PointerMove, Target: events.TargetOverlay, X: 200, Y: 200})
	if c.State() != Dragging {
		t.Fatalf("state = %s, want dragging", c.State())
	}
	reg.Dispatch(events.Event{Kind: events.KeyDown, Target: events.TargetPage, Key: "Escape"})
	if c.State() != Idle || ov.Shown || reg.Count() != 0 {
		t.Fatalf("escape did not tear down: state=%s shown=%v listeners=%d", c.State(), ov.Shown, reg.Count())
	}
	if c.Rect() != (transform.SelectionRect{}) {
		t.Errorf("partial rect kept: %+v", c.Rect())
	}
	// A trailing pointer-up after cancel does nothing.
	c.PointerUp(300, 300)
	if len(*got) != 0 {
		t.Error("OnSelect fired after cancel")
	}

	_ = c.Activate()
	drag(reg, 0, 0, 100, 100)
	if c.Cancel() {
		t.Error("Cancel must not apply once validated")
	}
	c.Release()
}

func TestListenerCountReturnsToZero(t *testing.T) {
	c, reg, _, _ := newController(t)
	for i := 0; i < 3; i++ {
		_ = c.Activate()
		if c.ListenerCount() == 0 {
			t.Fatal("no listeners while armed")
		}
		switch i {
		case 0:
			drag(reg, 0, 0, 100, 100)
			c.Release()
		case 1:
			drag(reg, 0, 0, 5, 5)
		case 2:
			c.Cancel()
		}
		if c.ListenerCount() != 0 || reg.Count() != 0 {
			t.Fatalf("cycle %d leaked %d listener(s)", i, reg.Count())
		}
	}
}

func TestOnAbortReasons(t *testing.T) {
	c, reg, _, _ := newController(t)
	var reasons []string
	c.OnAbort(func(r string) { reasons = append(reasons, r) })

	_ = c.Activate()
	drag(reg, 0, 0, 3, 3)
	_ = c.Activate()
	c.Cancel()
	_ = c.Activate()
	drag(reg, 0, 0, 100, 100)
	c.Release()

	want := []string{"selection too small", "selection cancelled"}
	if len(reasons) != len(want) || reasons[0] != want[0] || reasons[1] != want[1] {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
}
