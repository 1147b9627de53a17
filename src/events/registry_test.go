package events

import "testing"

func TestDispatchOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.Add("b", Bubble, []Kind{Click}, func(*Event) bool { order = append(order, "bubble"); return false })
	r.Add("c1", Capture, []Kind{Click}, func(*Event) bool { order = append(order, "capture1"); return false })
	r.Add("c2", Capture, []Kind{Click, KeyDown}, func(*Event) bool { order = append(order, "capture2"); return false })

	if stopped := r.Dispatch(Event{Kind: Click}); stopped {
		t.Fatal("nothing should have stopped the click")
	}
	want := []string{"capture1", "capture2", "bubble"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestStopPropagation(t *testing.T) {
	r := NewRegistry()
	reached := false
	r.Add("suppress", Capture, []Kind{Wheel}, func(ev *Event) bool { return ev.Target != TargetOverlay })
	r.Add("page", Bubble, []Kind{Wheel}, func(*Event) bool { reached = true; return false })

	if !r.Dispatch(Event{Kind: Wheel, Target: TargetPage}) {
		t.Error("wheel on the page should be stopped")
	}
	if reached {
		t.Error("page listener ran after stop")
	}
	if r.Dispatch(Event{Kind: Wheel, Target: TargetOverlay}) {
		t.Error("wheel on the overlay should pass")
	}
	if !reached {
		t.Error("page listener should see the overlay wheel")
	}
}

func TestRemoveTagAndCounts(t *testing.T) {
	r := NewRegistry()
	noop := func(*Event) bool { return false }
	h := r.Add("a", Capture, []Kind{Scroll}, noop)
	r.Add("a", Bubble, []Kind{Scroll}, noop)
	r.Add("b", Capture, []Kind{Scroll}, noop)

	if r.Count() != 3 || r.CountTag("a") != 2 {
		t.Fatalf("count=%d countA=%d", r.Count(), r.CountTag("a"))
	}
	if !r.Remove(h) {
		t.Fatal("Remove returned false for a live handle")
	}
	if r.Remove(h) {
		t.Fatal("second Remove should be a no-op")
	}
	if n := r.RemoveTag("a"); n != 1 {
		t.Fatalf("RemoveTag removed %d, want 1", n)
	}
	if r.Count() != 1 || r.CountTag("b") != 1 {
		t.Fatalf("count=%d countB=%d", r.Count(), r.CountTag("b"))
	}
}

func TestListenerRemovedDuringDispatchIsSkipped(t *testing.T) {
	r := NewRegistry()
	var second Handle
	ran := false
	r.Add("first", Capture, []Kind{Click}, func(*Event) bool { r.Remove(second); return false })
	second = r.Add("second", Capture, []Kind{Click}, func(*Event) bool { ran = true; return false })

	r.Dispatch(Event{Kind: Click})
	if ran {
		t.Error("listener removed mid-dispatch still ran")
	}
}
