package popup

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	shown  map[int]string
	hidden []int
	fail   bool
}

func (r *recorder) ShowToast(id int, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("no page")
	}
	if r.shown == nil {
		r.shown = map[int]string{}
	}
	r.shown[id] = msg
	return nil
}

func (r *recorder) HideToast(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden = append(r.hidden, id)
	return nil
}

func TestToastUsesConfiguredDuration(t *testing.T) {
	r := &recorder{}
	tt := New(r, 0)
	var scheduled []time.Duration
	var fire []func()
	tt.after = func(d time.Duration, f func()) *time.Timer {
		scheduled = append(scheduled, d)
		fire = append(fire, f)
		return time.NewTimer(time.Hour)
	}

	tt.Toast("Failed to capture screenshot")
	if len(scheduled) != 1 || scheduled[0] != DefaultDuration {
		t.Fatalf("scheduled = %v, want [%v]", scheduled, DefaultDuration)
	}
	if r.shown[1] != "Failed to capture screenshot" || tt.Pending() != 1 {
		t.Fatalf("shown=%v pending=%d", r.shown, tt.Pending())
	}
	fire[0]()
	if len(r.hidden) != 1 || r.hidden[0] != 1 || tt.Pending() != 0 {
		t.Fatalf("hidden=%v pending=%d", r.hidden, tt.Pending())
	}
}

func TestToastAutoDismisses(t *testing.T) {
	r := &recorder{}
	tt := New(r, 10*time.Millisecond)
	tt.Toast("Busy, please retry")
	deadline := time.Now().Add(2 * time.Second)
	for tt.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("toast never dismissed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseAndShowFailure(t *testing.T) {
	r := &recorder{}
	tt := New(r, time.Hour)
	tt.Toast("a")
	tt.Toast("b")
	tt.Close()
	if tt.Pending() != 0 || len(r.hidden) != 2 {
		t.Fatalf("pending=%d hidden=%v", tt.Pending(), r.hidden)
	}

	r.fail = true
	tt.Toast("c")
	if tt.Pending() != 0 {
		t.Fatal("failed toast was scheduled")
	}
}
