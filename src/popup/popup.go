package popup

import (
	"log"
	"sync"
	"time"
)

// DefaultDuration is how long a toast stays up.
const DefaultDuration = 4 * time.Second

// Display draws and removes toasts. The browser companion and the desktop
// notifier both implement it.
type Display interface {
	ShowToast(id int, msg string) error
	HideToast(id int) error
}

// Toaster shows transient messages that dismiss themselves.
type Toaster struct {
	display  Display
	duration time.Duration
	after    func(time.Duration, func()) *time.Timer

	mu     sync.Mutex
	next   int
	timers map[int]*time.Timer
}

func New(display Display, duration time.Duration) *Toaster {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Toaster{display: display, duration: duration, after: time.AfterFunc, timers: map[int]*time.Timer{}}
}

// Toast shows msg and schedules its removal. Failures are logged; a toast is
// never worth failing a cycle over.
func (t *Toaster) Toast(msg string) {
	log.Printf("Popup.Toast called with %d characters: %q", len(msg), truncateForLog(msg, 50))
	t.mu.Lock()
	t.next++
	id := t.next
	t.mu.Unlock()

	if err := t.display.ShowToast(id, msg); err != nil {
		log.Printf("Popup.Toast: show failed: %v", err)
		return
	}
	t.mu.Lock()
	t.timers[id] = t.after(t.duration, func() { t.dismiss(id) })
	t.mu.Unlock()
}

func (t *Toaster) dismiss(id int) {
	t.mu.Lock()
	delete(t.timers, id)
	t.mu.Unlock()
	if err := t.display.HideToast(id); err != nil {
		log.Printf("Popup.dismiss: hide %d failed: %v", id, err)
	}
}

// Pending returns how many toasts are still showing.
func (t *Toaster) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Close removes every toast immediately.
func (t *Toaster) Close() {
	t.mu.Lock()
	ids := make([]int, 0, len(t.timers))
	for id, timer := range t.timers {
		timer.Stop()
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.dismiss(id)
	}
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Log is a Display that only logs. It stands in when no page is attached.
type Log struct{}

func (Log) ShowToast(id int, msg string) error {
	log.Printf("toast %d: %s", id, msg)
	return nil
}

func (Log) HideToast(id int) error { return nil }
