package hotkey

import (
	"fmt"
	"log"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
)

const escapeRawcode = 27 // VK_ESCAPE

type key struct {
	name     string
	rawcodes []uint16
}

// Matcher tracks which keys of one combination are held.
type Matcher struct {
	combo   string
	keys    []key
	pressed []bool
}

// Parse builds a matcher for a combination like "Alt+M" or "Ctrl+Shift+F2".
func Parse(combo string) (*Matcher, error) {
	m := &Matcher{combo: combo}
	for _, name := range parseHotkey(combo) {
		codes := keyNameToRawcodes(name)
		if len(codes) == 0 {
			return nil, fmt.Errorf("hotkey %q: unknown key %q", combo, name)
		}
		m.keys = append(m.keys, key{name: name, rawcodes: codes})
	}
	if len(m.keys) == 0 {
		return nil, fmt.Errorf("hotkey %q: no keys", combo)
	}
	m.pressed = make([]bool, len(m.keys))
	return m, nil
}

// Down records a key press and reports whether the whole combination is now
// held. A completed combination resets, so holding it fires once.
func (m *Matcher) Down(rawcode uint16) bool {
	for i, k := range m.keys {
		if k.matches(rawcode) {
			m.pressed[i] = true
		}
	}
	for _, p := range m.pressed {
		if !p {
			return false
		}
	}
	for i := range m.pressed {
		m.pressed[i] = false
	}
	return true
}

func (m *Matcher) Up(rawcode uint16) {
	for i, k := range m.keys {
		if k.matches(rawcode) {
			m.pressed[i] = false
		}
	}
}

func (k key) matches(rawcode uint16) bool {
	for _, c := range k.rawcodes {
		if c == rawcode {
			return true
		}
	}
	return false
}

var (
	stopMu  sync.Mutex
	started bool
)

// Listen registers the global activation combination. onCancel, if set, is
// called for every Escape press; the event loop ignores it unless a gesture
// is in progress.
func Listen(combo string, onActivate, onCancel func()) error {
	m, err := Parse(combo)
	if err != nil {
		return err
	}
	stopMu.Lock()
	started = true
	stopMu.Unlock()
	log.Printf("Hotkey listener configured for: %s", combo)

	evChan := gohook.Start()
	if evChan == nil {
		return fmt.Errorf("gohook.Start() returned nil channel")
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()
		for ev := range evChan {
			switch ev.Kind {
			case gohook.KeyDown:
				if ev.Rawcode == escapeRawcode && onCancel != nil {
					onCancel()
				}
				if m.Down(ev.Rawcode) {
					log.Printf("Hotkey activated: %s", combo)
					if onActivate != nil {
						onActivate()
					}
				}
			case gohook.KeyUp:
				m.Up(ev.Rawcode)
			}
		}
		log.Printf("Hotkey event channel closed")
	}()
	return nil
}

// Stop ends the global hook started by Listen.
func Stop() {
	stopMu.Lock()
	defer stopMu.Unlock()
	if started {
		gohook.End()
		started = false
	}
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(hotkeyConfig string) []string {
	var keys []string
	for _, part := range strings.Split(strings.ToLower(hotkeyConfig), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			part = "ctrl"
		case "win", "super", "meta":
			part = "cmd"
		case "option":
			part = "alt"
		}
		keys = append(keys, part)
	}
	return keys
}

var namedRawcodes = map[string][]uint16{
	// Modifiers: left and right variants.
	"ctrl":  {162, 163},
	"alt":   {164, 165},
	"shift": {160, 161},
	"cmd":   {91, 92},

	"space":     {32},
	"enter":     {13},
	"return":    {13},
	"esc":       {27},
	"escape":    {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"del":       {46},
	"insert":    {45},
	"ins":       {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pgup":      {33},
	"pagedown":  {34},
	"pgdn":      {34},
	"left":      {37},
	"up":        {38},
	"right":     {39},
	"down":      {40},
}

// keyNameToRawcodes maps a key name to its Windows virtual key codes.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	if codes, ok := namedRawcodes[keyName]; ok {
		return codes
	}
	if keyName == "win" || keyName == "super" {
		return namedRawcodes["cmd"]
	}
	if len(keyName) == 1 {
		c := keyName[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(c-'a') + 65}
		case c >= '0' && c <= '9':
			return []uint16{uint16(c-'0') + 48}
		}
	}
	var n int
	if _, err := fmt.Sscanf(keyName, "f%d", &n); err == nil && n >= 1 && n <= 24 && keyName == fmt.Sprintf("f%d", n) {
		return []uint16{uint16(111 + n)} // VK_F1 is 112
	}
	log.Printf("WARNING: Unknown key name '%s', cannot map to rawcode", keyName)
	return nil
}
