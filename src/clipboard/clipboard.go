package clipboard

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

var (
	writeMu  sync.Mutex
	initOnce sync.Once
	initErr  error
)

// Init prepares the system clipboard. Write calls it on first use.
func Init() error {
	initOnce.Do(func() {
		initErr = clipboard.Init()
	})
	return initErr
}

// Write copies text to the clipboard. Writes are serialized so a translation
// delivered to the clipboard and a delegated client never interleave.
func Write(text string) error {
	if err := Init(); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
