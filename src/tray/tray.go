package tray

import (
	"log"
	"sync"

	"github.com/getlantern/systray"
)

const title = "Manga Dissector"

// Actions are the menu callbacks. They run on the tray goroutine and must
// only post into the event loop.
type Actions struct {
	Select   func()
	Settings func()
	Quit     func()
}

var (
	mu         sync.Mutex
	ready      bool
	aboutExtra string
	aboutItem  *systray.MenuItem
)

// Run blocks running the tray until Quit. Call it from the main goroutine.
func Run(actions Actions, onExit func()) {
	systray.Run(func() { onReady(actions) }, func() {
		log.Printf("tray: exiting")
		if onExit != nil {
			onExit()
		}
	})
}

// Quit stops Run.
func Quit() { systray.Quit() }

func onReady(actions Actions) {
	systray.SetIcon(Icon())
	systray.SetTitle(title)
	systray.SetTooltip(title)

	mSelect := systray.AddMenuItem("Select region", "Drag a rectangle over Japanese text")
	mSettings := systray.AddMenuItem("Settings", "Set the API key")
	systray.AddSeparator()
	mAbout := systray.AddMenuItem(title, "")
	mAbout.Disable()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	mu.Lock()
	ready = true
	aboutItem = mAbout
	if aboutExtra != "" {
		mAbout.SetTitle(title + " (" + aboutExtra + ")")
	}
	mu.Unlock()

	go func() {
		for {
			select {
			case <-mSelect.ClickedCh:
				call(actions.Select)
			case <-mSettings.ClickedCh:
				call(actions.Settings)
			case <-mQuit.ClickedCh:
				call(actions.Quit)
				systray.Quit()
				return
			}
		}
	}()
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

// UpdateTooltip sets the tray hover text. It is a no-op before the tray is up.
func UpdateTooltip(text string) {
	mu.Lock()
	defer mu.Unlock()
	if ready {
		systray.SetTooltip(text)
	}
}

// SetAboutExtra appends detail (the resident port) to the disabled about item.
func SetAboutExtra(extra string) {
	mu.Lock()
	defer mu.Unlock()
	aboutExtra = extra
	if aboutItem != nil {
		aboutItem.SetTitle(title + " (" + extra + ")")
	}
}
