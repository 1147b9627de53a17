// Package settings is the credential window: enter the API key, check it
// against the API and store it.
package settings

import (
	"context"
	"log"
	"os"
	"os/exec"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"manga-dissector/src/credential"
)

const validateTimeout = 15 * time.Second

// Form holds the window logic without the widgets so it can be tested.
type Form struct {
	Store     credential.Store
	Validator credential.Validator
}

// Submit validates key and stores it. It returns the status line to show
// and whether the key was saved.
func (f Form) Submit(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := credential.Save(ctx, f.Store, f.Validator, key); err != nil {
		return err.Error(), false
	}
	return "API key saved", true
}

// Current returns the stored key, or "".
func (f Form) Current() string {
	key, err := f.Store.Get()
	if err != nil {
		log.Printf("settings: reading stored key: %v", err)
	}
	return key
}

// Show runs the settings window until it is closed. It owns the calling
// goroutine, which must be the main one.
func Show(f Form) {
	a := app.NewWithID("io.github.manga-dissector")
	w := a.NewWindow("Manga Dissector Settings")

	entry := widget.NewPasswordEntry()
	entry.SetPlaceHolder("sk-...")
	entry.SetText(f.Current())

	reveal := widget.NewCheck("Show key", func(on bool) {
		entry.Password = !on
		entry.Refresh()
	})
	status := widget.NewLabel("")
	status.Wrapping = fyne.TextWrapWord

	var save *widget.Button
	save = widget.NewButton("Save", func() {
		key := entry.Text
		save.Disable()
		status.SetText("Validating...")
		go func() {
			msg, ok := f.Submit(context.Background(), key)
			log.Printf("settings: save result ok=%v", ok)
			fyne.Do(func() {
				status.SetText(msg)
				save.Enable()
			})
		}()
	})
	entry.OnSubmitted = func(string) { save.OnTapped() }

	w.SetContent(container.NewVBox(
		widget.NewLabel("OpenAI API key"),
		entry,
		reveal,
		container.NewHBox(save, widget.NewButton("Close", w.Close)),
		status,
	))
	w.Resize(fyne.NewSize(420, 200))
	w.CenterOnScreen()
	w.ShowAndRun()
}

// Spawn opens the settings window in a separate process so it does not
// compete with the tray for the main thread. The key path and env file
// overrides are passed on so the child writes where the resident reads.
func Spawn(apiKeyPath, envFile string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, spawnArgs(apiKeyPath, envFile)...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("settings: window exited: %v", err)
		}
	}()
	return nil
}

func spawnArgs(apiKeyPath, envFile string) []string {
	args := []string{"settings"}
	if apiKeyPath != "" {
		args = append(args, "--api-key-path", apiKeyPath)
	}
	if envFile != "" {
		args = append(args, "--env", envFile)
	}
	return args
}
