package notification

import "log"

const AppID = "Manga Dissector"

// Desktop is a popup.Display backed by the operating system's notifications.
// System notifications expire on their own, so HideToast does nothing.
type Desktop struct{}

func (Desktop) ShowToast(id int, msg string) error {
	displayText := msg
	if len(msg) > 200 {
		displayText = msg[:200] + "..."
	}
	return show(AppID, displayText)
}

func (Desktop) HideToast(id int) error { return nil }

// ShowBlockingError reports a fatal startup problem to a user who may not
// have a console.
func ShowBlockingError(title, message string) {
	log.Printf("%s: %s", title, message)
	showBlocking(title, message)
}
