//go:build !windows

package notification

import "log"

func show(title, text string) error {
	log.Printf("%s: %s", title, text)
	return nil
}

func showBlocking(title, message string) {}
