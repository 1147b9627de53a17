//go:build windows

package notification

import (
	"fmt"
	"unsafe"

	"github.com/go-toast/toast"
	"golang.org/x/sys/windows"
)

const (
	mbOK              = 0x00000000
	mbIconError       = 0x00000010
	mbSetForeground   = 0x00010000
	mbSystemModalFlag = 0x00001000
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procMessageBoxW = user32.NewProc("MessageBoxW")
)

func show(title, text string) error {
	n := toast.Notification{
		AppID:   AppID,
		Title:   title,
		Message: text,
	}
	if err := n.Push(); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

func showBlocking(title, message string) {
	titlePtr, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return
	}
	messagePtr, err := windows.UTF16PtrFromString(message)
	if err != nil {
		return
	}
	procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		uintptr(mbOK|mbIconError|mbSetForeground|mbSystemModalFlag),
	)
}
