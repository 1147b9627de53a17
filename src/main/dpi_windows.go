//go:build windows

package main

import (
	"log"

	"golang.org/x/sys/windows"
)

// DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2
const perMonitorAwareV2 = ^uintptr(3)

// enableDPIAwareness keeps tray and toast rendering crisp on scaled displays.
func enableDPIAwareness() {
	user32 := windows.NewLazySystemDLL("user32.dll")
	setContext := user32.NewProc("SetProcessDpiAwarenessContext")
	if err := setContext.Find(); err == nil {
		if ret, _, _ := setContext.Call(perMonitorAwareV2); ret != 0 {
			log.Printf("DPI: per-monitor v2 awareness set")
			return
		}
	}

	shcore := windows.NewLazySystemDLL("Shcore.dll")
	setAwareness := shcore.NewProc("SetProcessDpiAwareness")
	const processPerMonitorDPIAware = 2
	if err := setAwareness.Find(); err == nil {
		ret, _, _ := setAwareness.Call(processPerMonitorDPIAware)
		if ret == 0 {
			log.Printf("DPI: per-monitor awareness set")
		} else {
			log.Printf("DPI: SetProcessDpiAwareness failed, error code: %d", ret)
		}
		return
	}
	log.Printf("DPI: no awareness API available")
}
