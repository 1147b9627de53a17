package screenshot

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestCapture(t *testing.T) {
	if os.Getenv("MANGA_DISSECTOR_DISPLAY_TESTS") != "1" {
		t.Skip("set MANGA_DISSECTOR_DISPLAY_TESTS=1 to capture the real display")
	}
	img, err := Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if img.Bounds().Empty() {
		t.Error("empty capture")
	}

	d := Desktop{}
	data, err := d.CaptureTab(context.Background())
	if err != nil || len(data) == 0 {
		t.Fatalf("CaptureTab: %d bytes, %v", len(data), err)
	}
	vp, err := d.Viewport(context.Background())
	if err != nil || vp.VisualWidth <= 0 {
		t.Fatalf("Viewport: %+v, %v", vp, err)
	}
}

func TestGetDisplayBoundsOutOfRange(t *testing.T) {
	if _, err := GetDisplayBounds(-1); err == nil {
		t.Error("expected error for display -1")
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	if _, err := (Static{}).CaptureTab(ctx); !errors.Is(err, ErrNoData) {
		t.Errorf("empty static capture: %v, want ErrNoData", err)
	}
	boom := errors.New("tab closed")
	if _, err := (Static{Data: []byte{1}, Err: boom}).CaptureTab(ctx); !errors.Is(err, boom) {
		t.Errorf("static error not returned: %v", err)
	}
	s := Static{Data: []byte{1, 2}, State: FlatViewport(800, 600)}
	data, err := s.CaptureTab(ctx)
	if err != nil || len(data) != 2 {
		t.Errorf("CaptureTab = %v, %v", data, err)
	}
	vp, _ := s.Viewport(ctx)
	if vp.VisualWidth != 800 || vp.LayoutHeight != 600 || vp.VisualScale != 1 || vp.DevicePixelRatio != 1 {
		t.Errorf("unexpected flat viewport %+v", vp)
	}
}
