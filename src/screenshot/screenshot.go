package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"

	"manga-dissector/src/transform"
)

// ErrNoData is returned when the capture collaborator answers without an image.
var ErrNoData = errors.New("Failed to capture screenshot")

// Capturer returns one encoded screenshot of everything visible in the tab.
type Capturer interface {
	CaptureTab(ctx context.Context) ([]byte, error)
}

// ViewportSource reads the viewport metrics in a single step.
type ViewportSource interface {
	Viewport(ctx context.Context) (transform.ViewportState, error)
}

// Source is both halves of the capture collaborator.
type Source interface {
	Capturer
	ViewportSource
}

// Capture captures the entire virtual screen across all active displays
func Capture() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return screenshot.CaptureRect(union)
}

// GetDisplayBounds returns the bounds of display n.
func GetDisplayBounds(n int) (image.Rectangle, error) {
	count := screenshot.NumActiveDisplays()
	if count == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	if n < 0 || n >= count {
		return image.Rectangle{}, fmt.Errorf("display %d out of range (have %d)", n, count)
	}
	return screenshot.GetDisplayBounds(n), nil
}

// Desktop treats one physical display as the tab. Selections are then in
// display pixels and the viewport is never pinch-zoomed.
type Desktop struct {
	Display int
}

func (d Desktop) CaptureTab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds, err := GetDisplayBounds(d.Display)
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", d.Display, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func (d Desktop) Viewport(ctx context.Context) (transform.ViewportState, error) {
	bounds, err := GetDisplayBounds(d.Display)
	if err != nil {
		return transform.ViewportState{}, err
	}
	return FlatViewport(bounds.Dx(), bounds.Dy()), nil
}

// FlatViewport is the viewport of an unzoomed w x h surface at 1 device pixel per CSS pixel.
func FlatViewport(w, h int) transform.ViewportState {
	return transform.ViewportState{
		LayoutWidth:      float64(w),
		LayoutHeight:     float64(h),
		DevicePixelRatio: 1,
		VisualWidth:      float64(w),
		VisualHeight:     float64(h),
		VisualScale:      1,
		ScreenWidth:      float64(w),
	}
}

// Static replays a saved screenshot and viewport. The offline CLI and tests use it.
type Static struct {
	Data  []byte
	State transform.ViewportState
	Err   error
}

func (s Static) CaptureTab(ctx context.Context) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Data) == 0 {
		return nil, ErrNoData
	}
	return s.Data, nil
}

func (s Static) Viewport(ctx context.Context) (transform.ViewportState, error) {
	return s.State, nil
}
