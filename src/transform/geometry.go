package transform

import "math"

// SelectionRect is a drag rectangle in layout-viewport CSS pixels.
type SelectionRect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ViewportState is a single snapshot of the page's viewport metrics. It must be
// read in one go at capture time, never assembled from separate reads.
type ViewportState struct {
	LayoutWidth      float64 `json:"layoutWidth"`
	LayoutHeight     float64 `json:"layoutHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	VisualWidth      float64 `json:"visualViewportWidth"`
	VisualHeight     float64 `json:"visualViewportHeight"`
	VisualScale      float64 `json:"visualViewportScale"`
	VisualOffsetX    float64 `json:"visualViewportOffsetX"`
	VisualOffsetY    float64 `json:"visualViewportOffsetY"`
	// ScreenWidth is the physical screen width in CSS px (screen.availWidth).
	ScreenWidth float64 `json:"screenWidth"`
}

// CropSpec is a rectangle in screenshot pixel space.
type CropSpec struct {
	SrcX      int `json:"srcX"`
	SrcY      int `json:"srcY"`
	SrcWidth  int `json:"srcWidth"`
	SrcHeight int `json:"srcHeight"`
}

// Area returns SrcWidth*SrcHeight.
func (c CropSpec) Area() int { return c.SrcWidth * c.SrcHeight }

// Within reports whether the crop lies inside a naturalWidth x naturalHeight buffer.
func (c CropSpec) Within(naturalWidth, naturalHeight int) bool {
	return c.SrcX >= 0 && c.SrcY >= 0 &&
		c.SrcX+c.SrcWidth <= naturalWidth &&
		c.SrcY+c.SrcHeight <= naturalHeight
}

// Rect is an unclamped rectangle in screenshot pixel space.
type Rect struct {
	X, Y, Width, Height float64
}

// ScaleFactor returns screenshot pixels per visual-viewport pixel. The
// screenshot shows exactly the visual viewport, so its natural width divided
// by the visual viewport width is the only conversion factor needed.
func ScaleFactor(vp ViewportState, naturalWidth int) float64 {
	width := vp.VisualWidth
	if width <= 0 {
		width = vp.LayoutWidth
	}
	if width <= 0 || naturalWidth <= 0 {
		return 1
	}
	return float64(naturalWidth) / width
}

// Project converts a layout-space selection into screenshot space without padding or clamping.
func Project(sel SelectionRect, vp ViewportState, naturalWidth int) Rect {
	k := ScaleFactor(vp, naturalWidth)
	visualX := sel.Left - vp.VisualOffsetX
	visualY := sel.Top - vp.VisualOffsetY
	return Rect{
		X:      visualX * k,
		Y:      visualY * k,
		Width:  sel.Width * k,
		Height: sel.Height * k,
	}
}

// Pad grows r by padding on every side.
func (r Rect) Pad(padding float64) Rect {
	return Rect{
		X:      r.X - padding,
		Y:      r.Y - padding,
		Width:  r.Width + 2*padding,
		Height: r.Height + 2*padding,
	}
}

// Clamp snaps r outward to whole pixels and clips it to the buffer. It never
// fails: a rectangle completely outside collapses to a 1x1 crop on the nearest edge.
func (r Rect) Clamp(naturalWidth, naturalHeight int) CropSpec {
	if naturalWidth <= 0 || naturalHeight <= 0 {
		return CropSpec{}
	}
	x0, x1 := clampSpan(r.X, r.X+r.Width, naturalWidth)
	y0, y1 := clampSpan(r.Y, r.Y+r.Height, naturalHeight)
	return CropSpec{SrcX: x0, SrcY: y0, SrcWidth: x1 - x0, SrcHeight: y1 - y0}
}

func clampSpan(lo, hi float64, limit int) (int, int) {
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return 0, limit
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	start := int(math.Floor(lo))
	end := int(math.Ceil(hi))
	if start < 0 {
		start = 0
	}
	if end > limit {
		end = limit
	}
	if start > limit-1 {
		start = limit - 1
	}
	if end <= start {
		end = start + 1
	}
	return start, end
}

// ComputeCrop maps a selection to a padded, clamped crop of a
// naturalWidth x naturalHeight screenshot.
func ComputeCrop(sel SelectionRect, vp ViewportState, naturalWidth, naturalHeight int, opts Options) CropSpec {
	k := ScaleFactor(vp, naturalWidth)
	return Project(sel, vp, naturalWidth).
		Pad(opts.Padding*k).
		Clamp(naturalWidth, naturalHeight)
}

// OutputSize returns the canvas size for a crop. When the shorter side is
// below minDim the crop is upscaled, keeping its aspect ratio, until the
// shorter side reaches minDim; maxDim caps the longer side.
func OutputSize(crop CropSpec, minDim, maxDim int) (int, int) {
	w, h := crop.SrcWidth, crop.SrcHeight
	if w <= 0 || h <= 0 {
		return w, h
	}
	short := w
	if h < short {
		short = h
	}
	if minDim <= 0 || short >= minDim {
		return w, h
	}
	scale := float64(minDim) / float64(short)
	long := w
	if h > long {
		long = h
	}
	if maxDim > 0 && float64(long)*scale > float64(maxDim) {
		scale = math.Max(1, float64(maxDim)/float64(long))
	}
	outW := int(math.Round(float64(w) * scale))
	outH := int(math.Round(float64(h) * scale))
	if w == short && scale*float64(short) >= float64(minDim) {
		outW = minDim
	}
	if h == short && w != short && scale*float64(short) >= float64(minDim) {
		outH = minDim
	}
	return outW, outH
}
