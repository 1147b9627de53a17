package tooltip

import (
	"math"

	"manga-dissector/src/transform"
)

type Point struct{ X, Y float64 }

type Size struct{ Width, Height float64 }

// Anchor is the bottom-centre of the selection.
func Anchor(sel transform.SelectionRect) Point {
	return Point{X: sel.Left + sel.Width/2, Y: sel.Top + sel.Height}
}

// Place positions a panel of the given on-screen size below the anchor,
// clamped horizontally into the viewport and flipped above the anchor when it
// would overflow the bottom edge.
func Place(anchor Point, size Size, viewportW, viewportH float64, opts Options) Point {
	x := anchor.X - size.Width/2
	y := anchor.Y + opts.Gap

	if x < opts.Margin {
		x = opts.Margin
	}
	if x+size.Width > viewportW-opts.Margin {
		x = viewportW - size.Width - opts.Margin
	}
	if y+size.Height > viewportH-opts.Margin {
		y = anchor.Y - size.Height - opts.Gap
	}
	return Point{X: x, Y: y}
}

// ZoomScale returns the inverse scale that keeps the panel's on-screen size
// constant under browser zoom, or 1 when zoom is at or below threshold.
func ZoomScale(vp transform.ViewportState, threshold float64) float64 {
	if vp.ScreenWidth <= 0 || vp.LayoutWidth <= 0 {
		return 1
	}
	zoom := math.Round(vp.ScreenWidth/vp.LayoutWidth*100) / 100
	if zoom > threshold {
		return 1 / zoom
	}
	return 1
}

// clampDrag keeps the whole panel inside the viewport.
func clampDrag(p Point, size Size, viewportW, viewportH float64) Point {
	return Point{
		X: math.Max(0, math.Min(p.X, viewportW-size.Width)),
		Y: math.Max(0, math.Min(p.Y, viewportH-size.Height)),
	}
}
