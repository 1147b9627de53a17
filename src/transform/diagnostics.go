package transform

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"
)

// Diagnostics receives every crop for optional inspection. It is not part of
// the transform contract and must not fail the caller.
type Diagnostics interface {
	Crop(full image.Image, crop CropSpec, out image.Image)
}

// Nop discards diagnostics.
type Nop struct{}

func (Nop) Crop(image.Image, CropSpec, image.Image) {}

const previewDivisor = 4

// DirDiagnostics writes a quarter-scale preview of the screenshot with the
// crop outlined in red, plus the crop itself, into Dir.
type DirDiagnostics struct {
	Dir string
	now func() time.Time
}

// NewDirDiagnostics returns diagnostics writing into dir.
func NewDirDiagnostics(dir string) *DirDiagnostics {
	return &DirDiagnostics{Dir: dir, now: time.Now}
}

func (d *DirDiagnostics) Crop(full image.Image, crop CropSpec, out image.Image) {
	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		log.Printf("diagnostics: cannot create %s: %v", d.Dir, err)
		return
	}
	stamp := d.now().Format("20060102_150405.000")

	preview := Preview(full, crop)
	d.write(filepath.Join(d.Dir, fmt.Sprintf("crop_%s_preview.png", stamp)), preview)
	d.write(filepath.Join(d.Dir, fmt.Sprintf("crop_%s_%dx%d.png", stamp, out.Bounds().Dx(), out.Bounds().Dy())), out)
}

func (d *DirDiagnostics) write(path string, img image.Image) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		log.Printf("diagnostics: %v", err)
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		log.Printf("diagnostics: encode %s: %v", path, err)
		return
	}
	log.Printf("diagnostics: wrote %s", path)
}

// Preview renders the screenshot at quarter scale with the crop outlined.
func Preview(full image.Image, crop CropSpec) *image.RGBA {
	b := full.Bounds()
	w := max(1, b.Dx()/previewDivisor)
	h := max(1, b.Dy()/previewDivisor)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), full, b, draw.Src, nil)

	red := color.RGBA{R: 255, A: 255}
	x0 := crop.SrcX / previewDivisor
	y0 := crop.SrcY / previewDivisor
	x1 := (crop.SrcX + crop.SrcWidth) / previewDivisor
	y1 := (crop.SrcY + crop.SrcHeight) / previewDivisor
	for t := 0; t < 3; t++ {
		for x := x0; x <= x1; x++ {
			setIn(dst, x, y0+t, red)
			setIn(dst, x, y1-t, red)
		}
		for y := y0; y <= y1; y++ {
			setIn(dst, x0+t, y, red)
			setIn(dst, x1-t, y, red)
		}
	}
	return dst
}

func setIn(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
