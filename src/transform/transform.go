package transform

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"

	// Screenshot buffers may arrive as PNG (CDP, display capture), JPEG, WebP or BMP.
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the screenshot buffer cannot be decoded. It is
// the only way the transformer fails.
var ErrDecode = errors.New("failed to load screenshot")

const (
	DefaultPadding      = 5
	DefaultMinDimension = 200
	DefaultMaxDimension = 4096
	DefaultQuality      = 95
)

// Options tunes the crop. Padding is in visual-viewport pixels and is scaled
// to screenshot pixels; it is not proportional to the selection.
type Options struct {
	Padding      float64
	MinDimension int
	MaxDimension int
	Quality      int
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		Padding:      DefaultPadding,
		MinDimension: DefaultMinDimension,
		MaxDimension: DefaultMaxDimension,
		Quality:      DefaultQuality,
	}
}

func (o Options) withDefaults() Options {
	if o.Padding < 0 {
		o.Padding = 0
	}
	if o.MinDimension < 0 {
		o.MinDimension = 0
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// Output is the encoded crop handed to the analysis collaborator.
type Output struct {
	Crop     CropSpec
	Width    int
	Height   int
	Data     []byte
	MimeType string
}

// DataURL returns the output as a base64 data URL.
func (o *Output) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", o.MimeType, base64.StdEncoding.EncodeToString(o.Data))
}

// SizeKB approximates the payload size in kilobytes.
func (o *Output) SizeKB() int { return (len(o.Data) + 512) / 1024 }

// Transformer turns a full-tab screenshot plus a selection into an OCR-ready image.
type Transformer struct {
	opts Options
	diag Diagnostics
}

// New creates a Transformer. A nil diag disables diagnostics.
func New(opts Options, diag Diagnostics) *Transformer {
	if diag == nil {
		diag = Nop{}
	}
	return &Transformer{opts: opts.withDefaults(), diag: diag}
}

// Options returns the effective options.
func (t *Transformer) Options() Options { return t.opts }

// Transform decodes a screenshot buffer and crops it to the selection.
func (t *Transformer) Transform(screenshot []byte, sel SelectionRect, vp ViewportState) (*Output, error) {
	img, format, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	log.Printf("transform: decoded %s screenshot %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())
	return t.TransformImage(img, sel, vp)
}

// TransformImage crops an already decoded screenshot.
func (t *Transformer) TransformImage(img image.Image, sel SelectionRect, vp ViewportState) (*Output, error) {
	b := img.Bounds()
	naturalW, naturalH := b.Dx(), b.Dy()
	if naturalW <= 0 || naturalH <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	k := ScaleFactor(vp, naturalW)
	crop := ComputeCrop(sel, vp, naturalW, naturalH, t.opts)
	outW, outH := OutputSize(crop, t.opts.MinDimension, t.opts.MaxDimension)

	log.Printf("transform: layout=%.0fx%.0f visual=%.0fx%.0f@%.2f offset=(%.0f,%.0f) dpr=%.2f k=%.3f",
		vp.LayoutWidth, vp.LayoutHeight, vp.VisualWidth, vp.VisualHeight, vp.VisualScale,
		vp.VisualOffsetX, vp.VisualOffsetY, vp.DevicePixelRatio, k)
	log.Printf("transform: selection=(%.0f,%.0f %.0fx%.0f) crop=(%d,%d %dx%d) canvas=%dx%d",
		sel.Left, sel.Top, sel.Width, sel.Height, crop.SrcX, crop.SrcY, crop.SrcWidth, crop.SrcHeight, outW, outH)

	src := image.Rect(b.Min.X+crop.SrcX, b.Min.Y+crop.SrcY, b.Min.X+crop.SrcX+crop.SrcWidth, b.Min.Y+crop.SrcY+crop.SrcHeight)
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	if outW == crop.SrcWidth && outH == crop.SrcHeight {
		draw.Copy(dst, image.Point{}, img, src, draw.Src, nil)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: t.opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode crop as JPEG: %w", err)
	}

	t.diag.Crop(img, crop, dst)

	return &Output{
		Crop:     crop,
		Width:    outW,
		Height:   outH,
		Data:     buf.Bytes(),
		MimeType: "image/jpeg",
	}, nil
}
