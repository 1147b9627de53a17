package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
)

// iconPNG draws the tray icon: a dashed selection frame over a speech bubble.
func iconPNG(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	frame := color.NRGBA{0x00, 0x78, 0xd4, 0xff}
	bubble := color.NRGBA{0xf5, 0xf5, 0xf5, 0xff}
	ink := color.NRGBA{0x33, 0x33, 0x33, 0xff}

	m := size / 8
	for y := 2 * m; y < size-2*m; y++ {
		for x := m + m/2; x < size-m-m/2; x++ {
			img.Set(x, y, bubble)
		}
	}
	// Two strokes standing in for kana.
	for y := 3 * m; y < size-3*m; y++ {
		img.Set(size/2-m/2, y, ink)
		img.Set(size/2+m/2, y, ink)
	}
	for i := 0; i < size; i++ {
		if (i/2)%2 == 1 {
			continue
		}
		img.Set(i, 0, frame)
		img.Set(i, size-1, frame)
		img.Set(0, i, frame)
		img.Set(size-1, i, frame)
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// icoFromPNG wraps a PNG in a single-image ICO container, which is what the
// Windows tray expects.
func icoFromPNG(p []byte, size int) []byte {
	var buf bytes.Buffer
	dim := byte(size)
	if size >= 256 {
		dim = 0
	}
	binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	buf.Write([]byte{dim, dim, 0, 0})
	binary.Write(&buf, binary.LittleEndian, [2]uint16{1, 32})
	binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(len(p)), 22})
	buf.Write(p)
	return buf.Bytes()
}

// Icon returns the tray icon in the format the platform's tray wants.
func Icon() []byte {
	const size = 32
	p := iconPNG(size)
	if runtime.GOOS == "windows" {
		return icoFromPNG(p, size)
	}
	return p
}
