// Package phototest builds small encoded images for tests, optionally
// carrying an EXIF orientation tag.
package phototest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

var (
	Red    = color.RGBA{R: 255, A: 255}
	Green  = color.RGBA{G: 255, A: 255}
	Blue   = color.RGBA{B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
)

// Quadrants returns a w×h image painted red (top-left), green (top-right),
// blue (bottom-left) and yellow (bottom-right).
func Quadrants(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.RGBA
			switch {
			case x < w/2 && y < h/2:
				c = Red
			case y < h/2:
				c = Green
			case x < w/2:
				c = Blue
			default:
				c = Yellow
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// JPEG encodes img at full quality.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes img losslessly.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WithOrientation splices an APP1 EXIF segment holding a single orientation
// entry right after the JPEG start-of-image marker.
func WithOrientation(jpg []byte, orientation uint16) []byte {
	return WithEXIFEntry(jpg, 0x0112, 3, 1, uint32(orientation)<<16)
}

// WithEXIFEntry splices an APP1 EXIF segment whose IFD0 holds one raw entry.
// value is the big-endian value/offset field, so a SHORT sits in the high
// half. Nothing is validated: callers use it to build corrupt metadata.
func WithEXIFEntry(jpg []byte, tag, kind uint16, count, value uint32) []byte {
	tiff := []byte{
		'M', 'M', 0x00, 0x2A, // big-endian TIFF header
		0x00, 0x00, 0x00, 0x08, // IFD0 offset
		0x00, 0x01, // one entry
		byte(tag >> 8), byte(tag),
		byte(kind >> 8), byte(kind),
		byte(count >> 24), byte(count >> 16), byte(count >> 8), byte(count),
		byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segmentLen := len(payload) + 2
	out := make([]byte, 0, len(jpg)+segmentLen+2)
	out = append(out, jpg[:2]...)
	out = append(out, 0xFF, 0xE1, byte(segmentLen>>8), byte(segmentLen))
	out = append(out, payload...)
	return append(out, jpg[2:]...)
}

// Nearest reports which of the four quadrant colors c is closest to.
func Nearest(c color.Color) color.RGBA {
	r, g, b, _ := c.RGBA()
	best := Red
	bestDist := -1
	for _, candidate := range []color.RGBA{Red, Green, Blue, Yellow} {
		dr := int(r>>8) - int(candidate.R)
		dg := int(g>>8) - int(candidate.G)
		db := int(b>>8) - int(candidate.B)
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best
}

// Corners samples the center of each quadrant of img in the order
// top-left, top-right, bottom-left, bottom-right.
func Corners(img image.Image) [4]color.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	at := func(x, y int) color.RGBA { return Nearest(img.At(b.Min.X+x, b.Min.Y+y)) }
	return [4]color.RGBA{
		at(w/4, h/4),
		at(3*w/4, h/4),
		at(w/4, 3*h/4),
		at(3*w/4, 3*h/4),
	}
}
