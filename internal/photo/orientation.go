// Package photo prepares uploaded images for display: it bakes the EXIF
// orientation into the pixel data and optionally bounds the image size.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

const jpegQuality = 95

// ErrDecode is returned when the bytes are not an image we can decode.
var ErrDecode = errors.New("not a decodable image")

// Orientation is the EXIF orientation tag value (1-8).
type Orientation int

const (
	OrientationNormal     Orientation = 1
	OrientationFlipH      Orientation = 2
	OrientationRotate180  Orientation = 3
	OrientationFlipV      Orientation = 4
	OrientationTranspose  Orientation = 5
	OrientationRotateCW   Orientation = 6
	OrientationTransverse Orientation = 7
	OrientationRotateCCW  Orientation = 8
)

// Normalized is an upright image ready to be stored.
type Normalized struct {
	Data   []byte
	Format string
	Width  int
	Height int
	// Applied is the orientation that was baked into Data.
	Applied Orientation
}

// Ext returns the file extension matching the encoded format.
func (n Normalized) Ext() string {
	switch n.Format {
	case "jpeg":
		return ".jpg"
	case "":
		return ""
	default:
		return "." + n.Format
	}
}

// Normalize decodes raw, applies the transform selected by its orientation
// tag and re-encodes it without metadata. Images without a tag, or with the
// neutral tag, are returned byte for byte.
func Normalize(raw []byte) (Normalized, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	orientation := ReadOrientation(raw)
	if orientation == OrientationNormal {
		bounds := img.Bounds()
		return Normalized{
			Data:    raw,
			Format:  format,
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
			Applied: OrientationNormal,
		}, nil
	}
	out, err := encode(orientation.apply(img), format)
	if err != nil {
		return Normalized{}, err
	}
	out.Applied = orientation
	return out, nil
}

// ReadOrientation returns the orientation tag stored in raw, or
// OrientationNormal when there is none, it is out of range, or the EXIF
// block is malformed.
func ReadOrientation(raw []byte) Orientation {
	payload := exifPayload(raw)
	if payload == nil || !validTIFF(payload) {
		return OrientationNormal
	}
	x, err := exif.Decode(bytes.NewReader(payload))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	value, err := tag.Int(0)
	if err != nil || value < int(OrientationNormal) || value > int(OrientationRotateCCW) {
		return OrientationNormal
	}
	return Orientation(value)
}

// imaging rotates counter-clockwise, so a tag asking for a clockwise
// quarter turn maps to Rotate270.
func (o Orientation) apply(img image.Image) image.Image {
	switch o {
	case OrientationFlipH:
		return imaging.FlipH(img)
	case OrientationRotate180:
		return imaging.Rotate180(img)
	case OrientationFlipV:
		return imaging.FlipV(img)
	case OrientationTranspose:
		return imaging.Transpose(img)
	case OrientationRotateCW:
		return imaging.Rotate270(img)
	case OrientationTransverse:
		return imaging.Transverse(img)
	case OrientationRotateCCW:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

func encode(img image.Image, format string) (Normalized, error) {
	imgFormat, err := imaging.FormatFromExtension(format)
	if err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imgFormat, imaging.JPEGQuality(jpegQuality)); err != nil {
		return Normalized{}, fmt.Errorf("encode %s: %w", format, err)
	}
	bounds := img.Bounds()
	return Normalized{
		Data:   buf.Bytes(),
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
