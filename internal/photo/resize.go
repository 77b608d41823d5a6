package photo

import (
	"bytes"
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Fit downscales n so that neither edge exceeds maxDim, keeping the aspect
// ratio. maxDim <= 0 disables the bound.
func Fit(n Normalized, maxDim int) (Normalized, error) {
	if maxDim <= 0 || (n.Width <= maxDim && n.Height <= maxDim) {
		return n, nil
	}
	img, _, err := image.Decode(bytes.NewReader(n.Data))
	if err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	scaled := resize.Thumbnail(uint(maxDim), uint(maxDim), img, resize.Lanczos3)
	out, err := encode(scaled, n.Format)
	if err != nil {
		return Normalized{}, err
	}
	out.Applied = n.Applied
	return out, nil
}
