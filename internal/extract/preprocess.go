package extract

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// downscale bounds the longest edge of oversized photos before they are
// base64-encoded into the model request. Bytes that do not decode as an
// image pass through untouched so the backend still gets a chance at them.
func downscale(data []byte, maxDim int) []byte {
	if maxDim <= 0 {
		return data
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return data
	}
	img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data
	}
	return buf.Bytes()
}
