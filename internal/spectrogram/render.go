package spectrogram

import (
	"bytes"
	"image"
	"image/png"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// RenderPNG encodes a W×H grayscale grid as a PNG image for the hub's
// spectrograms/ directory. No pack library offers grid-to-PNG rendering;
// image/png is the standard library's own complete solution for this,
// so no third-party encoder is substituted (see DESIGN.md).
func RenderPNG(grid []byte, w, h int) ([]byte, error) {
	if len(grid) != w*h {
		return nil, fgerrors.New(fgerrors.NewStd("grid length does not match dimensions")).
			Category(fgerrors.CategorySpectrogram).
			Context("grid_len", len(grid)).Context("want", w*h).Build()
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, grid)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fgerrors.New(err).Category(fgerrors.CategorySpectrogram).Build()
	}
	return buf.Bytes(), nil
}
