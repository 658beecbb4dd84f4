// Package decode turns encoded image bytes into decoded images and reports
// their in-memory footprint.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmpty is returned for zero-length input.
var ErrEmpty = errors.New("decode: empty image data")

// Func decodes encoded bytes into an image.
type Func func(data []byte) (image.Image, error)

// Image decodes data in any registered format.
func Image(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("decode %s image: empty bounds", format)
	}
	return img, nil
}

// PixelBytes returns the bytes held by the decoded pixels of img.
func PixelBytes(img image.Image) int64 {
	if img == nil {
		return 0
	}
	switch m := img.(type) {
	case *image.RGBA:
		return int64(len(m.Pix))
	case *image.NRGBA:
		return int64(len(m.Pix))
	case *image.RGBA64:
		return int64(len(m.Pix))
	case *image.NRGBA64:
		return int64(len(m.Pix))
	case *image.Gray:
		return int64(len(m.Pix))
	case *image.Gray16:
		return int64(len(m.Pix))
	case *image.Alpha:
		return int64(len(m.Pix))
	case *image.Paletted:
		return int64(len(m.Pix)) + int64(len(m.Palette))*4
	case *image.CMYK:
		return int64(len(m.Pix))
	case *image.YCbCr:
		return int64(len(m.Y) + len(m.Cb) + len(m.Cr))
	case *image.NYCbCrA:
		return int64(len(m.Y) + len(m.Cb) + len(m.Cr) + len(m.A))
	}
	// unknown layouts are accounted as 32-bit ARGB
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
