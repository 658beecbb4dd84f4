package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageDecodesPNG(t *testing.T) {
	img, err := Image(encodePNG(t, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
}

func TestImageRejectsGarbage(t *testing.T) {
	_, err := Image([]byte("definitely not an image"))
	assert.Error(t, err)

	_, err = Image(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPixelBytes(t *testing.T) {
	assert.Equal(t, int64(4*3*4), PixelBytes(image.NewRGBA(image.Rect(0, 0, 4, 3))))
	assert.Equal(t, int64(4*3), PixelBytes(image.NewGray(image.Rect(0, 0, 4, 3))))
	assert.Equal(t, int64(4*3*8), PixelBytes(image.NewRGBA64(image.Rect(0, 0, 4, 3))))

	ycc := image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio420)
	assert.Equal(t, int64(16+4+4), PixelBytes(ycc))

	assert.Equal(t, int64(0), PixelBytes(nil))
}

func TestPixelBytesMatchesDecodedPNG(t *testing.T) {
	img, err := Image(encodePNG(t, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(10*10*4), PixelBytes(img))
}
