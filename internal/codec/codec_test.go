package codec

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}
	return img
}

func TestCodec_RoundTripPreservesSize(t *testing.T) {
	c := New(DefaultQuality)

	data, err := c.Encode(testImage(64, 48))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}))

	img, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestCodec_DecodeBase64DataURL(t *testing.T) {
	c := New(90)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(20, 10)))
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	for _, payload := range []string{
		encoded,
		"data:image/png;base64," + encoded,
	} {
		img, err := c.DecodeBase64(payload)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(20, 10), img.Bounds().Size())
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultQuality, c.Quality())

	tests := []struct {
		name    string
		payload string
		reason  DecodeReason
	}{
		{"empty", "", ReasonEmpty},
		{"empty after header", "data:image/jpeg;base64,", ReasonEmpty},
		{"bad base64", "!!!not base64!!!", ReasonBase64},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello world")), ReasonFormat},
		{"truncated jpeg", base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}), ReasonImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeBase64(tt.payload)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.reason, de.Reason)
		})
	}
}

func TestCodec_EncodeNil(t *testing.T) {
	_, err := New(85).Encode(nil)
	assert.Error(t, err)
}
