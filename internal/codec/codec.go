// Package codec converts between in-memory frames and JPEG bytes.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// Register PNG and GIF decoders so uploaded stills in those formats decode too
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// DefaultQuality is the JPEG quality used when none is configured
const DefaultQuality = 85

// DecodeReason says which stage of decoding failed
type DecodeReason string

const (
	ReasonEmpty  DecodeReason = "empty"
	ReasonBase64 DecodeReason = "base64"
	ReasonFormat DecodeReason = "format" // Not a recognised image format
	ReasonImage  DecodeReason = "image"  // Recognised but corrupt
)

// DecodeError reports input that could not be turned into a frame
type DecodeError struct {
	Reason DecodeReason
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image (%s): %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec encodes frames as baseline JPEG and decodes uploaded images
type Codec struct {
	quality int
}

// New creates a codec. Quality outside 1..100 falls back to DefaultQuality.
func New(quality int) *Codec {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Codec{quality: quality}
}

// Quality returns the JPEG quality in use
func (c *Codec) Quality() int {
	return c.quality
}

// Encode implements pipeline.Encoder
func (c *Codec) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes JPEG, PNG or GIF bytes, applying EXIF orientation
func (c *Codec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: ReasonEmpty, Err: errors.New("no image data")}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, &DecodeError{Reason: ReasonFormat, Err: err}
		}
		return nil, &DecodeError{Reason: ReasonImage, Err: err}
	}
	return img, nil
}

// DecodeBase64 decodes a base64 image, optionally wrapped in a data URL
// such as "data:image/jpeg;base64,...".
func (c *Codec) DecodeBase64(payload string) (image.Image, error) {
	raw, err := DecodeBase64Payload(payload)
	if err != nil {
		return nil, err
	}
	return c.Decode(raw)
}

// DecodeBase64Payload strips an optional data URL header and returns the
// decoded bytes.
func DecodeBase64Payload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}
	if payload == "" {
		return nil, &DecodeError{Reason: ReasonEmpty, Err: errors.New("no image data")}
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip the padding
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, &DecodeError{Reason: ReasonBase64, Err: err}
		}
	}
	return raw, nil
}
