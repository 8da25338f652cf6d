package services

import (
	"context"
	"log"
	"time"

	goa "goa.design/goa/v3/pkg"

	"ringside/internal/codec"
	"ringside/internal/pipeline"
)

// FrameImplementation runs single-shot detection on uploaded frames
type FrameImplementation struct {
	client  pipeline.InferenceClient
	codec   *codec.Codec
	timeout time.Duration
}

// NewFrameService creates a new frame service implementation
func NewFrameService(client pipeline.InferenceClient, c *codec.Codec, timeout time.Duration) *FrameImplementation {
	if timeout <= 0 {
		timeout = pipeline.DefaultInferenceTimeout
	}
	return &FrameImplementation{
		client:  client,
		codec:   c,
		timeout: timeout,
	}
}

// ProcessFrame decodes a base64 image, re-encodes it as JPEG and returns
// the detections. Invalid input never reaches the inference client.
func (f *FrameImplementation) ProcessFrame(ctx context.Context, p *ProcessFramePayload) (*ProcessFrameResult, error) {
	if p == nil || p.Image == nil || *p.Image == "" {
		return nil, goa.MissingFieldError("image", "body")
	}

	img, err := f.codec.DecodeBase64(*p.Image)
	if err != nil {
		return nil, err
	}

	detections, err := f.detect(ctx, img.Bounds().Dx(), img.Bounds().Dy(), func() ([]byte, error) {
		return f.codec.Encode(img)
	})
	if err != nil {
		return nil, err
	}
	return &ProcessFrameResult{Detections: detections}, nil
}

// UploadFrame runs detection on the raw bytes of an uploaded image file
func (f *FrameImplementation) UploadFrame(ctx context.Context, data []byte) (*UploadFrameResult, error) {
	img, err := f.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	detections, err := f.detect(ctx, img.Bounds().Dx(), img.Bounds().Dy(), func() ([]byte, error) {
		return f.codec.Encode(img)
	})
	if err != nil {
		return nil, err
	}
	return &UploadFrameResult{Predictions: detections}, nil
}

func (f *FrameImplementation) detect(ctx context.Context, width, height int, encode func() ([]byte, error)) (pipeline.DetectionSet, error) {
	jpeg, err := encode()
	if err != nil {
		return nil, &codec.DecodeError{Reason: codec.ReasonImage, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	detections, err := f.client.Infer(ctx, jpeg)
	if err != nil {
		ie := pipeline.AsInferenceError(err)
		log.Printf("[FrameService] Inference failed for %dx%d frame: %v", width, height, ie)
		return nil, ie
	}

	log.Printf("[FrameService] %d detections on %dx%d frame in %v", len(detections), width, height, time.Since(start).Round(time.Millisecond))
	if detections == nil {
		detections = pipeline.DetectionSet{}
	}
	return detections, nil
}
