package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetection_Box(t *testing.T) {
	tests := []struct {
		name    string
		det     Detection
		wantErr bool
	}{
		{
			name: "complete",
			det:  Detection{Class: "glove", Confidence: Float64(0.9), X: Float64(10), Y: Float64(20), Width: Float64(30), Height: Float64(40)},
		},
		{
			name:    "missing confidence",
			det:     Detection{Class: "glove", X: Float64(10), Y: Float64(20), Width: Float64(30), Height: Float64(40)},
			wantErr: true,
		},
		{
			name:    "missing width",
			det:     Detection{Class: "glove", Confidence: Float64(0.9), X: Float64(10), Y: Float64(20), Height: Float64(40)},
			wantErr: true,
		},
		{
			name:    "negative height",
			det:     Detection{Confidence: Float64(0.9), X: Float64(10), Y: Float64(20), Width: Float64(30), Height: Float64(-1)},
			wantErr: true,
		},
		{
			name:    "nan x",
			det:     Detection{Confidence: Float64(0.9), X: Float64(math.NaN()), Y: Float64(20), Width: Float64(30), Height: Float64(40)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := tt.det.Box()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedDetection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Box{X: 10, Y: 20, Width: 30, Height: 40, Confidence: 0.9}, box)
		})
	}
}

func TestDetection_Label(t *testing.T) {
	assert.Equal(t, "unknown", Detection{}.Label())
	assert.Equal(t, "head", Detection{Class: "head"}.Label())
}

func TestInferenceError_Retryable(t *testing.T) {
	assert.True(t, (&InferenceError{Kind: InferenceUnavailable}).Retryable())
	assert.True(t, (&InferenceError{Kind: InferenceStatus, StatusCode: 503}).Retryable())
	assert.False(t, (&InferenceError{Kind: InferenceStatus, StatusCode: 401}).Retryable())
	assert.False(t, (&InferenceError{Kind: InferenceMalformed}).Retryable())
	assert.False(t, (&InferenceError{Kind: InferenceTimeout}).Retryable())
}
