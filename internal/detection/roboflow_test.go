package detection

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringside/internal/pipeline"
)

const samplePrediction = `{
	"time": 0.041,
	"image": {"width": "640", "height": "480"},
	"predictions": [
		{"x": 320.5, "y": 240, "width": 80, "height": 120, "confidence": 0.87, "class": "glove", "class_id": 1, "detection_id": "a1"},
		{"x": 10, "y": 20, "class": "head"}
	]
}`

func TestRoboflowClient_Infer(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/boxing-lelg6/3", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "40", r.URL.Query().Get("confidence"))
		assert.Equal(t, "30", r.URL.Query().Get("overlap"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, base64.StdEncoding.EncodeToString(jpeg), string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePrediction))
	}))
	defer srv.Close()

	c := NewRoboflowClient(Config{Endpoint: srv.URL + "/", APIKey: "secret", Confidence: 40, Overlap: 30})
	dets, err := c.Infer(context.Background(), jpeg)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, "glove", dets[0].Class)
	require.NotNil(t, dets[0].X)
	assert.Equal(t, 320.5, *dets[0].X)
	require.NotNil(t, dets[0].ClassID)
	assert.Equal(t, 1, *dets[0].ClassID)

	// Incomplete records are passed through for the annotator to reject
	assert.Nil(t, dets[1].Width)
	assert.Nil(t, dets[1].Confidence)
	_, err = dets[1].Box()
	assert.ErrorIs(t, err, pipeline.ErrMalformedDetection)
}

func TestRoboflowClient_EmptyPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions": []}`))
	}))
	defer srv.Close()

	dets, err := NewRoboflowClient(Config{Endpoint: srv.URL}).Infer(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestRoboflowClient_BadRecordKeepsSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions": [
			{"x": 50, "y": 50, "width": 20, "height": 20, "confidence": 0.9, "class": "glove"},
			{"x": "10", "y": 10, "width": 5, "height": 5, "confidence": 0.5, "class": "head"},
			42,
			"punch"
		]}`))
	}))
	defer srv.Close()

	dets, err := NewRoboflowClient(Config{Endpoint: srv.URL}).Infer(context.Background(), []byte{1})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "glove", dets[0].Class)
}

func TestParsePrediction_BadEnvelope(t *testing.T) {
	for _, body := range []string{`{not json`, `{"predictions": "glove"}`, `[]`} {
		_, err := parsePrediction([]byte(body))

		var ie *pipeline.InferenceError
		require.ErrorAs(t, err, &ie, body)
		assert.Equal(t, pipeline.InferenceMalformed, ie.Kind, body)
	}
}

func TestRoboflowClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		attempts  int
		wantKind  pipeline.InferenceErrorKind
		wantCalls int32
		wantCode  int
	}{
		{"server error retried", http.StatusBadGateway, "upstream down", 3, pipeline.InferenceStatus, 3, 502},
		{"client error not retried", http.StatusForbidden, "bad key", 3, pipeline.InferenceStatus, 1, 403},
		{"malformed body", http.StatusOK, "{not json", 3, pipeline.InferenceMalformed, 1, 0},
		{"single attempt by default", http.StatusServiceUnavailable, "", 0, pipeline.InferenceStatus, 1, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewRoboflowClient(Config{Endpoint: srv.URL, MaxAttempts: tt.attempts})
			_, err := c.Infer(context.Background(), []byte{1})

			var ie *pipeline.InferenceError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.wantKind, ie.Kind)
			assert.Equal(t, tt.wantCode, ie.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestRoboflowClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewRoboflowClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Infer(context.Background(), []byte{1})

	var ie *pipeline.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.InferenceTimeout, ie.Kind)
}

func TestRoboflowClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewRoboflowClient(Config{Endpoint: url})
	_, err := c.Infer(context.Background(), []byte{1})

	var ie *pipeline.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.InferenceUnavailable, ie.Kind)
	assert.False(t, c.IsHealthy(context.Background()))
}

func TestRoboflowClient_IsHealthyCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRoboflowClient(Config{Endpoint: srv.URL})
	assert.True(t, c.IsHealthy(context.Background()))
	assert.True(t, c.IsHealthy(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_UnknownTransport(t *testing.T) {
	_, err := NewClient(Config{Transport: "carrier-pigeon"})
	assert.Error(t, err)

	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.IsType(t, &RoboflowClient{}, c)
}
