package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringside/internal/codec"
	"ringside/internal/pipeline"
)

type testSource struct {
	calls  atomic.Int32
	failAt int32
	err    error
	block  bool
	closed atomic.Bool
}

func (s *testSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	if s.block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	n := s.calls.Add(1)
	if s.failAt > 0 && n >= s.failAt {
		return nil, s.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	img.Set(2, 2, color.White)
	return &pipeline.Frame{Image: img, Seq: uint64(n), Timestamp: time.Now()}, nil
}

func (s *testSource) Close() error {
	s.closed.Store(true)
	return nil
}

type noopClient struct{}

func (noopClient) Infer(ctx context.Context, jpeg []byte) (pipeline.DetectionSet, error) {
	return pipeline.DetectionSet{}, nil
}
func (noopClient) IsHealthy(ctx context.Context) bool { return true }
func (noopClient) Close() error                       { return nil }

type passthrough struct{}

func (passthrough) Annotate(img image.Image, dets pipeline.DetectionSet) pipeline.Annotation {
	return pipeline.Annotation{Image: img}
}

func newServer(t *testing.T, open pipeline.SourceOpener) *httptest.Server {
	t.Helper()
	mux := pipeline.NewMultiplexer(open, noopClient{}, passthrough{}, codec.New(80))
	srv := httptest.NewServer(NewMJPEGHandler(mux))
	t.Cleanup(srv.Close)
	return srv
}

func readParts(t *testing.T, resp *http.Response) ([][]byte, error) {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, Boundary, params["boundary"])

	var parts [][]byte
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			return parts, err
		}
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		data, err := io.ReadAll(part)
		if err != nil {
			return parts, err
		}
		parts = append(parts, data)
	}
}

func TestMJPEGHandler_CaptureErrorEndsStream(t *testing.T) {
	src := &testSource{failAt: 5, err: &pipeline.CaptureError{Source: "cam", Err: errors.New("device lost")}}
	srv := newServer(t, func(ctx context.Context) (pipeline.FrameSource, error) { return src, nil })

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	parts, err := readParts(t, resp)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, parts, 4)
	for _, p := range parts {
		assert.True(t, bytes.HasPrefix(p, []byte{0xFF, 0xD8}))
	}
	assert.True(t, src.closed.Load())
}

func TestMJPEGHandler_ImmediateEndOfStream(t *testing.T) {
	src := &testSource{failAt: 1, err: pipeline.ErrEndOfStream}
	srv := newServer(t, func(ctx context.Context) (pipeline.FrameSource, error) { return src, nil })

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	parts, err := readParts(t, resp)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, parts)
}

func TestMJPEGHandler_OpenFailureIs503(t *testing.T) {
	srv := newServer(t, func(ctx context.Context) (pipeline.FrameSource, error) {
		return nil, errors.New("no such device")
	})

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "video source unavailable")
	assert.Contains(t, string(body), "no such device")
}

func TestMJPEGHandler_DisconnectClosesSource(t *testing.T) {
	src := &testSource{block: true}
	srv := newServer(t, func(ctx context.Context) (pipeline.FrameSource, error) { return src, nil })

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	mr := multipart.NewReader(resp.Body, Boundary)
	_, err = mr.NextPart()
	require.NoError(t, err)

	cancel()
	resp.Body.Close()

	assert.Eventually(t, src.closed.Load, 5*time.Second, 20*time.Millisecond)
}

func TestPartWriter_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	pw, ok := NewPartWriter(rec)
	require.True(t, ok)

	require.NoError(t, pw.WritePart([]byte("JPEG")))
	require.NoError(t, pw.Close())

	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG\r\n--frame--\r\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

type unwrapWriter struct {
	http.ResponseWriter
}

func (u unwrapWriter) Unwrap() http.ResponseWriter { return u.ResponseWriter }

type plainWriter struct {
	header http.Header
	bytes.Buffer
}

func (p *plainWriter) Header() http.Header { return p.header }
func (p *plainWriter) WriteHeader(int)     {}

func TestNewPartWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	pw, ok := NewPartWriter(unwrapWriter{rec})
	require.True(t, ok)
	require.NoError(t, pw.WritePart([]byte("JPEG")))
	assert.True(t, rec.Flushed)

	_, ok = NewPartWriter(&plainWriter{header: http.Header{}})
	assert.False(t, ok)
}
