package ws

import (
	"context"
	"errors"
	"image"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringside/internal/codec"
	"ringside/internal/pipeline"
)

type countedSource struct {
	calls  atomic.Int32
	limit  int32
	err    error
	closed atomic.Bool
}

func (s *countedSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	n := s.calls.Add(1)
	if n > s.limit {
		return nil, s.err
	}
	return &pipeline.Frame{Image: image.NewRGBA(image.Rect(0, 0, 10, 8)), Seq: uint64(n), Timestamp: time.Now()}, nil
}

func (s *countedSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fixedClient struct {
	dets pipeline.DetectionSet
}

func (c fixedClient) Infer(ctx context.Context, jpeg []byte) (pipeline.DetectionSet, error) {
	return c.dets, nil
}
func (fixedClient) IsHealthy(ctx context.Context) bool { return true }
func (fixedClient) Close() error                       { return nil }

type passthrough struct{}

func (passthrough) Annotate(img image.Image, dets pipeline.DetectionSet) pipeline.Annotation {
	return pipeline.Annotation{Image: img, Drawn: len(dets)}
}

func wsURL(url string) string {
	return "ws" + strings.TrimPrefix(url, "http")
}

func TestVideoHandler_FramesThenClosed(t *testing.T) {
	src := &countedSource{limit: 3, err: pipeline.ErrEndOfStream}
	dets := pipeline.DetectionSet{{Class: "punch", Confidence: pipeline.Float64(0.9),
		X: pipeline.Float64(5), Y: pipeline.Float64(4), Width: pipeline.Float64(2), Height: pipeline.Float64(2)}}
	mux := pipeline.NewMultiplexer(
		func(ctx context.Context) (pipeline.FrameSource, error) { return src, nil },
		fixedClient{dets: dets}, passthrough{}, codec.New(80))

	srv := httptest.NewServer(NewVideoHandler(mux))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for i := 1; i <= 3; i++ {
		var msg FrameMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "frame", msg.Type)
		assert.Equal(t, uint64(i), msg.Seq)
		assert.Equal(t, 10, msg.FrameWidth)
		assert.True(t, msg.Annotated)
		require.Len(t, msg.Detections, 1)
		assert.Equal(t, "punch", msg.Detections[0].Class)
		assert.NotEmpty(t, msg.Frame)
	}

	var closed ClosedMessage
	require.NoError(t, conn.ReadJSON(&closed))
	assert.Equal(t, "closed", closed.Type)
	assert.Equal(t, pipeline.ReasonEndOfStream, closed.Reason)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestVideoHandler_OpenFailureSendsClosed(t *testing.T) {
	mux := pipeline.NewMultiplexer(
		func(ctx context.Context) (pipeline.FrameSource, error) { return nil, errors.New("camera offline") },
		fixedClient{}, passthrough{}, codec.New(80))

	srv := httptest.NewServer(NewVideoHandler(mux))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var closed ClosedMessage
	require.NoError(t, conn.ReadJSON(&closed))
	assert.Equal(t, pipeline.ReasonCaptureError, closed.Reason)
	assert.Contains(t, closed.Error, "camera offline")
}

func TestEventHub_FiltersBySession(t *testing.T) {
	bus := pipeline.NewEventBus()
	hub := NewEventHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, bus)

	srv := httptest.NewServer(NewEventsHandler(hub))
	defer srv.Close()

	all, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer all.Close()

	one, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"?session=b", nil)
	require.NoError(t, err)
	defer one.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	bus.Publish(&pipeline.Event{Kind: pipeline.EventSessionOpened, SessionID: "a", Timestamp: time.Now()})
	bus.Publish(&pipeline.Event{Kind: pipeline.EventSessionOpened, SessionID: "b", Timestamp: time.Now()})

	all.SetReadDeadline(time.Now().Add(5 * time.Second))
	one.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg EventMessage
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "a", msg.SessionID)
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "b", msg.SessionID)

	var filtered EventMessage
	require.NoError(t, one.ReadJSON(&filtered))
	assert.Equal(t, "event", filtered.Type)
	assert.Equal(t, "b", filtered.SessionID)
	assert.Equal(t, pipeline.EventSessionOpened, filtered.Kind)

	one.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
}
