package detection

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ringside/internal/pipeline"
)

// startInferenceServer serves DefaultGRPCMethod with handle
func startInferenceServer(t *testing.T, handle func(req *structpb.Struct) (*structpb.Struct, error)) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	desc := grpc.ServiceDesc{
		ServiceName: "ringside.inference.v1.Inference",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Detect",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return handle(req)
			},
		}},
	}

	srv := grpc.NewServer()
	srv.RegisterService(&desc, struct{}{})
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestGRPCClient_Infer(t *testing.T) {
	var got *structpb.Struct
	addr := startInferenceServer(t, func(req *structpb.Struct) (*structpb.Struct, error) {
		got = req
		return structpb.NewStruct(map[string]any{
			"predictions": []any{
				map[string]any{"x": 50.0, "y": 60.0, "width": 20.0, "height": 30.0, "confidence": 0.75, "class": "glove", "class_id": 2.0},
			},
		})
	})

	c, err := NewGRPCClient(Config{Endpoint: addr, Confidence: 40, Overlap: 30})
	require.NoError(t, err)
	defer c.Close()

	dets, err := c.Infer(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "glove", dets[0].Class)
	require.NotNil(t, dets[0].ClassID)
	assert.Equal(t, 2, *dets[0].ClassID)

	box, err := dets[0].Box()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Box{X: 50, Y: 60, Width: 20, Height: 30, Confidence: 0.75}, box)

	require.NotNil(t, got)
	assert.Equal(t, "/9j/2Q==", got.Fields["image"].GetStringValue())
	assert.Equal(t, DefaultModel, got.Fields["model"].GetStringValue())
	assert.Equal(t, 40.0, got.Fields["confidence"].GetNumberValue())

	assert.True(t, c.IsHealthy(context.Background()))
}

func TestGRPCClient_ErrorKinds(t *testing.T) {
	addr := startInferenceServer(t, func(req *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "bad image")
	})

	c, err := NewGRPCClient(Config{Endpoint: addr, MaxAttempts: 3})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Infer(context.Background(), []byte{1})
	var ie *pipeline.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.InferenceStatus, ie.Kind)
	assert.False(t, ie.Retryable())
}

func TestClassifyRPCError(t *testing.T) {
	assert.Equal(t, pipeline.InferenceTimeout, classifyRPCError(status.Error(codes.DeadlineExceeded, "")).Kind)
	assert.Equal(t, pipeline.InferenceUnavailable, classifyRPCError(status.Error(codes.Unavailable, "")).Kind)
	assert.True(t, classifyRPCError(status.Error(codes.Internal, "")).Retryable())
}

func TestNewGRPCClient_RequiresEndpoint(t *testing.T) {
	_, err := NewGRPCClient(Config{})
	assert.Error(t, err)
}
