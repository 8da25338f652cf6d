package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"ringside/internal/auth"
	"ringside/internal/config"
	authmdlwr "ringside/internal/middleware"
	"ringside/internal/pipeline"
	"ringside/internal/services"
	"ringside/internal/stream"
	"ringside/internal/ws"
)

// handleHTTPServer configures and starts a HTTP server on the configured
// address. It shuts down the server once ctx is cancelled.
func handleHTTPServer(ctx context.Context, cfg *config.Config, svcs services.Services, authenticator *auth.Authenticator, m *pipeline.Multiplexer, hub *ws.EventHub, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	handler := newHandler(svcs, authenticator, m, hub, logger, cfg.Server.Debug, os.Stdout)

	// No WriteTimeout: the video feeds stay open for as long as the client does
	srv := &http.Server{Addr: cfg.Addr(), Handler: handler, ReadHeaderTimeout: time.Second * 60}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", srv.Addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", srv.Addr)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}

// newHandler builds the request multiplexer. debug dumps requests and
// responses of the JSON endpoints to w; the video and event feeds never
// end, so they are mounted outside the dump.
func newHandler(svcs services.Services, authenticator *auth.Authenticator, m *pipeline.Multiplexer, hub *ws.EventHub, logger *log.Logger, debug bool, w io.Writer) http.Handler {

	// Setup goa log adapter.
	adapter := middleware.NewLogger(logger)

	var (
		dec = goahttp.RequestDecoder
		enc = goahttp.ResponseEncoder
	)

	mux := goahttp.NewMuxer()

	// JSON endpoints
	server := services.NewServer(svcs, dec, enc, errorHandler(logger), authmdlwr.AuthMiddleware(authenticator))
	if debug {
		server.Use(httpmdlwr.Debug(mux, w))
	}
	server.Mount(mux)
	for _, mp := range server.Mounts {
		logger.Printf("HTTP %q mounted on %s %s", mp.Method, mp.Verb, mp.Pattern)
	}

	// Streaming endpoints
	mux.Handle("GET", "/video_feed", stream.NewMJPEGHandler(m).ServeHTTP)
	mux.Handle("GET", "/ws/video_feed", ws.NewVideoHandler(m).ServeHTTP)
	mux.Handle("GET", "/ws/events", ws.NewEventsHandler(hub).ServeHTTP)
	logger.Printf("HTTP %q mounted on %s %s", "VideoFeed", "GET", "/video_feed")
	logger.Printf("HTTP %q mounted on %s %s", "VideoFeedWS", "GET", "/ws/video_feed")
	logger.Printf("HTTP %q mounted on %s %s", "EventsWS", "GET", "/ws/events")

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the endpoints.
	var handler http.Handler = mux
	{
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}
	return handler
}

// errorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func errorHandler(logger *log.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
}
