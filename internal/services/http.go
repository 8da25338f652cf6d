package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"
	goa "goa.design/goa/v3/pkg"

	"ringside/internal/codec"
	"ringside/internal/pipeline"
)

// maxUploadMemory bounds the multipart form kept in memory
const maxUploadMemory = 32 << 20

// MountPoint holds information about a mounted endpoint
type MountPoint struct {
	// Method is the name of the service method served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

// Server lists the JSON endpoints and carries the transport layers shared
// by their handlers.
type Server struct {
	Mounts []*MountPoint

	frame  *FrameImplementation
	match  *MatchImplementation
	health *HealthImplementation
	system *SystemImplementation
	auth   *AuthImplementation

	mux     goahttp.Muxer
	dec     func(*http.Request) goahttp.Decoder
	enc     func(context.Context, http.ResponseWriter) goahttp.Encoder
	eh      func(context.Context, http.ResponseWriter, error)
	protect func(http.Handler) http.Handler
	mws     []func(http.Handler) http.Handler
}

// Services groups the implementations served over HTTP
type Services struct {
	Frame  *FrameImplementation
	Match  *MatchImplementation
	Health *HealthImplementation
	System *SystemImplementation
	Auth   *AuthImplementation
}

// NewServer instantiates the HTTP handlers for svcs. protect wraps the
// mutating endpoints, eh is called when a response cannot be encoded.
func NewServer(
	svcs Services,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
	protect func(http.Handler) http.Handler,
) *Server {
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	return &Server{
		Mounts: []*MountPoint{
			{"ProcessFrame", "POST", "/process_frame"},
			{"UploadFrame", "POST", "/upload_frame"},
			{"CreateFighter", "POST", "/fighter"},
			{"CreateMatch", "POST", "/match"},
			{"GetMatch", "GET", "/match/{id}"},
			{"UpdateScore", "PUT", "/match/{id}/score"},
			{"RecentMatches", "GET", "/matches/recent"},
			{"Healthz", "GET", "/healthz"},
			{"Readyz", "GET", "/readyz"},
			{"Stats", "GET", "/stats"},
			{"Login", "POST", "/auth/login"},
		},
		frame:   svcs.Frame,
		match:   svcs.Match,
		health:  svcs.Health,
		system:  svcs.System,
		auth:    svcs.Auth,
		dec:     decoder,
		enc:     encoder,
		eh:      errhandler,
		protect: protect,
	}
}

// Use wraps the JSON endpoints with a middleware. It must be called before
// Mount and does not affect handlers mounted on the mux by others.
func (s *Server) Use(m func(http.Handler) http.Handler) {
	s.mws = append(s.mws, m)
}

// Mount configures the mux to serve the endpoints
func (s *Server) Mount(mux goahttp.Muxer) {
	s.mux = mux
	handlers := map[string]http.HandlerFunc{
		"ProcessFrame":  s.handleProcessFrame,
		"UploadFrame":   s.handleUploadFrame,
		"CreateFighter": s.protected(s.handleCreateFighter),
		"CreateMatch":   s.protected(s.handleCreateMatch),
		"GetMatch":      s.handleGetMatch,
		"UpdateScore":   s.protected(s.handleUpdateScore),
		"RecentMatches": s.handleRecentMatches,
		"Healthz":       s.handleHealthz,
		"Readyz":        s.handleReadyz,
		"Stats":         s.handleStats,
		"Login":         s.handleLogin,
	}
	for _, m := range s.Mounts {
		var h http.Handler = handlers[m.Method]
		for _, mw := range s.mws {
			h = mw(h)
		}
		mux.Handle(m.Verb, m.Pattern, h.ServeHTTP)
	}
}

func (s *Server) protected(h http.HandlerFunc) http.HandlerFunc {
	return s.protect(h).ServeHTTP
}

// requestContext sets the values goa's encoders and middlewares look up
func requestContext(r *http.Request, method string) context.Context {
	ctx := r.Context()
	ctx = context.WithValue(ctx, goahttp.AcceptTypeKey, r.Header.Get("Accept"))
	ctx = context.WithValue(ctx, goa.MethodKey, method)
	ctx = context.WithValue(ctx, goa.ServiceKey, "ringside")
	return ctx
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func (s *Server) decodeBody(r *http.Request, v any) error {
	if err := s.dec(r).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return goa.DecodePayloadError(err.Error())
	}
	return nil
}

// encode buffers the encoded body so that an encoding failure can still
// be reported with an error status instead of a truncated JSON response.
func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	buf := &bufferedResponse{header: w.Header()}
	if err := s.enc(ctx, buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		s.eh(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// bufferedResponse collects an encoded body; headers go to the real writer
type bufferedResponse struct {
	bytes.Buffer
	header http.Header
}

func (b *bufferedResponse) Header() http.Header { return b.header }
func (b *bufferedResponse) WriteHeader(int)     {}

func (s *Server) encodeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		log.Printf("[HTTP] [%s] %s: %v", id, ctx.Value(goa.MethodKey), err)
	}
	s.encode(ctx, w, status, body)
}

// errorResponse maps service errors to a status and a JSON body
func errorResponse(err error) (int, map[string]any) {
	var (
		ie *pipeline.InferenceError
		de *codec.DecodeError
		se *goa.ServiceError
	)

	switch {
	case errors.As(err, &ie):
		return http.StatusBadGateway, map[string]any{
			"error":   "inference failed",
			"kind":    ie.Kind,
			"details": ie.Error(),
		}
	case errors.As(err, &de):
		return http.StatusBadRequest, map[string]any{
			"error":   "invalid image",
			"reason":  de.Reason,
			"details": de.Error(),
		}
	case errors.As(err, &se):
		if se.Fault {
			return http.StatusInternalServerError, map[string]any{"error": "internal error"}
		}
		status := http.StatusBadRequest
		switch se.Name {
		case ErrNameNotFound:
			status = http.StatusNotFound
		case ErrNameUnauthorized:
			status = http.StatusUnauthorized
		case ErrNameUnavailable:
			status = http.StatusServiceUnavailable
		}
		return status, map[string]any{"error": se.Message}
	}
	return http.StatusInternalServerError, map[string]any{"error": "internal error"}
}

func (s *Server) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "ProcessFrame")

	var body ProcessFramePayload
	if err := s.decodeBody(r, &body); err != nil {
		s.encodeError(ctx, w, err)
		return
	}

	res, err := s.frame.ProcessFrame(ctx, &body)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleUploadFrame(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "UploadFrame")

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.encodeError(ctx, w, badRequest("No frame part"))
		return
	}

	// A part without a filename is parsed as a plain form value
	file, header, err := r.FormFile("frame")
	if err != nil {
		if r.MultipartForm != nil && len(r.MultipartForm.Value["frame"]) > 0 {
			s.encodeError(ctx, w, badRequest("No selected frame"))
			return
		}
		s.encodeError(ctx, w, badRequest("No frame part"))
		return
	}
	defer file.Close()
	if header.Filename == "" {
		s.encodeError(ctx, w, badRequest("No selected frame"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.encodeError(ctx, w, badRequest("failed to read frame: %v", err))
		return
	}

	res, err := s.frame.UploadFrame(ctx, data)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleCreateFighter(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "CreateFighter")

	var body CreateFighterPayload
	if err := s.decodeBody(r, &body); err != nil {
		s.encodeError(ctx, w, err)
		return
	}

	res, err := s.match.CreateFighter(ctx, &body)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusCreated, res)
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "CreateMatch")

	var body CreateMatchPayload
	if err := s.decodeBody(r, &body); err != nil {
		s.encodeError(ctx, w, err)
		return
	}

	res, err := s.match.CreateMatch(ctx, &body)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusCreated, res)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "GetMatch")

	res, err := s.match.GetMatch(ctx, s.mux.Vars(r)["id"])
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "UpdateScore")

	var body UpdateScorePayload
	if err := s.decodeBody(r, &body); err != nil {
		s.encodeError(ctx, w, err)
		return
	}

	res, err := s.match.UpdateScore(ctx, s.mux.Vars(r)["id"], &body)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "RecentMatches")

	res, err := s.match.RecentMatches(ctx)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "Healthz")

	res, err := s.health.Healthz(ctx)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "Readyz")

	res, err := s.health.Readyz(ctx)
	if err != nil {
		if res != nil {
			// Report which check failed
			s.encode(ctx, w, http.StatusServiceUnavailable, res)
			return
		}
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "Stats")

	res, err := s.system.Stats(ctx)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r, "Login")

	var body LoginPayload
	if err := s.decodeBody(r, &body); err != nil {
		s.encodeError(ctx, w, err)
		return
	}

	res, err := s.auth.Login(ctx, &body)
	if err != nil {
		s.encodeError(ctx, w, err)
		return
	}
	s.encode(ctx, w, http.StatusOK, res)
}
