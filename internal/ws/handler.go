package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ringside/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // 256KB for base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		// Stream consumers are not authenticated
		return true
	},
}

// VideoHandler serves GET /ws/video_feed: the same session loop as the
// MJPEG feed, sent as JSON messages with detection metadata.
type VideoHandler struct {
	mux *pipeline.Multiplexer
}

// NewVideoHandler creates a new WebSocket video handler
func NewVideoHandler(mux *pipeline.Multiplexer) *VideoHandler {
	return &VideoHandler{mux: mux}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *VideoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.mux.NewSession(ctx)
	if err != nil {
		log.Printf("[WS] Failed to open session for %s: %v", r.RemoteAddr, err)
		finish(conn, NewClosedMessage("", pipeline.ReasonCaptureError, err))
		return
	}

	log.Printf("[WS] New connection from %s (session %s)", r.RemoteAddr, session.ID())

	go readPump(conn, cancel)

	err = session.Run(ctx, func(c *pipeline.Chunk) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(NewFrameMessage(c))
	})

	if ctx.Err() != nil {
		log.Printf("[WS] Client %s disconnected (session %s)", r.RemoteAddr, session.ID())
		return
	}
	if err != nil && !pipeline.IsCaptureError(err) {
		log.Printf("[WS] Session %s: %v", session.ID(), err)
		return
	}
	finish(conn, NewClosedMessage(session.ID(), session.CloseReason(), err))
}

// finish sends the closed message followed by a normal close frame
func finish(conn *websocket.Conn, msg *ClosedMessage) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Reason),
		time.Now().Add(writeWait))
}

// readPump reads messages from the WebSocket connection. It keeps the
// connection alive and cancels the session when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	// Small limit since client shouldn't send much
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)

	// WriteControl may run concurrently with the frame writer
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	// Read loop - mainly to detect disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			return
		}
	}
}

// EventsHandler serves GET /ws/events: detection events from every
// session, or from one session with ?session={id}.
type EventsHandler struct {
	hub *EventHub
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *EventHub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	h.hub.Register(sessionID, conn)
	readPump(conn, func() {})
	h.hub.Unregister(sessionID, conn)
	conn.Close()
}
