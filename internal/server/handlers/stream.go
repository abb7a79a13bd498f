package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/engine"
	"github.com/qrandom/qrandom/internal/metrics"
	"github.com/qrandom/qrandom/internal/observability"
)

// DefaultStreamInterval is the pause between two stream messages.
const DefaultStreamInterval = 100 * time.Millisecond

const (
	streamWriteWait  = 10 * time.Second
	streamReadLimit  = 512
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamHandler pushes random numbers to WebSocket clients.
type StreamHandler struct {
	svc      *engine.Service
	interval time.Duration
	timeout  time.Duration
	upgrader websocket.Upgrader
}

// NewStreamHandler returns a handler emitting one message per interval.
// Origins are checked against allowedOrigins; "*" allows any.
func NewStreamHandler(svc *engine.Service, interval, timeout time.Duration, allowedOrigins []string) *StreamHandler {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &StreamHandler{
		svc:      svc,
		interval: interval,
		timeout:  timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeHTTP upgrades the connection and streams until the client leaves.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logStream("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close() // nolint:errcheck // connection teardown

	sessionID := uuid.NewString()
	tracker := h.svc.Tracker()
	metrics.SetActiveStreams(tracker.ConnectionOpened())
	defer func() {
		metrics.SetActiveStreams(tracker.ConnectionClosed())
	}()
	logStream("WebSocket client connected", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	stream := h.svc.NewStream()
	defer func() {
		logStream("WebSocket client disconnected",
			zap.String("session", sessionID),
			zap.Int64("messages", stream.Sent()))
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	lastPing := time.Now()

	for {
		msg, err := h.next(ctx, stream)
		if err != nil {
			if ctx.Err() == nil {
				logStream("Stream fetch failed", zap.String("session", sessionID), zap.Error(err))
				closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "randomness sources unavailable")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(streamWriteWait))
			}
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		metrics.RecordStreamMessage()

		if time.Since(lastPing) >= streamPingPeriod {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
			lastPing = time.Now()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *StreamHandler) next(ctx context.Context, stream *engine.Stream) (*core.StreamMessage, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return stream.Next(ctx)
}

// readPump drains client frames so control messages are processed and
// cancels the stream once the client goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func logStream(msg string, fields ...zap.Field) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info(msg, fields...)
	}
}
