package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

const (
	streamIdleTimeout = 60 * time.Second
	streamPingPeriod  = 30 * time.Second
)

// StreamRequest is a text frame on /qr/stream. Image is base64 in JSON.
// A binary frame is treated as a request with just the raw image.
type StreamRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Image     []byte `json:"image"`
}

// StreamResponse answers one frame.
type StreamResponse struct {
	Type      string           `json:"type"` // "result" or "error"
	RequestID string           `json:"request_id,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// streamWriter is the part of *websocket.Conn the responders need.
type streamWriter interface {
	WriteMessage(messageType int, data []byte) error
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
		},
	}
}

// streamHandler runs one detection per received frame for the lifetime of
// the connection.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleStream(r.Context(), conn)
}

func (s *Server) handleStream(ctx context.Context, conn *websocket.Conn) {
	// base64 inflates JSON frames by a third
	conn.SetReadLimit(s.maxUploadMB << 20 * 4 / 3)
	_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket closed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))

		req, err := parseStreamFrame(messageType, data)
		if err != nil {
			s.sendStreamError(conn, "", "invalid_request", err.Error())
			continue
		}
		s.detectFrame(ctx, conn, req)
	}
}

func parseStreamFrame(messageType int, data []byte) (StreamRequest, error) {
	var req StreamRequest
	switch messageType {
	case websocket.BinaryMessage:
		req.Image = data
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse request: %w", err)
		}
	default:
		return req, fmt.Errorf("unsupported message type %d", messageType)
	}
	if len(req.Image) == 0 {
		return req, errors.New("no image data provided")
	}
	return req, nil
}

func (s *Server) detectFrame(ctx context.Context, conn streamWriter, req StreamRequest) {
	if s.pipeline == nil {
		s.sendStreamError(conn, req.RequestID, "unavailable", "detection pipeline not initialized")
		return
	}
	uploadSizeBytes.Observe(float64(len(req.Image)))

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
	defer cancel()
	res := s.pipeline.Detect(ctx, req.RequestID, req.Image)
	detectRequestsTotal.WithLabelValues(outcome(res)).Inc()

	s.sendStreamResponse(conn, StreamResponse{Type: "result", RequestID: res.RequestID, Result: res})
}

func (s *Server) sendStreamResponse(conn streamWriter, response StreamResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendStreamError(conn streamWriter, requestID, errorType, message string) {
	s.sendStreamResponse(conn, StreamResponse{
		Type:      "error",
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
