package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/pipeline"
	"github.com/gorilla/websocket"
)

const (
	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 12,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// StreamFrame is one camera frame sent as a JSON text message. Binary
// messages carry an encoded image alone and rely on the depth estimator.
type StreamFrame struct {
	ID    string `json:"id,omitempty"`
	Image []byte `json:"image"`
	// Depth is an encoded depth file; DepthFormat is its extension
	// ("png", "tiff" or "f32"), png when empty.
	Depth       []byte  `json:"depth,omitempty"`
	DepthFormat string  `json:"depth_format,omitempty"`
	DepthWidth  int     `json:"depth_width,omitempty"`
	DepthHeight int     `json:"depth_height,omitempty"`
	DepthScale  float32 `json:"depth_scale,omitempty"`
}

// StreamMessage is sent to stream clients.
type StreamMessage struct {
	Type      string           `json:"type"` // "result", "dropped" or "error"
	FrameID   string           `json:"frame_id,omitempty"`
	Result    *analysis.Report `json:"result,omitempty"`
	LatencyMs float64          `json:"latency_ms,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// lockedConn serialises writes from the reader and the result forwarder.
type lockedConn struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (c *lockedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (f StreamFrame) input() (analysis.Input, error) {
	if len(f.Image) == 0 {
		return analysis.Input{}, errors.New("frame has no image")
	}
	img, _, err := frame.DecodeImage(bytes.NewReader(f.Image))
	if err != nil {
		return analysis.Input{}, fmt.Errorf("failed to decode image: %w", err)
	}
	in := analysis.Input{Image: img}
	if len(f.Depth) == 0 {
		return in, nil
	}
	format := f.DepthFormat
	if format == "" {
		format = "png"
	}
	g, err := depth.Decode(bytes.NewReader(f.Depth), "depth."+format, depth.DecodeOptions{
		Width:  f.DepthWidth,
		Height: f.DepthHeight,
		Scale:  f.DepthScale,
	})
	if err != nil {
		return analysis.Input{}, err
	}
	in.Depth = &g
	return in, nil
}

// streamHandler upgrades to a websocket carrying a live camera stream.
// Each connection gets its own single-flight runner: frames arriving while
// the previous one is analyzed are dropped and reported as such.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("Failed to close WebSocket connection", "error", err)
		}
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.handleStream(conn)
}

func (s *Server) handleStream(conn *websocket.Conn) {
	runner := pipeline.NewRunner(s.engine, s.runnerCfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		slog.Error("Failed to start stream runner", "error", err)
		return
	}
	defer runner.Stop()

	out := &lockedConn{conn: conn}
	done := make(chan struct{})
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			case o := <-runner.Results():
				s.sendStreamMessage(out, s.resultMessage(o))
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Stream closed unexpectedly", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()
		s.handleStreamMessage(runner, out, messageType, data)
	}
}

// handleStreamMessage decodes one frame and offers it to runner.
func (s *Server) handleStreamMessage(runner *pipeline.Runner, conn WebSocketConnWriter, messageType int, data []byte) {
	var req StreamFrame
	switch messageType {
	case websocket.BinaryMessage:
		req.Image = data
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendStreamError(conn, "", "invalid_request", "Invalid JSON frame")
			return
		}
	default:
		return
	}

	in, err := req.input()
	if err != nil {
		s.sendStreamError(conn, req.ID, "invalid_frame", err.Error())
		return
	}

	id, err := runner.Submit(pipeline.Frame{ID: req.ID, Input: in})
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		s.sendStreamMessage(conn, StreamMessage{Type: "dropped", FrameID: id})
	case err != nil:
		s.sendStreamError(conn, id, errorType(err), err.Error())
	}
}

func (s *Server) resultMessage(o pipeline.Output) StreamMessage {
	rep := s.engine.Report(o.Result)
	rep.RequestID = o.ID
	directivesServed.WithLabelValues(o.Result.Directive.Kind.String()).Inc()
	return StreamMessage{
		Type:      "result",
		FrameID:   o.ID,
		Result:    &rep,
		LatencyMs: float64(o.Latency.Microseconds()) / 1000,
	}
}

func (s *Server) sendStreamError(conn WebSocketConnWriter, frameID, errorType, message string) {
	s.sendStreamMessage(conn, StreamMessage{
		Type:      "error",
		FrameID:   frameID,
		Error:     message,
		ErrorType: errorType,
	})
}

// sendStreamMessage sends a message over WebSocket.
func (s *Server) sendStreamMessage(conn WebSocketConnWriter, msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal stream message", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send stream message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
