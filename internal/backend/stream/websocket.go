package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jo-hoe/banano/internal/backend/generation"
)

const (
	defaultWriteTimeout = 10 * time.Second
	requestReadTimeout  = 30 * time.Second
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketEmitter writes each event as one JSON text frame.
type WebSocketEmitter struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWebSocketEmitter(conn *websocket.Conn) *WebSocketEmitter {
	return &WebSocketEmitter{conn: conn, writeTimeout: defaultWriteTimeout}
}

func (e *WebSocketEmitter) Emit(ctx context.Context, event generation.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return e.write(websocket.TextMessage, data)
}

// SendError reports a request failure to the client as {"error": message}.
func (e *WebSocketEmitter) SendError(message string) error {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return err
	}
	return e.write(websocket.TextMessage, data)
}

// Close sends a normal closure frame and releases the connection.
func (e *WebSocketEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	deadline := time.Now().Add(e.writeTimeout)
	_ = e.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return e.conn.Close()
}

func (e *WebSocketEmitter) write(messageType int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	if err := e.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write websocket frame: %w", err)
	}
	return nil
}

// ReadRequest reads the generation request the client sends as its first message.
func ReadRequest(conn *websocket.Conn) (generation.Request, error) {
	var request generation.Request
	_ = conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return request, fmt.Errorf("failed to read generation request: %w", err)
	}
	if messageType != websocket.TextMessage {
		return request, fmt.Errorf("expected a text message, got type %d", messageType)
	}
	if err := json.Unmarshal(data, &request); err != nil {
		return request, fmt.Errorf("failed to decode generation request: %w", err)
	}
	return request, nil
}
