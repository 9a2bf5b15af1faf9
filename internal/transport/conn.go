package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one open bidirectional message stream to the remote endpoint.
type Conn interface {
	// ReadMessage blocks until the next whole message arrives.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one whole message. Safe for concurrent use.
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to the endpoint. Injected so tests can supply scripted
// connections.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, endpoint string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// wsConn serializes writes; gorilla permits only one concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
