package ws

import (
	"github.com/gorilla/websocket"
)

// Conn is the transport slice the session layer needs. *websocket.Conn
// satisfies it via gorillaConn; tests substitute an in-memory fake.
type Conn interface {
	// ReadMessage blocks for the next client message payload.
	ReadMessage() ([]byte, error)
	// WriteJSON sends one frame. Callers must serialize writes.
	WriteJSON(v any) error
	// Close tears down the transport. Safe to call more than once.
	Close() error
}

type gorillaConn struct {
	conn *websocket.Conn
}

// NewGorillaConn adapts a gorilla websocket connection.
func NewGorillaConn(conn *websocket.Conn) Conn {
	return &gorillaConn{conn: conn}
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, payload, err := g.conn.ReadMessage()
	return payload, err
}

func (g *gorillaConn) WriteJSON(v any) error {
	return g.conn.WriteJSON(v)
}

func (g *gorillaConn) Close() error {
	return g.conn.Close()
}
