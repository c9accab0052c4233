package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Connection is the subset of *websocket.Conn the client pumps use. Tests
// substitute a fake.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// conn adapts *websocket.Conn to Connection.
type conn struct {
	*websocket.Conn
}

// WrapConn adapts a gorilla connection.
func WrapConn(c *websocket.Conn) Connection {
	return conn{Conn: c}
}

// RemoteAddr returns the peer address as a string.
func (c conn) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
