package relay

import (
	"sync"
)

// Conn, gorilla/websocket bağlantısının motorun ihtiyaç duyduğu alt kümesidir.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// LockedConn, yazmaları tek bir mutex arkasında sıraya sokar; gorilla bağlantıları eşzamanlı yazmayı desteklemez.
type LockedConn struct {
	conn      Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewLockedConn(c Conn) *LockedConn {
	if lc, ok := c.(*LockedConn); ok {
		return lc
	}
	return &LockedConn{conn: c}
}

func (c *LockedConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *LockedConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Close, birden fazla kez çağrılabilir; alttaki bağlantı yalnızca bir kez kapatılır.
func (c *LockedConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
