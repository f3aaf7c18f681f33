package proxy

import (
	"net"
	"time"
)

// idleConn pushes the read or write deadline forward before every call so
// a connection is only dropped after timeout of inactivity.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

// withIdleTimeout wraps c when timeout is positive. A zero timeout leaves
// reads and writes fully blocking.
func withIdleTimeout(c net.Conn, timeout time.Duration) net.Conn {
	if c == nil || timeout <= 0 {
		return c
	}
	return &idleConn{Conn: c, timeout: timeout}
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
