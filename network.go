package zk

import (
	"io"
	"net"
	"time"
)

// NetworkConn is the byte stream to one ensemble member.
type NetworkConn interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline sets the deadline for future Read calls
	// and any currently-blocked Read call.
	// A zero value for d means Read will not time out.
	SetReadDeadline(d time.Duration) error

	// SetWriteDeadline sets the deadline for future Write calls
	// and any currently-blocked Write call.
	// Even if write times out, it may return n > 0, indicating that
	// some of the data was successfully written.
	// A zero value for d means Write will not time out.
	SetWriteDeadline(d time.Duration) error
}

type tcpConnImpl struct {
	conn net.Conn
}

func NewTCPConn(conn net.Conn) NetworkConn {
	return &tcpConnImpl{
		conn: conn,
	}
}

var _ NetworkConn = &tcpConnImpl{}

// dialTCP dials addr with Nagle's algorithm disabled.
func dialTCP(addr string, timeout time.Duration) (NetworkConn, error) {
	netConn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return NewTCPConn(netConn), nil
}

func (c *tcpConnImpl) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *tcpConnImpl) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

func deadlineFrom(d time.Duration) time.Time {
	if d == 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (c *tcpConnImpl) SetReadDeadline(d time.Duration) error {
	return c.conn.SetReadDeadline(deadlineFrom(d))
}

func (c *tcpConnImpl) SetWriteDeadline(d time.Duration) error {
	return c.conn.SetWriteDeadline(deadlineFrom(d))
}

func (c *tcpConnImpl) Close() error {
	return c.conn.Close()
}
