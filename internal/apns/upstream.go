package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds dial plus handshake.
const DefaultConnectTimeout = 15 * time.Second

// Dialer opens upstream sessions. It never retries.
type Dialer struct {
	Addr      string
	TLSConfig *tls.Config

	// Timeout bounds dial plus handshake. Zero means DefaultConnectTimeout.
	Timeout time.Duration

	// WriteTimeout bounds each Send. Zero disables the deadline.
	WriteTimeout time.Duration
}

// Dial connects and completes the TLS handshake.
// Any failure is returned as a *ConnectError.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	td := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    d.TLSConfig,
	}
	nc, err := td.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, &ConnectError{Addr: d.Addr, Err: err}
	}
	return &Conn{nc: nc, writeTimeout: d.WriteTimeout}, nil
}

// Conn is one upstream session. Send and Close may be called from
// different goroutines; writes are serialized.
type Conn struct {
	mu           sync.Mutex
	nc           net.Conn
	closed       bool
	writeTimeout time.Duration
}

// NewConn wraps an established connection. Mostly useful for tests.
func NewConn(nc net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{nc: nc, writeTimeout: writeTimeout}
}

// Send writes one frame. A short write counts as failure.
func (c *Conn) Send(payload []byte) error {
	if c == nil {
		return &SendError{Err: ErrClosed}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.nc == nil {
		return &SendError{Err: ErrClosed}
	}
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.nc.Write(payload)
	if err != nil {
		return &SendError{Err: err}
	}
	if n != len(payload) {
		return &SendError{Err: errors.New("short write")}
	}
	return nil
}

// Close tears the session down. It is idempotent and safe on a nil Conn.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.nc == nil {
		c.closed = true
		return nil
	}
	c.closed = true
	err := c.nc.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// RemoteAddr reports the gateway address, or "" when not connected.
func (c *Conn) RemoteAddr() string {
	if c == nil || c.nc == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}
