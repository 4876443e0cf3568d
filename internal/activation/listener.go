// Package activation owns the local TCP endpoint whose connections act as
// triggers. A connection carries no request; the server only writes back a
// short status line and hangs up.
package activation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrClosed is wrapped by AcceptError when the listener was unbound.
var ErrClosed = errors.New("activation: listener closed")

// RespondTimeout bounds the status write so a stalled client cannot hold
// the accept loop.
const RespondTimeout = 5 * time.Second

// BindError reports a failure to open the listening socket (e.g. port in use).
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("activation: bind %s: %v", e.Addr, e.Err) }

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError reports a broken listener.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string { return fmt.Sprintf("activation: accept: %v", e.Err) }

func (e *AcceptError) Unwrap() error { return e.Err }

// Listener accepts activations one at a time.
type Listener struct {
	ln net.Listener

	mu     sync.Mutex
	closed bool
}

// Bind opens a TCP listener on addr ("host:port").
func Bind(ctx context.Context, addr string) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// AcceptOne blocks until one client connects, ctx is done, or the listener
// breaks. Cancelling ctx closes the listener.
func (l *Listener) AcceptOne(ctx context.Context) (*Handle, error) {
	if l == nil || l.ln == nil {
		return nil, &AcceptError{Err: ErrClosed}
	}
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AcceptError{Err: ctx.Err()}
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, &AcceptError{Err: ErrClosed}
		}
		return nil, &AcceptError{Err: err}
	}
	return &Handle{conn: c}, nil
}

// Close unbinds the listener. It is idempotent.
func (l *Listener) Close() error {
	if l == nil || l.ln == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.ln.Close()
}

// Handle is one accepted activation.
type Handle struct {
	conn net.Conn
	once sync.Once
}

// RemoteAddr names the client that triggered the activation.
func (h *Handle) RemoteAddr() string {
	if h == nil || h.conn == nil {
		return ""
	}
	return h.conn.RemoteAddr().String()
}

// Respond writes text (best effort) and always closes the handle.
func (h *Handle) Respond(text string) error {
	if h == nil || h.conn == nil {
		return nil
	}
	defer h.Close()
	_ = h.conn.SetWriteDeadline(time.Now().Add(RespondTimeout))
	_, err := h.conn.Write([]byte(text))
	return err
}

// Close is idempotent.
func (h *Handle) Close() error {
	if h == nil || h.conn == nil {
		return nil
	}
	var err error
	h.once.Do(func() { err = h.conn.Close() })
	return err
}
