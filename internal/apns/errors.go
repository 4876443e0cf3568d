package apns

import (
	"errors"
	"fmt"
)

// ErrClosed is returned (wrapped in a SendError) when writing to a closed Conn.
var ErrClosed = errors.New("apns: connection closed")

// EncodingError reports a notification that cannot be framed.
// It is a caller error, never a transport error.
type EncodingError struct {
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("apns: encode: %s: %v", e.Reason, e.Err)
	}
	return "apns: encode: " + e.Reason
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ConnectError reports a failed attempt to open the upstream session
// (timeout, unreachable host or TLS handshake failure).
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("apns: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a rejected or incomplete write. Partial writes are
// not distinguished from total failure.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("apns: send: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }
