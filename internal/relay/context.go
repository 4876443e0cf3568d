package relay

import (
	"context"
	"errors"
	"sync/atomic"

	"pushrelay/internal/apns"
	logx "pushrelay/pkg/logx"
)

// Context is handed to the delegate for one activation. It is only valid
// until the delegate returns; Push on a finished Context returns false.
type Context struct {
	ctx context.Context
	id  string
	up  Upstream
	sup *Supervisor
	log logx.Logger

	done   atomic.Bool
	sent   atomic.Int64
	failed atomic.Int64
}

// Context returns the supervisor's context; it is cancelled on shutdown.
func (c *Context) Context() context.Context { return c.ctx }

// ID identifies the activation in logs and events.
func (c *Context) ID() string { return c.id }

// Logger returns the activation-scoped structured logger.
func (c *Context) Logger() logx.Logger { return c.log }

// Log writes msg to the relay log.
func (c *Context) Log(msg string) { c.log.Info(msg) }

// Push frames and sends one notification. It returns false if the token
// or message cannot be encoded, no session is open, or the write fails.
func (c *Context) Push(deviceToken, message string) bool {
	err := c.push(deviceToken, message)
	if err == nil {
		c.sent.Add(1)
		c.sup.metrics.push(PushSent)
		return true
	}
	c.failed.Add(1)

	var encErr *apns.EncodingError
	switch {
	case errors.As(err, &encErr):
		c.sup.metrics.push(PushInvalid)
		c.log.Warn("invalid notification", logx.Err(err))
	case errors.Is(err, errNoSession):
		c.sup.metrics.push(PushUnavailable)
		c.log.Warn("push without gateway session")
	default:
		c.sup.metrics.push(PushFailed)
		c.log.Warn("push failed", logx.Err(err))
	}
	return false
}

var errNoSession = errors.New("relay: no gateway session")

func (c *Context) push(deviceToken, message string) error {
	if c.done.Load() || c.up == nil {
		return errNoSession
	}
	frame, err := apns.Encode(deviceToken, message)
	if err != nil {
		return err
	}
	if lim := c.sup.limiter; lim != nil {
		if err := lim.Wait(c.ctx); err != nil {
			return err
		}
	}
	return c.up.Send(frame)
}
