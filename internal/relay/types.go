package relay

import (
	"context"
	"time"
)

// Status lines written back to activation clients.
const (
	StatusAlive  = "SAPNS alive..."
	StatusBroken = "Broken APNS pipe... restarting server"
)

// Event types published on the bus.
const (
	EventState      = "relay.state"
	EventActivation = "relay.activation"
)

// State is a supervisor state.
type State int32

const (
	StateIdle State = iota
	StateBinding
	StateConnecting
	StateServing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBinding:
		return "binding"
	case StateConnecting:
		return "connecting"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Upstream is an open gateway session.
type Upstream interface {
	Send(frame []byte) error
	Close() error
}

// Dialer opens gateway sessions. It must not retry internally.
type Dialer interface {
	Dial(ctx context.Context) (Upstream, error)
}

// Activation is one accepted trigger connection.
type Activation interface {
	// Respond writes status and closes the activation.
	Respond(status string) error
	Close() error
	RemoteAddr() string
}

// Listener hands out activations one at a time.
type Listener interface {
	AcceptOne(ctx context.Context) (Activation, error)
	Close() error
}

// Binder opens the activation listener.
type Binder interface {
	Bind(ctx context.Context) (Listener, error)
}

// Delegate is the business logic run once per activation. Returning false
// restarts the whole pipeline.
type Delegate func(rc *Context) bool

type DialerFunc func(ctx context.Context) (Upstream, error)

func (f DialerFunc) Dial(ctx context.Context) (Upstream, error) { return f(ctx) }

type BinderFunc func(ctx context.Context) (Listener, error)

func (f BinderFunc) Bind(ctx context.Context) (Listener, error) { return f(ctx) }

// StateEvent is the Data of an EventState event.
type StateEvent struct {
	From  State  `json:"from"`
	To    State  `json:"to"`
	Cycle uint64 `json:"cycle"`
}

// ActivationEvent is the Data of an EventActivation event.
type ActivationEvent struct {
	ID       string        `json:"id"`
	Remote   string        `json:"remote"`
	OK       bool          `json:"ok"`
	Sent     int64         `json:"sent"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
