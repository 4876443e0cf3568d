package relay

import (
	"context"

	"pushrelay/internal/activation"
	"pushrelay/internal/apns"
)

// GatewayDialer adapts an apns.Dialer.
func GatewayDialer(d *apns.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (Upstream, error) {
		c, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// TCPBinder binds the activation endpoint on addr.
func TCPBinder(addr string) Binder {
	return BinderFunc(func(ctx context.Context) (Listener, error) {
		ln, err := activation.Bind(ctx, addr)
		if err != nil {
			return nil, err
		}
		return tcpListener{ln}, nil
	})
}

type tcpListener struct{ ln *activation.Listener }

func (l tcpListener) AcceptOne(ctx context.Context) (Activation, error) {
	h, err := l.ln.AcceptOne(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (l tcpListener) Close() error { return l.ln.Close() }
