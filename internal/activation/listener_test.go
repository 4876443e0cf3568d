package activation

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestAcceptRespond(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer l.Close()

	got := make(chan string, 1)
	go func() {
		c, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			got <- "dial: " + err.Error()
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		got <- string(b)
	}()

	h, err := l.AcceptOne(context.Background())
	if err != nil {
		t.Fatalf("AcceptOne: %v", err)
	}
	if h.RemoteAddr() == "" {
		t.Fatalf("empty remote addr")
	}
	if err := h.Respond("SAPNS alive..."); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close after Respond should be a no-op, got %v", err)
	}

	select {
	case s := <-got:
		if s != "SAPNS alive..." {
			t.Fatalf("client read %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("client never finished reading")
	}
}

func TestBindPortInUse(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer l.Close()

	_, err = Bind(context.Background(), l.Addr().String())
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("err = %v, want *BindError", err)
	}
}

func TestAcceptAfterClose(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_, err = l.AcceptOne(context.Background())
	var acceptErr *AcceptError
	if !errors.As(err, &acceptErr) || !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want AcceptError(ErrClosed)", err)
	}
}

func TestAcceptHonoursContext(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.AcceptOne(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("AcceptOne did not return after cancel")
	}
}
