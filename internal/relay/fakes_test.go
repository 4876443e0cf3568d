package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// journal records externally observable calls in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.snapshot() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) index(entry string, from int) int {
	s := j.snapshot()
	for i := from; i < len(s); i++ {
		if s[i] == entry {
			return i
		}
	}
	return -1
}

type fakeUpstream struct {
	j      *journal
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   error
}

func (u *fakeUpstream) Send(frame []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return errors.New("closed")
	}
	if u.fail != nil {
		return u.fail
	}
	u.frames = append(u.frames, append([]byte(nil), frame...))
	u.j.add("up.send")
	return nil
}

func (u *fakeUpstream) Close() error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	u.j.add("up.close")
	return nil
}

func (u *fakeUpstream) sent() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([][]byte(nil), u.frames...)
}

type fakeDialer struct {
	j     *journal
	err   error // returned while fails > 0 or forever when failAll
	fails atomic.Int32

	failAll bool
	mu      sync.Mutex
	last    *fakeUpstream
	dials   atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context) (Upstream, error) {
	d.dials.Add(1)
	d.j.add("dial")
	if d.failAll || d.fails.Add(-1) >= 0 {
		return nil, d.err
	}
	u := &fakeUpstream{j: d.j}
	d.mu.Lock()
	d.last = u
	d.mu.Unlock()
	return u, nil
}

func (d *fakeDialer) upstream() *fakeUpstream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type fakeActivation struct {
	j        *journal
	mu       sync.Mutex
	response string
	closed   bool
	answered chan struct{}
}

func newActivation(j *journal) *fakeActivation {
	return &fakeActivation{j: j, answered: make(chan struct{})}
}

func (a *fakeActivation) Respond(status string) error {
	a.mu.Lock()
	a.response = status
	a.mu.Unlock()
	a.j.add("respond:%s", status)
	close(a.answered)
	return a.Close()
}

func (a *fakeActivation) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		a.j.add("act.close")
	}
	return nil
}

func (a *fakeActivation) RemoteAddr() string { return "127.0.0.1:50000" }

func (a *fakeActivation) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// fakeListener serves activations pushed on queue.
type fakeListener struct {
	j       *journal
	queue   chan Activation
	accepts atomic.Int32
	closed  chan struct{}
	once    sync.Once

	// acceptErr, when set, is returned by the next AcceptOne.
	acceptErr error
}

func (l *fakeListener) AcceptOne(ctx context.Context) (Activation, error) {
	l.accepts.Add(1)
	l.j.add("accept")
	if err := l.acceptErr; err != nil {
		l.acceptErr = nil
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, errors.New("listener closed")
	case a := <-l.queue:
		return a, nil
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.j.add("ln.close")
	})
	return nil
}

type fakeBinder struct {
	j     *journal
	queue chan Activation
	err   error
	fails atomic.Int32
	binds atomic.Int32

	mu        sync.Mutex
	listeners []*fakeListener
	// acceptErr is installed on the next listener created.
	acceptErr error
}

func newBinder(j *journal) *fakeBinder {
	return &fakeBinder{j: j, queue: make(chan Activation, 16)}
}

func (b *fakeBinder) Bind(ctx context.Context) (Listener, error) {
	b.binds.Add(1)
	b.j.add("bind")
	if b.fails.Add(-1) >= 0 {
		return nil, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &fakeListener{j: b.j, queue: b.queue, closed: make(chan struct{}), acceptErr: b.acceptErr}
	b.acceptErr = nil
	b.listeners = append(b.listeners, l)
	return l, nil
}

// sleeper records requested delays and returns immediately.
type sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	// Yield so tight retry loops don't starve the test goroutine.
	time.Sleep(time.Millisecond)
	return ctx.Err()
}

func (s *sleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *sleeper) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
