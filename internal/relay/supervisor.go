package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pushrelay/internal/eventbus"
	logx "pushrelay/pkg/logx"
)

const (
	DefaultRestartDelayMin = 5 * time.Second
	DefaultRestartDelayMax = 15 * time.Second
)

// Supervisor owns one listener and at most one upstream session.
// It is not safe to call Run concurrently on the same value.
type Supervisor struct {
	binder   Binder
	dialer   Dialer
	delegate Delegate

	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	limiter *rate.Limiter

	delayMin time.Duration
	delayMax time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	state atomic.Int32
	cycle atomic.Uint64

	// Owned by the Run goroutine.
	ln Listener
	up Upstream
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithBus publishes state transitions and activation results on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Supervisor) { s.bus = bus }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithRestartDelay sets the jitter window slept after every failure.
func WithRestartDelay(min, max time.Duration) Option {
	return func(s *Supervisor) {
		s.delayMin = min
		s.delayMax = max
	}
}

// WithPushRate throttles Push to perSec frames per second. perSec <= 0
// disables throttling; burst defaults to perSec.
func WithPushRate(perSec, burst int) Option {
	return func(s *Supervisor) {
		if perSec <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = perSec
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithSleep replaces the backoff sleep. The function must return ctx.Err()
// when ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

func New(binder Binder, dialer Dialer, delegate Delegate, opts ...Option) *Supervisor {
	s := &Supervisor{
		binder:   binder,
		dialer:   dialer,
		delegate: delegate,
		delayMin: DefaultRestartDelayMin,
		delayMax: DefaultRestartDelayMax,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.delayMin < 0 {
		s.delayMin = 0
	}
	if s.delayMax < s.delayMin {
		s.delayMax = s.delayMin
	}
	return s
}

// State reports the current state. Safe from any goroutine.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Run drives the pipeline until ctx is cancelled, then tears down and
// returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	if s.binder == nil || s.dialer == nil || s.delegate == nil {
		return errors.New("relay: binder, dialer and delegate are required")
	}
	defer func() {
		s.teardown()
		s.setState(StateStopped)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.bind(ctx) {
			continue
		}
		if !s.connect(ctx) {
			continue
		}
		s.serve(ctx)
		s.drain(ctx)
	}
}

func (s *Supervisor) bind(ctx context.Context) bool {
	cycle := s.cycle.Add(1)
	s.setState(StateBinding)
	s.log.Info("creating activation listener", logx.Uint64("cycle", cycle))

	ln, err := s.binder.Bind(ctx)
	if err != nil {
		s.metrics.failure(StageBind)
		s.log.Warn("unable to create activation listener", logx.Err(err))
		_ = s.backoff(ctx)
		return false
	}
	s.ln = ln
	return true
}

// connect dials until it succeeds. The listener stays bound meanwhile.
// It returns false only when ctx is done.
func (s *Supervisor) connect(ctx context.Context) bool {
	s.setState(StateConnecting)
	s.log.Info("listener up; connecting to gateway")
	for {
		up, err := s.dialer.Dial(ctx)
		if err == nil {
			s.up = up
			s.log.Info("connected to gateway")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.metrics.failure(StageConnect)
		s.log.Warn("error occurred while connecting to gateway", logx.Err(err))
		if s.backoff(ctx) != nil {
			return false
		}
	}
}

func (s *Supervisor) serve(ctx context.Context) {
	s.setState(StateServing)
	for {
		act, err := s.ln.AcceptOne(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.metrics.failure(StageAccept)
				s.log.Warn("activation listener broken", logx.Err(err))
			}
			return
		}
		if !s.activate(ctx, act) {
			return
		}
	}
}

// activate runs the delegate for one activation. The activation is closed
// on every path before activate returns.
func (s *Supervisor) activate(ctx context.Context, act Activation) bool {
	defer act.Close()

	rc := &Context{
		ctx: ctx,
		id:  uuid.NewString(),
		up:  s.up,
		sup: s,
	}
	rc.log = s.log.With(logx.String("activation", rc.id))
	rc.log.Debug("activation accepted", logx.String("remote", act.RemoteAddr()))

	start := time.Now()
	ok := s.invoke(rc)
	rc.done.Store(true)
	took := time.Since(start)

	status := StatusAlive
	if !ok {
		status = StatusBroken
	}
	if err := act.Respond(status); err != nil {
		rc.log.Debug("activation respond failed", logx.Err(err))
	}

	s.metrics.activation(ok, took)
	ev := ActivationEvent{
		ID:       rc.id,
		Remote:   act.RemoteAddr(),
		OK:       ok,
		Sent:     rc.sent.Load(),
		Failed:   rc.failed.Load(),
		Duration: took,
	}
	s.publish(EventActivation, ev)
	if ok {
		rc.log.Debug("activation done", logx.Int64("sent", ev.Sent), logx.Duration("took", took))
	} else {
		rc.log.Warn("delegate requested restart", logx.Int64("sent", ev.Sent), logx.Int64("failed", ev.Failed))
	}
	return ok
}

// invoke runs the delegate; a panic counts as false.
func (s *Supervisor) invoke(rc *Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.failure(StageDelegate)
			rc.log.Error("delegate panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			ok = false
		}
	}()
	return s.delegate(rc)
}

func (s *Supervisor) drain(ctx context.Context) {
	s.setState(StateDraining)
	s.log.Info("server has stopped listening")
	s.teardown()
	_ = s.backoff(ctx)
}

// teardown closes the upstream session, then the listener.
func (s *Supervisor) teardown() {
	if s.up != nil {
		if err := s.up.Close(); err != nil {
			s.log.Debug("gateway close", logx.Err(err))
		}
		s.up = nil
	}
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			s.log.Debug("listener close", logx.Err(err))
		}
		s.ln = nil
	}
}

// RestartDelay draws a delay uniformly from the configured window.
func (s *Supervisor) RestartDelay() time.Duration {
	span := s.delayMax - s.delayMin
	if span <= 0 {
		return s.delayMin
	}
	return s.delayMin + rand.N(span+1)
}

func (s *Supervisor) backoff(ctx context.Context) error {
	d := s.RestartDelay()
	s.log.Info("retrying after delay", logx.Duration("delay", d))
	return s.sleep(ctx, d)
}

func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	s.metrics.setState(to)
	if from != to {
		s.publish(EventState, StateEvent{From: from, To: to, Cycle: s.cycle.Load()})
	}
}

func (s *Supervisor) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cycle reports how many times the relay has entered binding.
func (s *Supervisor) Cycle() uint64 { return s.cycle.Load() }

func (s *Supervisor) String() string {
	return fmt.Sprintf("relay.Supervisor{state=%s cycle=%d}", s.State(), s.Cycle())
}
