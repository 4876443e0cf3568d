// Package trigger fires activations: once on demand (Fire) or on a cron
// schedule (Service). A trigger is an ordinary client of the activation
// endpoint, so scheduled runs queue behind manual ones.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pushrelay/internal/eventbus"
	logx "pushrelay/pkg/logx"
)

// EventFired is published after every scheduled activation.
const EventFired = "trigger.fired"

// maxStatus caps how much of the status line is read.
const maxStatus = 256

// Result is the Data of an EventFired event.
type Result struct {
	Status string        `json:"status"`
	Took   time.Duration `json:"took"`
	Err    string        `json:"err,omitempty"`
}

// Fire connects to addr, waits for the status line and returns it.
func Fire(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("trigger: dial %s: %w", addr, err)
	}
	defer c.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetReadDeadline(dl)
	}
	b, err := io.ReadAll(io.LimitReader(c, maxStatus))
	if err != nil {
		return strings.TrimSpace(string(b)), fmt.Errorf("trigger: read status: %w", err)
	}
	status := strings.TrimSpace(string(b))
	if status == "" {
		return "", errors.New("trigger: empty status")
	}
	return status, nil
}

// Config configures Service.
type Config struct {
	Addr     string
	Schedule string
	Timeout  time.Duration
}

// Service fires activations on a cron schedule.
type Service struct {
	mu sync.Mutex

	cfg    Config
	parser cron.Parser
	log    logx.Logger
	bus    eventbus.Bus
	fire   func(ctx context.Context, addr string, timeout time.Duration) (string, error)

	c *cron.Cron
}

func New(cfg Config, parser cron.Parser, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, parser: parser, log: log, bus: bus, fire: Fire}
}

// Run schedules activations until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	sched, err := s.parser.Parse(strings.TrimSpace(s.cfg.Schedule))
	if err != nil {
		return fmt.Errorf("trigger: schedule %q: %w", s.cfg.Schedule, err)
	}

	// SkipIfStillRunning: a slow delegate must not pile up triggers.
	c := cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { s.runOnce(ctx) }))

	s.mu.Lock()
	s.c = c
	s.mu.Unlock()

	c.Start()
	s.log.Info("trigger scheduler started", logx.String("schedule", s.cfg.Schedule), logx.String("addr", s.cfg.Addr))

	<-ctx.Done()
	<-c.Stop().Done()

	s.mu.Lock()
	s.c = nil
	s.mu.Unlock()
	return nil
}

// Next reports the next scheduled fire time, or zero when not running.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Service) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	status, err := s.fire(ctx, s.cfg.Addr, s.cfg.Timeout)
	res := Result{Status: status, Took: time.Since(start)}
	if err != nil {
		res.Err = err.Error()
		s.log.Warn("scheduled activation failed", logx.Err(err))
	} else {
		s.log.Debug("scheduled activation", logx.String("status", status), logx.Duration("took", res.Took))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventFired, Data: res})
	}
}
