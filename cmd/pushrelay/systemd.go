package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pushrelay/internal/eventbus"
	"pushrelay/internal/relay"
	logx "pushrelay/pkg/logx"
)

// systemdNotifier reports readiness and state to the service manager.
// Outside systemd (no NOTIFY_SOCKET) every notify is a no-op.
type systemdNotifier struct {
	log    logx.Logger
	events <-chan eventbus.Event
	unsub  func()

	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func newSystemdNotifier(log logx.Logger, bus eventbus.Bus) *systemdNotifier {
	events, unsub := bus.Subscribe(16)
	return &systemdNotifier{
		log:      log,
		events:   events,
		unsub:    unsub,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *systemdNotifier) Run(ctx context.Context) error {
	defer n.unsub()

	var tick <-chan time.Time
	if interval, err := n.watchdog(); err == nil && interval > 0 {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		tick = t.C
		n.log.Debug("watchdog enabled", logx.Duration("interval", interval))
	}

	ready := false
	for {
		select {
		case <-ctx.Done():
			n.send(daemon.SdNotifyStopping)
			return nil
		case <-tick:
			n.send(daemon.SdNotifyWatchdog)
		case e, ok := <-n.events:
			if !ok {
				return nil
			}
			if e.Type != relay.EventState {
				continue
			}
			ev, ok := e.Data.(relay.StateEvent)
			if !ok {
				continue
			}
			n.send("STATUS=" + ev.To.String())
			if ev.To == relay.StateServing && !ready {
				ready = true
				n.send(daemon.SdNotifyReady)
			}
		}
	}
}

func (n *systemdNotifier) send(state string) {
	if _, err := n.notify(state); err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
