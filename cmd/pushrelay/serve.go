package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pushrelay/internal/apns"
	"pushrelay/internal/config"
	"pushrelay/internal/eventbus"
	"pushrelay/internal/outbox"
	"pushrelay/internal/relay"
	"pushrelay/internal/runtime/tasks"
	"pushrelay/internal/trigger"
	logx "pushrelay/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run", stderr)
	cfgPath := fs.StringP("config", "c", defaultConfigPath, "path to config file (json or yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	boot := logx.NewConsole("info").With(logx.String("comp", "boot"))

	cfgm := config.NewManager(*cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			boot.Error("invalid config", logx.String("path", *cfgPath), logx.Err(err))
		}
		return err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	defer logSvc.Close()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	tlsCfg, err := apns.ClientTLSConfig(apns.TLSOptions{
		CertFile:   cfg.Gateway.Cert,
		KeyFile:    cfg.Gateway.Key,
		CAFile:     cfg.Gateway.CAFile,
		ServerName: cfg.Gateway.ServerName,
	}, cfg.Gateway.Host)
	if err != nil {
		return &config.ConfigError{Field: "gateway.cert", Err: err}
	}
	dialer := &apns.Dialer{
		Addr:         cfg.GatewayAddr(),
		TLSConfig:    tlsCfg,
		Timeout:      cfg.ConnectTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	delegate, closeDelegate, err := buildDelegate(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDelegate()

	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(reg)

	minDelay, maxDelay := cfg.RestartDelayWindow()
	sup := relay.New(
		relay.TCPBinder(cfg.ListenAddr()),
		relay.GatewayDialer(dialer),
		delegate,
		relay.WithLogger(log.With(logx.String("comp", "relay"))),
		relay.WithBus(bus),
		relay.WithMetrics(metrics),
		relay.WithRestartDelay(minDelay, maxDelay),
		relay.WithPushRate(cfg.Push.RatePerSec, cfg.Push.Burst),
	)

	g := tasks.New(ctx, tasks.WithLogger(log.With(logx.String("comp", "tasks"))), tasks.WithCancelOnError(true))

	// The notifier subscribes before the relay starts so it sees the first
	// transition to serving.
	notifier := newSystemdNotifier(log.With(logx.String("comp", "systemd")), bus)
	g.Go("systemd", notifier.Run)

	g.Go("relay", sup.Run)

	g.GoRestart("config.watch", cfgm.Watch, tasks.WithRestartBackoff(time.Second, 30*time.Second))
	g.Go("config.apply", func(ctx context.Context) error {
		return applyConfig(ctx, cfgm, logSvc, log.With(logx.String("comp", "config")))
	})

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		ms := newMetricsServer(cfg.MetricsAddr(), reg, log.With(logx.String("comp", "metrics")), cfg.Metrics.Pprof)
		g.GoRestart("metrics", ms.Run, tasks.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if cfg.Trigger != nil && cfg.Trigger.Enabled {
		ts := trigger.New(trigger.Config{
			Addr:     cfg.LocalActivationAddr(),
			Schedule: cfg.Trigger.Schedule,
			Timeout:  cfg.TriggerTimeout(),
		}, config.CronParser, log.With(logx.String("comp", "trigger")), bus)
		g.Go("trigger", ts.Run)
	}

	log.Info("pushrelay started",
		logx.String("gateway", cfg.GatewayAddr()),
		logx.String("listen", cfg.ListenAddr()),
		logx.Duration("restart_min", minDelay),
		logx.Duration("restart_max", maxDelay),
	)

	<-g.Context().Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = g.Stop(stopCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("stopped with error", logx.Err(err))
		return err
	}
	log.Info("stopped", logx.String("state", sup.State().String()))
	return nil
}

// buildDelegate returns the outbox delegate when the outbox is enabled and a
// heartbeat delegate otherwise.
func buildDelegate(ctx context.Context, cfg *config.Config, log logx.Logger) (relay.Delegate, func(), error) {
	if cfg.Outbox == nil || !cfg.Outbox.Enabled {
		return heartbeat, func() {}, nil
	}
	store, err := outbox.Open(ctx, outbox.Config{Path: cfg.Outbox.Path, BusyTimeout: cfg.OutboxBusyTimeout()})
	if err != nil {
		return nil, nil, fmt.Errorf("open outbox: %w", err)
	}
	if n, err := store.PendingCount(ctx); err == nil {
		log.Info("outbox opened", logx.String("path", cfg.Outbox.Path), logx.Int("pending", n))
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn("outbox close failed", logx.Err(err))
		}
	}
	return outbox.Delegate(store, cfg.OutboxBatchSize()), closeFn, nil
}

// heartbeat keeps the upstream session open without sending anything.
func heartbeat(c *relay.Context) bool {
	c.Log("activation without outbox; nothing to send")
	return true
}

// applyConfig applies reloaded logging settings and reports sections that
// need a restart.
func applyConfig(ctx context.Context, cfgm *config.Manager, logSvc *logx.Service, log logx.Logger) error {
	ch := cfgm.Subscribe(4)
	defer cfgm.Unsubscribe(ch)

	current := cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-ch:
			if !ok {
				return nil
			}
			live, restart, attrs := config.SummarizeChange(current, next)
			if len(live) > 0 {
				logSvc.Apply(next.LogConfig())
				log.Info("config applied", append([]logx.Field{logx.Any("sections", live)}, attrs...)...)
			}
			if len(restart) > 0 {
				log.Warn("config change needs restart", logx.Any("sections", restart))
			}
			current = next
		}
	}
}
