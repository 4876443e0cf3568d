package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pushrelay/internal/apns"
	logx "pushrelay/pkg/logx"
)

const (
	DefaultRestartDelayMin = 5 * time.Second
	DefaultRestartDelayMax = 15 * time.Second
	DefaultListenHost      = "0.0.0.0"
	DefaultMetricsAddr     = "127.0.0.1:9102"
	DefaultOutboxBatch     = 100
	DefaultOutboxBusy      = 5 * time.Second
	DefaultTriggerTimeout  = 30 * time.Second
)

// CronParser accepts standard 5-field specs plus descriptors (@every, @hourly).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks every field the relay needs before it starts.
// The first problem is returned as a *ConfigError.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Reason: "config is nil"}
	}

	if strings.TrimSpace(c.Gateway.Host) == "" {
		return &ConfigError{Field: "gateway.host", Reason: "is required"}
	}
	if !c.Gateway.Port.Valid() {
		return &ConfigError{Field: "gateway.port", Reason: "must be 1-65535"}
	}
	if strings.TrimSpace(c.Gateway.Cert) == "" {
		return &ConfigError{Field: "gateway.cert", Reason: "is required"}
	}
	if _, err := apns.LoadCredential(c.Gateway.Cert, c.Gateway.Key); err != nil {
		return &ConfigError{Field: "gateway.cert", Reason: "unusable credential", Err: err}
	}
	if _, err := duration("gateway.connect_timeout", c.Gateway.ConnectTimeout, 0); err != nil {
		return err
	}
	if _, err := duration("gateway.write_timeout", c.Gateway.WriteTimeout, 0); err != nil {
		return err
	}

	if !c.Listen.Port.Valid() {
		return &ConfigError{Field: "listen.port", Reason: "must be 1-65535"}
	}

	if _, _, err := c.restartDelay(); err != nil {
		return err
	}

	if c.Push.RatePerSec < 0 || c.Push.Burst < 0 {
		return &ConfigError{Field: "push", Reason: "rate_per_sec and burst must be >= 0"}
	}

	if !logx.ValidLevel(c.Logging.Level) {
		return &ConfigError{Field: "logging.level", Reason: "unknown level " + strconv.Quote(c.Logging.Level)}
	}

	if o := c.Outbox; o != nil && o.Enabled {
		if strings.TrimSpace(o.Path) == "" {
			return &ConfigError{Field: "outbox.path", Reason: "is required when outbox is enabled"}
		}
		if o.BatchSize < 0 {
			return &ConfigError{Field: "outbox.batch_size", Reason: "must be >= 0"}
		}
		if _, err := duration("outbox.busy_timeout", o.BusyTimeout, 0); err != nil {
			return err
		}
	}

	if tr := c.Trigger; tr != nil && tr.Enabled {
		if _, err := CronParser.Parse(strings.TrimSpace(tr.Schedule)); err != nil {
			return &ConfigError{Field: "trigger.schedule", Reason: "invalid schedule", Err: err}
		}
		if _, err := duration("trigger.timeout", tr.Timeout, 0); err != nil {
			return err
		}
	}

	if m := c.Metrics; m != nil && m.Enabled {
		if _, _, err := net.SplitHostPort(c.MetricsAddr()); err != nil {
			return &ConfigError{Field: "metrics.addr", Err: err}
		}
	}
	return nil
}

// Accessors below assume Validate succeeded.

func (c *Config) GatewayAddr() string {
	return net.JoinHostPort(strings.TrimSpace(c.Gateway.Host), strconv.Itoa(int(c.Gateway.Port)))
}

func (c *Config) ListenAddr() string {
	host := strings.TrimSpace(c.Listen.Host)
	if host == "" {
		host = DefaultListenHost
	}
	return net.JoinHostPort(host, strconv.Itoa(int(c.Listen.Port)))
}

// LocalActivationAddr is where a local client should dial to trigger the relay.
func (c *Config) LocalActivationAddr() string {
	host := strings.TrimSpace(c.Listen.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(int(c.Listen.Port)))
}

func (c *Config) ConnectTimeout() time.Duration {
	d, _ := duration("gateway.connect_timeout", c.Gateway.ConnectTimeout, apns.DefaultConnectTimeout)
	return d
}

func (c *Config) WriteTimeout() time.Duration {
	d, _ := duration("gateway.write_timeout", c.Gateway.WriteTimeout, 0)
	return d
}

func (c *Config) RestartDelayWindow() (time.Duration, time.Duration) {
	minD, maxD, _ := c.restartDelay()
	return minD, maxD
}

// restartDelay resolves the jitter window. An unset bound follows the other
// one when its default would invert the window, so "max: 2s" alone means
// [2s, 2s] and "min: 30s" alone means [30s, 30s].
func (c *Config) restartDelay() (time.Duration, time.Duration, error) {
	minD, err := duration("restart_delay.min", c.RestartDelay.Min, DefaultRestartDelayMin)
	if err != nil {
		return 0, 0, err
	}
	maxD, err := duration("restart_delay.max", c.RestartDelay.Max, DefaultRestartDelayMax)
	if err != nil {
		return 0, 0, err
	}
	minSet := strings.TrimSpace(c.RestartDelay.Min) != ""
	maxSet := strings.TrimSpace(c.RestartDelay.Max) != ""
	if maxD < minD {
		switch {
		case maxSet && !minSet:
			minD = maxD
		case minSet && !maxSet:
			maxD = minD
		default:
			return 0, 0, &ConfigError{Field: "restart_delay", Reason: "max must be >= min"}
		}
	}
	return minD, maxD, nil
}

func (c *Config) OutboxBatchSize() int {
	if c.Outbox == nil || c.Outbox.BatchSize <= 0 {
		return DefaultOutboxBatch
	}
	return c.Outbox.BatchSize
}

func (c *Config) OutboxBusyTimeout() time.Duration {
	if c.Outbox == nil {
		return DefaultOutboxBusy
	}
	d, _ := duration("outbox.busy_timeout", c.Outbox.BusyTimeout, DefaultOutboxBusy)
	return d
}

func (c *Config) TriggerTimeout() time.Duration {
	if c.Trigger == nil {
		return DefaultTriggerTimeout
	}
	d, _ := duration("trigger.timeout", c.Trigger.Timeout, DefaultTriggerTimeout)
	if d <= 0 {
		return DefaultTriggerTimeout
	}
	return d
}

func (c *Config) MetricsAddr() string {
	if c.Metrics == nil || strings.TrimSpace(c.Metrics.Addr) == "" {
		return DefaultMetricsAddr
	}
	return strings.TrimSpace(c.Metrics.Addr)
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}
