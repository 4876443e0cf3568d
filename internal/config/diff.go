package config

import (
	"reflect"

	logx "pushrelay/pkg/logx"
)

// SummarizeChange compares two configs. It returns the changed sections that
// are applied live, the changed sections that only take effect after a
// restart, and safe structured attrs for logging (never file contents).
func SummarizeChange(oldCfg, newCfg *Config) (live, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		live = append(live, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Gateway != newCfg.Gateway {
		restart = append(restart, "gateway")
		attrs = append(attrs, logx.String("gateway.addr", newCfg.GatewayAddr()))
	}
	if oldCfg.Listen != newCfg.Listen {
		restart = append(restart, "listen")
		attrs = append(attrs, logx.String("listen.addr", newCfg.ListenAddr()))
	}
	if oldCfg.RestartDelay != newCfg.RestartDelay {
		restart = append(restart, "restart_delay")
	}
	if oldCfg.Push != newCfg.Push {
		restart = append(restart, "push")
	}
	if !reflect.DeepEqual(oldCfg.Outbox, newCfg.Outbox) {
		restart = append(restart, "outbox")
	}
	if !reflect.DeepEqual(oldCfg.Trigger, newCfg.Trigger) {
		restart = append(restart, "trigger")
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		restart = append(restart, "metrics")
	}
	return live, restart, attrs
}
