package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Config is the on-disk configuration (JSON, or YAML by file extension).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Listen       ListenConfig       `json:"listen"`
	RestartDelay RestartDelayConfig `json:"restart_delay"`
	Push         PushConfig         `json:"push"`
	Logging      LoggingConfig      `json:"logging"`

	Outbox  *OutboxConfig  `json:"outbox,omitempty"`
	Trigger *TriggerConfig `json:"trigger,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty"`
}

// GatewayConfig describes the upstream push gateway.
//
// Example:
//
//	"gateway": { "host": "gateway.sandbox.push.apple.com", "port": 2195, "cert": "apns-cert.pem" }
type GatewayConfig struct {
	Host string `json:"host"`
	Port Port   `json:"port"`
	// Cert is a PEM client certificate. Key defaults to the same file.
	Cert       string `json:"cert"`
	Key        string `json:"key,omitempty"`
	CAFile     string `json:"ca_file,omitempty"`
	ServerName string `json:"server_name,omitempty"`

	// ConnectTimeout bounds dial + TLS handshake. Default "15s".
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	// WriteTimeout bounds each frame write. Default "0s" (disabled).
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// ListenConfig is the local activation endpoint.
type ListenConfig struct {
	Host string `json:"host,omitempty"` // default: "0.0.0.0"
	Port Port   `json:"port"`
}

// RestartDelayConfig is the jitter window slept after every failure.
// Defaults: min "5s", max "15s".
type RestartDelayConfig struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}

// PushConfig throttles frames sent upstream. RatePerSec 0 disables throttling.
type PushConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OutboxConfig enables the SQLite-backed reference delegate.
//
// Example:
//
//	"outbox": { "enabled": true, "path": "./pushrelay.db", "batch_size": 100 }
type OutboxConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`
	BatchSize   int    `json:"batch_size,omitempty"`   // default 100
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"
}

// TriggerConfig schedules self-activations (robfig/cron spec or "@every 1m").
type TriggerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timeout  string `json:"timeout,omitempty"` // default "30s"
}

// MetricsConfig controls the Prometheus endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9102").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9102"
	// Pprof mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// Port is a TCP port. It decodes from a JSON number or a numeric string.
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("port %s is not numeric", string(b))
	}
	*p = Port(n)
	return nil
}

func (p Port) Valid() bool { return p > 0 && p <= 65535 }
