package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pushrelay/internal/testutil"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func validJSON(cert string) string {
	return fmt.Sprintf(`{
  "gateway": {"host": "gw.test", "port": 1234, "cert": %q},
  "listen": {"port": 9000},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`, cert)
}

func TestLoadValidJSON(t *testing.T) {
	fx := testutil.NewTLSFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "relay.json", validJSON(fx.ClientCertFile))

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GatewayAddr(); got != "gw.test:1234" {
		t.Fatalf("GatewayAddr = %q", got)
	}
	if got := cfg.ListenAddr(); got != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q", got)
	}
	if got := cfg.LocalActivationAddr(); got != "127.0.0.1:9000" {
		t.Fatalf("LocalActivationAddr = %q", got)
	}
	minD, maxD := cfg.RestartDelayWindow()
	if minD != 5*time.Second || maxD != 15*time.Second {
		t.Fatalf("restart window = %v..%v, want 5s..15s", minD, maxD)
	}
	if cfg.ConnectTimeout() != 15*time.Second {
		t.Fatalf("ConnectTimeout = %v", cfg.ConnectTimeout())
	}
}

func TestLoadYAMLWithStringPorts(t *testing.T) {
	fx := testutil.NewTLSFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "relay.yaml", fmt.Sprintf(`
gateway:
  host: gw.test
  port: "2195"
  cert: %s
  connect_timeout: 3s
listen:
  host: 127.0.0.1
  port: 6000
restart_delay:
  min: 1s
  max: 2s
trigger:
  enabled: true
  schedule: "@every 1m"
`, fx.ClientCertFile))

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 2195 {
		t.Fatalf("gateway.port = %d", cfg.Gateway.Port)
	}
	if cfg.ConnectTimeout() != 3*time.Second {
		t.Fatalf("ConnectTimeout = %v", cfg.ConnectTimeout())
	}
	if minD, maxD := cfg.RestartDelayWindow(); minD != time.Second || maxD != 2*time.Second {
		t.Fatalf("restart window = %v..%v", minD, maxD)
	}
}

func TestValidateFailsFast(t *testing.T) {
	fx := testutil.NewTLSFixture(t)
	dir := t.TempDir()
	garbage := writeFile(t, dir, "garbage.pem", "not a certificate")

	base := func() *Config {
		return &Config{
			Gateway: GatewayConfig{Host: "gw.test", Port: 2195, Cert: fx.ClientCertFile},
			Listen:  ListenConfig{Port: 6000},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := []struct {
		name  string
		field string
		mut   func(c *Config)
	}{
		{"empty host", "gateway.host", func(c *Config) { c.Gateway.Host = " " }},
		{"zero port", "gateway.port", func(c *Config) { c.Gateway.Port = 0 }},
		{"port range", "listen.port", func(c *Config) { c.Listen.Port = 70000 }},
		{"missing cert", "gateway.cert", func(c *Config) { c.Gateway.Cert = filepath.Join(dir, "nope.pem") }},
		{"garbage cert", "gateway.cert", func(c *Config) { c.Gateway.Cert = garbage }},
		{"bad timeout", "gateway.connect_timeout", func(c *Config) { c.Gateway.ConnectTimeout = "soon" }},
		{"inverted delay", "restart_delay", func(c *Config) { c.RestartDelay = RestartDelayConfig{Min: "10s", Max: "1s"} }},
		{"bad level", "logging.level", func(c *Config) { c.Logging.Level = "loud" }},
		{"outbox path", "outbox.path", func(c *Config) { c.Outbox = &OutboxConfig{Enabled: true} }},
		{"bad schedule", "trigger.schedule", func(c *Config) { c.Trigger = &TriggerConfig{Enabled: true, Schedule: "whenever"} }},
		{"negative rate", "push", func(c *Config) { c.Push.RatePerSec = -1 }},
	}
	for _, tc := range cases {
		c := base()
		tc.mut(c)
		err := c.Validate()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: err = %v, want *ConfigError", tc.name, err)
		}
		if cfgErr.Field != tc.field {
			t.Fatalf("%s: field = %q, want %q", tc.name, cfgErr.Field, tc.field)
		}
	}
}

func TestParseRejectsNonNumericPortAndUnknownFields(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"port.json":    `{"gateway": {"host": "gw", "port": "abc", "cert": "x"}, "listen": {"port": 1}}`,
		"unknown.json": `{"gateway": {"host": "gw", "port": 1, "cert": "x"}, "listen": {"port": 1}, "extra": true}`,
		"trail.json":   `{"listen": {"port": 1}} {}`,
	} {
		_, err := NewManager(writeFile(t, dir, name, body)).Parse()
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: err = %v, want *ConfigError", name, err)
		}
	}
}

func TestReloadPublishesChanges(t *testing.T) {
	fx := testutil.NewTLSFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "relay.json", validJSON(fx.ClientCertFile))

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Unchanged content: nothing published.
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("unchanged reload should not publish")
	default:
	}

	writeFile(t, dir, "relay.json", strings.Replace(validJSON(fx.ClientCertFile), `"info"`, `"debug"`, 1))
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatalf("changed reload should publish")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("Get not updated")
	}

	// Invalid content is rejected and the committed config stays.
	writeFile(t, dir, "relay.json", `{"gateway": {"host": ""}, "listen": {"port": 1}}`)
	if err := m.Reload(); err == nil {
		t.Fatalf("expected invalid reload to fail")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("invalid reload replaced committed config")
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Gateway: GatewayConfig{Host: "a", Port: 1}, Logging: LoggingConfig{Level: "info"}}
	b := &Config{Gateway: GatewayConfig{Host: "b", Port: 1}, Logging: LoggingConfig{Level: "debug"}}
	live, restart, _ := SummarizeChange(a, b)
	if len(live) != 1 || live[0] != "logging" {
		t.Fatalf("live = %v", live)
	}
	if len(restart) != 1 || restart[0] != "gateway" {
		t.Fatalf("restart = %v", restart)
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		def  time.Duration
		want time.Duration
		ok   bool
	}{
		{"", 5 * time.Second, 5 * time.Second, true},
		{"0s", 5 * time.Second, 0, true},
		{" 250ms ", 0, 250 * time.Millisecond, true},
		{"-1s", 0, 0, false},
		{"later", 0, 0, false},
	}
	for _, tc := range cases {
		got, err := duration("x.timeout", tc.raw, tc.def)
		if tc.ok != (err == nil) {
			t.Fatalf("duration(%q) err = %v", tc.raw, err)
		}
		if err != nil {
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != "x.timeout" {
				t.Fatalf("duration(%q) err = %#v, want ConfigError for x.timeout", tc.raw, err)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("duration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestEmptyYAMLFailsValidation(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yaml", "")
	_, err := NewManager(path).Load()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "gateway.host" {
		t.Fatalf("err = %v, want gateway.host ConfigError", err)
	}
}

func TestRestartDelayWindow(t *testing.T) {
	cases := []struct {
		name     string
		min, max string
		wantMin  time.Duration
		wantMax  time.Duration
	}{
		{"defaults", "", "", DefaultRestartDelayMin, DefaultRestartDelayMax},
		{"zero min", "0s", "", 0, DefaultRestartDelayMax},
		{"zero window", "0s", "0s", 0, 0},
		{"max below default min", "", "2s", 2 * time.Second, 2 * time.Second},
		{"min above default max", "30s", "", 30 * time.Second, 30 * time.Second},
		{"explicit", "1s", "3s", time.Second, 3 * time.Second},
	}
	for _, tc := range cases {
		c := &Config{RestartDelay: RestartDelayConfig{Min: tc.min, Max: tc.max}}
		minD, maxD, err := c.restartDelay()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if minD != tc.wantMin || maxD != tc.wantMax {
			t.Fatalf("%s: window = [%v, %v], want [%v, %v]", tc.name, minD, maxD, tc.wantMin, tc.wantMax)
		}
		if gotMin, gotMax := c.RestartDelayWindow(); gotMin != minD || gotMax != maxD {
			t.Fatalf("%s: RestartDelayWindow = [%v, %v]", tc.name, gotMin, gotMax)
		}
	}

	c := &Config{RestartDelay: RestartDelayConfig{Min: "10s", Max: "1s"}}
	_, _, err := c.restartDelay()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "restart_delay" {
		t.Fatalf("inverted window err = %v", err)
	}
}
