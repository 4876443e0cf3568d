// Command pushrelay keeps a TLS session to the push gateway open and sends
// notifications whenever a client connects to the local activation port.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"pushrelay/internal/config"
	"pushrelay/internal/outbox"
	"pushrelay/internal/trigger"
)

const defaultConfigPath = "./config.json"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches the subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd, rest := splitCommand(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "run":
		err = runServe(ctx, rest, stdout, stderr)
	case "enqueue":
		err = runEnqueue(ctx, rest, stdout, stderr)
	case "trigger":
		err = runTrigger(ctx, rest, stdout, stderr)
	case "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintln(stderr, "fatal:", err)
		return 1
	}
}

var errUsage = errors.New("usage")

// splitCommand treats a leading non-flag argument as the subcommand.
// No subcommand means "run".
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "run", args
	}
	return args[0], args[1:]
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage:
  pushrelay [run] --config FILE
  pushrelay enqueue --config FILE --token HEX --message TEXT
  pushrelay trigger [--addr HOST:PORT | --config FILE] [--timeout 30s]
`)
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

func runEnqueue(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("enqueue", stderr)
	cfgPath := fs.StringP("config", "c", defaultConfigPath, "path to config file (json or yaml)")
	token := fs.StringP("token", "t", "", "device token (64 hex chars)")
	message := fs.StringP("message", "m", "", "alert text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" || *message == "" {
		fmt.Fprintln(stderr, "enqueue: --token and --message are required")
		return errUsage
	}

	cfg, err := config.NewManager(*cfgPath).Load()
	if err != nil {
		return err
	}
	if cfg.Outbox == nil || !cfg.Outbox.Enabled {
		return fmt.Errorf("enqueue: %w", outbox.ErrDisabled)
	}

	store, err := outbox.Open(ctx, outbox.Config{Path: cfg.Outbox.Path, BusyTimeout: cfg.OutboxBusyTimeout()})
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Enqueue(ctx, *token, *message)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "queued #%d\n", id)
	return nil
}

func runTrigger(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("trigger", stderr)
	addr := fs.StringP("addr", "a", "", "activation address (default: derived from --config)")
	cfgPath := fs.StringP("config", "c", defaultConfigPath, "path to config file, used when --addr is empty")
	timeout := fs.Duration("timeout", config.DefaultTriggerTimeout, "how long to wait for the status line")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := strings.TrimSpace(*addr)
	if target == "" {
		cfg, err := config.NewManager(*cfgPath).Load()
		if err != nil {
			return err
		}
		target = cfg.LocalActivationAddr()
	}

	start := time.Now()
	status, err := trigger.Fire(ctx, target, *timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (%s)\n", status, time.Since(start).Round(time.Millisecond))
	return nil
}
