package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/brand"
	"grimm.is/aclsync/internal/client"
	"grimm.is/aclsync/internal/config"
	"grimm.is/aclsync/internal/errors"
)

// RunDump prints the daemon's FAL object tree.
func RunDump(ctx context.Context, remote *RemoteOptions) error {
	dump, err := remote.Client().GetDump(ctx)
	if err != nil {
		return err
	}
	fmt.Print(dump)
	return nil
}

// RunClear zeroes the hardware counters selected by the filter flags.
func RunClear(ctx context.Context, remote *RemoteOptions, f acl.Filter) error {
	filter, err := normalizeFilter(f)
	if err != nil {
		return err
	}
	if err := remote.Client().ClearCounters(ctx, filter); err != nil {
		return err
	}
	Printer.Println("Counters cleared.")
	return nil
}

// RunEvents prints websocket messages as JSON lines until ctx is done.
func RunEvents(ctx context.Context, remote *RemoteOptions, topics []string) error {
	return tailEvents(ctx, os.Stdout, remote.Client(), topics)
}

type eventTailer interface {
	TailEvents(ctx context.Context, topics []string, fn func(client.Message)) error
}

func tailEvents(ctx context.Context, w io.Writer, c eventTailer, topics []string) error {
	return c.TailEvents(ctx, topics, func(m client.Message) {
		fmt.Fprintf(w, "{\"topic\":%q,\"data\":%s}\n", m.Topic, m.Data)
	})
}

// ReloadOptions configures RunReload.
type ReloadOptions struct {
	ConfigFile string
	Remote     *RemoteOptions
	Signal     bool // skip the API and send SIGHUP
	PIDFile    string
}

// RunReload triggers a configuration reload on the running daemon.
// It first validates the configuration file to prevent bad loads.
func RunReload(ctx context.Context, opts ReloadOptions) error {
	if opts.ConfigFile != "" {
		Printer.Printf("Validating configuration: %s\n", opts.ConfigFile)
		if _, err := loadAndValidate(opts.ConfigFile); err != nil {
			return err
		}
		Printer.Println("Configuration is valid.")
	}

	if !opts.Signal {
		res, err := opts.Remote.Client().Reload(ctx)
		switch {
		case err == nil:
			Printer.Printf("Transaction %s applied: %d changes, %d hardware calls.\n",
				res.Txn.ID, len(res.Changes), res.Txn.HWCalls)
			for _, c := range res.Changes {
				Printer.Printf("  %s\n", c)
			}
			return nil
		case !errors.IsKind(err, errors.KindUnavailable):
			return err
		}
		Printer.Printf("API unreachable (%v), falling back to SIGHUP.\n", err)
	}

	pidFile := opts.PIDFile
	if pidFile == "" {
		pidFile = brand.PIDPath()
	}
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	Printer.Printf("Sending SIGHUP to process %d...\n", pid)
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal process: %w", err)
	}

	Printer.Println("Reload signal sent successfully.")
	return nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file %s: %w (is the daemon running?)", path, err)
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// loadAndValidate loads a configuration file and rejects it when
// validation reports errors. Warnings are printed.
func loadAndValidate(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	problems := cfg.Validate()
	for _, w := range problems.Warnings() {
		Printer.Fprintf(os.Stderr, "warning: %v\n", w)
	}
	if problems.HasErrors() {
		return nil, errors.Wrap(problems, errors.KindValidation, "configuration invalid")
	}
	return cfg, nil
}
