package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"grimm.is/aclsync/cmd"
	"grimm.is/aclsync/internal/brand"
)

var printer = cmd.Printer

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.ConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.ConfigPath(), "Configuration file (short)")
		pidFile := startFlags.String("pid-file", brand.PIDPath(), "PID file")
		startFlags.Parse(os.Args[2:])

		stop()
		if err := cmd.RunStart(*configFile, *pidFile); err != nil {
			printer.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Print the summary and the dry-run plan")
		checkFlags.BoolVar(verbose, "v", false, "Verbose (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.ConfigPath()
		if checkFlags.NArg() > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "show":
		showFlags := flag.NewFlagSet("show", flag.ExitOnError)
		remote := cmd.AddRemoteFlags(showFlags)
		filter := cmd.AddFilterFlags(showFlags)
		format := showFlags.String("output", cmd.FormatTable, "Output format: table, json, yaml")
		showFlags.StringVar(format, "o", cmd.FormatTable, "Output format (short)")
		limit := showFlags.Int("n", 50, "Entries to show (journal, logs)")
		source := showFlags.String("source", "", "Only log entries from this component (logs)")
		level := showFlags.String("level", "", "Minimum log level: debug, info, warn, error (logs)")
		showFlags.Parse(os.Args[2:])

		what := "status"
		if showFlags.NArg() > 0 {
			what = showFlags.Arg(0)
		}
		err := cmd.RunShow(ctx, what, cmd.ShowOptions{
			Remote: remote,
			Filter: *filter,
			Format: *format,
			Limit:  *limit,
			Source: *source,
			Level:  *level,
		})
		if err != nil {
			printer.Fprintf(os.Stderr, "Show failed: %v\n", err)
			os.Exit(1)
		}

	case "dump":
		dumpFlags := flag.NewFlagSet("dump", flag.ExitOnError)
		remote := cmd.AddRemoteFlags(dumpFlags)
		dumpFlags.Parse(os.Args[2:])

		if err := cmd.RunDump(ctx, remote); err != nil {
			printer.Fprintf(os.Stderr, "Dump failed: %v\n", err)
			os.Exit(1)
		}

	case "clear":
		clearFlags := flag.NewFlagSet("clear", flag.ExitOnError)
		remote := cmd.AddRemoteFlags(clearFlags)
		filter := cmd.AddFilterFlags(clearFlags)
		clearFlags.Parse(os.Args[2:])

		if err := cmd.RunClear(ctx, remote, *filter); err != nil {
			printer.Fprintf(os.Stderr, "Clear failed: %v\n", err)
			os.Exit(1)
		}

	case "events":
		eventsFlags := flag.NewFlagSet("events", flag.ExitOnError)
		remote := cmd.AddRemoteFlags(eventsFlags)
		topics := eventsFlags.String("topics", "events,txns", "Comma-separated topics: events, txns")
		eventsFlags.Parse(os.Args[2:])

		if err := cmd.RunEvents(ctx, remote, strings.Split(*topics, ",")); err != nil {
			printer.Fprintf(os.Stderr, "Events failed: %v\n", err)
			os.Exit(1)
		}

	case "diff":
		diffFlags := flag.NewFlagSet("diff", flag.ExitOnError)
		remote := cmd.AddRemoteFlags(diffFlags)
		diffFlags.Parse(os.Args[2:])

		if diffFlags.NArg() < 1 || diffFlags.NArg() > 2 {
			printer.Fprintf(os.Stderr, "Usage: %s diff [options] <config> [other-config]\n", brand.BinaryName)
			os.Exit(1)
		}
		opts := cmd.DiffOptions{ConfigFile: diffFlags.Arg(0), Remote: remote}
		if diffFlags.NArg() == 2 {
			opts.Other = diffFlags.Arg(1)
		}
		if err := cmd.RunDiff(ctx, opts); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "reload":
		reloadFlags := flag.NewFlagSet("reload", flag.ExitOnError)
		remote := cmd.AddRemoteFlags(reloadFlags)
		configFile := reloadFlags.String("config", brand.ConfigPath(), "Configuration file to validate first (empty skips)")
		reloadFlags.StringVar(configFile, "c", brand.ConfigPath(), "Configuration file (short)")
		viaSignal := reloadFlags.Bool("signal", false, "Send SIGHUP instead of calling the API")
		pidFile := reloadFlags.String("pid-file", brand.PIDPath(), "PID file")
		reloadFlags.Parse(os.Args[2:])

		err := cmd.RunReload(ctx, cmd.ReloadOptions{
			ConfigFile: *configFile,
			Remote:     remote,
			Signal:     *viaSignal,
			PIDFile:    *pidFile,
		})
		if err != nil {
			printer.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s %s (commit %s, built %s)\n", brand.Name, brand.Version, brand.GitCommit, brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Daemon:
  start     Run the sync daemon in the foreground
            Options: --config (-c) <file>, --pid-file <file>
  reload    Validate the configuration and reload the running daemon
            Options: --config (-c) <file>, --signal, --remote (-r), --api-key (-k)
  check     Validate a configuration file
            Options: --verbose (-v) prints the dry-run hardware plan

Inspection:
  show      Show daemon state: %s
            Options: --output (-o) table|json|yaml, -i <ifname>, -d in|out, -g <group>,
                     -n <entries>, --source <component>, --remote (-r), --api-key (-k)
  dump      Print the FAL object tree
  clear     Zero hardware counters (filters: -i, -d, -g)
  events    Stream attach-point events and transactions as JSON lines
            Options: --topics events,txns
  diff      Compare the object tree of a configuration with another one
            or with the running daemon

Other:
  version   Print version information
  help      Show this help

Examples:
  %s start -c %s
  %s check -v %s
  %s show counters -i eth0 -d in
  %s diff %s
`, brand.Name, brand.Description, brand.BinaryName,
		strings.Join(cmd.ShowTargets, ", "),
		brand.BinaryName, brand.ConfigPath(),
		brand.BinaryName, brand.ConfigPath(),
		brand.BinaryName,
		brand.BinaryName, brand.ConfigPath())
}
