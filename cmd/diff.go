package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/aclsync/internal/reconcile"
)

var (
	objIDRe   = regexp.MustCompile(`(?m)^(\s*(?:GRP|CT|RL))\(\d+\):`)
	ifindexRe = regexp.MustCompile(`(?m)^( RLS: [^(]+)\(\d+\)`)
	valuesRe  = regexp.MustCompile(`(?m)^(\s+)(Pkt|-)\(\d+/[0-9a-f]+\) (Byte|-)\(\d+/[0-9a-f]+\)$`)
)

// StripNoise drops the parts of an object dump that differ between two
// programmings of the same configuration: object IDs, interface indexes
// and counter values.
func StripNoise(dump string) string {
	dump = objIDRe.ReplaceAllString(dump, "$1:")
	dump = ifindexRe.ReplaceAllString(dump, "$1")
	return valuesRe.ReplaceAllString(dump, "$1$2 $3")
}

// DiffOptions configures RunDiff. With Other empty, ConfigFile is
// compared against the running daemon.
type DiffOptions struct {
	ConfigFile string
	Other      string
	Remote     *RemoteOptions
}

// RunDiff compares the object tree a configuration would program against
// another configuration or the running daemon.
func RunDiff(ctx context.Context, opts DiffOptions) error {
	from, err := plannedDump(ctx, opts.ConfigFile)
	if err != nil {
		return err
	}

	var to, toName string
	if opts.Other != "" {
		if to, err = plannedDump(ctx, opts.Other); err != nil {
			return err
		}
		toName = opts.Other
	} else {
		if to, err = opts.Remote.Client().GetDump(ctx); err != nil {
			return fmt.Errorf("failed to read running state: %w", err)
		}
		toName = "Running"
	}
	return diff(os.Stdout, opts.ConfigFile, toName, from, to)
}

func plannedDump(ctx context.Context, path string) (string, error) {
	cfg, err := loadAndValidate(path)
	if err != nil {
		return "", err
	}
	plan, err := reconcile.DryRun(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("%s: dry run failed: %w", path, err)
	}
	return plan.Dump, nil
}

// diff prints a unified diff of two dumps and fails when they differ.
func diff(w io.Writer, fromName, toName, from, to string) error {
	a, b := StripNoise(from), StripNoise(to)
	if a == b {
		Printer.Fprintln(w, "No changes detected.")
		return nil
	}

	Printer.Fprintln(w, "Object trees differ:")
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(w, text)
	return fmt.Errorf("configuration differs")
}
