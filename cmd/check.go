package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"grimm.is/aclsync/internal/brand"
	"grimm.is/aclsync/internal/config"
	"grimm.is/aclsync/internal/reconcile"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	return check(context.Background(), os.Stdout, configFile, verbose)
}

func check(ctx context.Context, w io.Writer, configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>\nExample: %s check -v %s",
			brand.BinaryName, brand.BinaryName, brand.ConfigPath())
	}

	cfg, err := loadAndValidate(configFile)
	if err != nil {
		return err
	}
	if _, err := cfg.CompileAll(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Fprintf(w, "Configuration valid!\n")
	Printer.Fprintf(w, "Schema Version: %s\n", cfg.SchemaVersion)
	Printer.Fprintf(w, "Backend: %s\n", cfg.Backend)
	Printer.Fprintf(w, "Rule Groups: %d\n", len(cfg.RuleGroups))
	Printer.Fprintf(w, "Interfaces: %d\n", len(cfg.Interfaces))

	if !verbose {
		return nil
	}

	Printer.Fprintln(w)
	printSummary(w, cfg)

	plan, err := reconcile.DryRun(ctx, cfg)
	if plan == nil {
		return err
	}
	Printer.Fprintln(w, "\n[DRY RUN] Hardware Operations:")
	for _, op := range plan.Ops {
		Printer.Fprintln(w, "  "+op)
	}
	Printer.Fprintln(w, "\n[DRY RUN] Object Tree:")
	fmt.Fprint(w, plan.Dump)
	if err != nil {
		return fmt.Errorf("dry run failed: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, cfg *config.Config) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "RULE GROUP\tFAMILY\tCOUNTERS\tRULES")
	for _, g := range cfg.RuleGroups {
		family, counters := "-", "-"
		if g.Attributes != nil {
			if g.Attributes.Family != "" {
				family = g.Attributes.Family
			}
			if g.Attributes.Counters != "" {
				counters = g.Attributes.Counters
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", g.Name, family, counters, len(g.Rules))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "INTERFACE\tINGRESS\tEGRESS")
	for _, ifc := range cfg.Interfaces {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ifc.Name, list(ifc.Ingress), list(ifc.Egress))
	}
	w.Flush()
}

func list(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
