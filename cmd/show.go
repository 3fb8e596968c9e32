package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/client"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/state"
	"grimm.is/aclsync/internal/tui"
)

// Output formats accepted by -o.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ShowTargets lists what RunShow can display.
var ShowTargets = []string{"status", "counters", "groups", "points", "links", "journal", "logs"}

// ShowOptions configures RunShow.
type ShowOptions struct {
	Remote *RemoteOptions
	Filter acl.Filter
	Format string
	Limit  int // journal and logs
	Source string // logs
	Level  string // logs, minimum level
}

// RunShow fetches one view of the running daemon and prints it.
func RunShow(ctx context.Context, what string, opts ShowOptions) error {
	return show(ctx, os.Stdout, opts.Remote.Client(), what, opts)
}

func show(ctx context.Context, w io.Writer, c client.APIClient, what string, opts ShowOptions) error {
	var (
		data any
		err  error
	)
	switch what {
	case "status":
		data, err = c.GetStatus(ctx)
	case "counters":
		var f acl.Filter
		if f, err = normalizeFilter(opts.Filter); err == nil {
			data, err = c.GetCounters(ctx, f)
		}
	case "groups":
		data, err = c.GetGroups(ctx)
	case "points":
		data, err = c.GetPoints(ctx)
	case "links":
		data, err = c.GetLinks(ctx)
	case "journal":
		data, err = c.GetJournal(ctx, opts.Limit)
	case "logs":
		data, err = c.GetLogs(ctx, logging.Query{
			Source:    opts.Source,
			Interface: opts.Filter.Interface,
			Group:     opts.Filter.Group,
			MinLevel:  opts.Level,
			Limit:     opts.Limit,
		})
	default:
		return errors.Errorf(errors.KindValidation, "unknown view %q (want one of %s)",
			what, strings.Join(ShowTargets, ", "))
	}
	if err != nil {
		return err
	}
	return render(w, opts.Format, data)
}

// render writes data in the requested format.
func render(w io.Writer, format string, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		return writeYAML(w, data)
	case "", FormatTable:
		renderTable(tui.NewRenderer(w, Printer), data)
		return nil
	}
	return errors.Errorf(errors.KindValidation, "unknown output format %q", format)
}

// writeYAML goes through JSON first so field names follow the json tags.
func writeYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func renderTable(r *tui.Renderer, data any) {
	switch v := data.(type) {
	case *client.Status:
		r.Status(v)
	case *acl.CountersReport:
		r.Counters(v)
	case []acl.GroupStatus:
		r.Groups(v)
	case []client.Point:
		r.Points(v)
	case []client.Link:
		r.Links(v)
	case []state.Txn:
		r.Journal(v)
	case []logging.Record:
		r.Logs(v)
	}
}
