// Package tui renders daemon state as styled terminal tables.
package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/message"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/client"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/state"
)

// Renderer writes tables to w. Numbers are grouped per the printer's
// locale.
type Renderer struct {
	w io.Writer
	p *message.Printer
}

// NewRenderer creates a renderer.
func NewRenderer(w io.Writer, p *message.Printer) *Renderer {
	return &Renderer{w: w, p: p}
}

// newTable builds a bordered table. Columns listed in numeric are right
// aligned.
func newTable(headers []string, numeric ...int) *table.Table {
	right := make(map[int]bool, len(numeric))
	for _, c := range numeric {
		right[c] = true
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorDeep)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return StyleTableHeader
			case right[col]:
				return StyleTableNumber
			}
			return StyleTableRow
		})
}

func (r *Renderer) render(title string, t *table.Table) {
	fmt.Fprintln(r.w, StyleTitle.Render(title))
	fmt.Fprintln(r.w, t.Render())
}

func (r *Renderer) empty(title, what string) {
	fmt.Fprintln(r.w, StyleTitle.Render(title))
	fmt.Fprintln(r.w, StyleMuted.Render("  no "+what))
}

func yesNo(b bool) string {
	if b {
		return StyleStatusGood.Render("yes")
	}
	return StyleMuted.Render("no")
}

// Status renders the daemon summary.
func (r *Renderer) Status(st *client.Status) {
	label := StyleStatusGood.Render(st.Status)
	if st.CommitPending || st.Deferrals {
		label = StyleStatusWarn.Render(st.Status + " (pending)")
	}
	t := newTable([]string{"KEY", "VALUE"})
	t.Row("State", label)
	t.Row("Version", st.Version)
	t.Row("Backend", st.Backend)
	t.Row("Uptime", st.Uptime)
	t.Row("Groups", r.p.Sprintf("%d (%d published)", st.Groups, st.GroupsPublished))
	t.Row("Attach points", r.p.Sprintf("%d", st.Points))
	t.Row("Links", r.p.Sprintf("%d", st.Links))
	if st.LastTxn != nil {
		t.Row("Last transaction", txnSummary(*st.LastTxn))
	}
	r.render("aclsync", t)
}

func txnSummary(t state.Txn) string {
	s := fmt.Sprintf("%s %s %s", t.Started.Format("2006-01-02 15:04:05"), t.Source, shortID(t.ID))
	if !t.OK() {
		return s + " " + StyleStatusBad.Render("failed")
	}
	return s + " " + StyleStatusGood.Render("ok")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (r *Renderer) value(v *uint64) string {
	if v == nil {
		return "-"
	}
	return r.p.Sprintf("%d", *v)
}

// Counters renders a counters report, one row per counter.
func (r *Renderer) Counters(rep *acl.CountersReport) {
	if rep == nil || len(rep.Rulesets) == 0 {
		r.empty("Counters", "counters")
		return
	}
	t := newTable([]string{"INTERFACE", "DIR", "GROUP", "COUNTER", "PACKETS", "BYTES"}, 4, 5)
	for _, rs := range rep.Rulesets {
		for _, g := range rs.Groups {
			for _, c := range g.Counters {
				pkts, byts := "-", "-"
				if c.HW != nil {
					pkts, byts = r.value(c.HW.Packets), r.value(c.HW.Bytes)
				}
				t.Row(rs.Interface, rs.Direction, g.Name, c.Name, pkts, byts)
			}
		}
	}
	r.render("Counters", t)
}

// Groups renders group status.
func (r *Renderer) Groups(groups []acl.GroupStatus) {
	if len(groups) == 0 {
		r.empty("Groups", "attached groups")
		return
	}
	t := newTable([]string{"INTERFACE", "DIR", "GROUP", "STATE", "FAMILY", "RULES", "COUNTERS", "ATTACHED"}, 5, 6)
	for _, g := range groups {
		st := g.State
		switch {
		case g.Deferred:
			st = StyleStatusWarn.Render(st + "*")
		case g.Published:
			st = StyleStatusGood.Render(st)
		}
		t.Row(g.Interface, g.Direction, g.Name, st, g.Family,
			r.p.Sprintf("%d", g.Rules), r.p.Sprintf("%d", g.Counters), yesNo(g.Attached))
	}
	r.render("Groups", t)
}

// Points renders attach points with their rulesets.
func (r *Renderer) Points(points []client.Point) {
	if len(points) == 0 {
		r.empty("Attach points", "attach points")
		return
	}
	t := newTable([]string{"TYPE", "NAME", "UP", "RULESET", "GROUPS"})
	for _, p := range points {
		types := make([]string, 0, len(p.Rulesets))
		for typ := range p.Rulesets {
			types = append(types, typ)
		}
		sort.Strings(types)
		if len(types) == 0 {
			t.Row(p.Type, p.Name, yesNo(p.Up), "-", "-")
		}
		for _, typ := range types {
			t.Row(p.Type, p.Name, yesNo(p.Up), typ, strings.Join(p.Rulesets[typ], ", "))
		}
	}
	r.render("Attach points", t)
}

// Links renders monitored links.
func (r *Renderer) Links(links []client.Link) {
	if len(links) == 0 {
		r.empty("Links", "links")
		return
	}
	t := newTable([]string{"NAME", "INDEX", "UP", "FAL"}, 1)
	for _, l := range links {
		t.Row(l.Name, fmt.Sprint(l.Index), yesNo(l.Up), yesNo(l.Enabled))
	}
	r.render("Links", t)
}

// Journal renders recorded transactions.
func (r *Renderer) Journal(txns []state.Txn) {
	if len(txns) == 0 {
		r.empty("Transactions", "transactions")
		return
	}
	t := newTable([]string{"ID", "STARTED", "SOURCE", "CHANGES", "HW CALLS", "DURATION", "RESULT"}, 3, 4)
	for _, x := range txns {
		result := StyleStatusGood.Render("ok")
		if !x.OK() {
			result = StyleStatusBad.Render(x.Error)
		}
		t.Row(shortID(x.ID), x.Started.Format("2006-01-02 15:04:05"), x.Source,
			r.p.Sprintf("%d", x.Changes), r.p.Sprintf("%d", x.HWCalls), x.Duration().String(), result)
	}
	r.render("Transactions", t)
}

var levelStyles = map[string]lipgloss.Style{
	"error": StyleStatusBad,
	"warn":  StyleStatusWarn,
	"debug": StyleMuted,
}

// Logs renders log entries one per line, oldest first.
func (r *Renderer) Logs(entries []logging.Record) {
	if len(entries) == 0 {
		r.empty("Logs", "log entries")
		return
	}
	fmt.Fprintln(r.w, StyleTitle.Render("Logs"))
	for _, e := range entries {
		level := strings.ToUpper(e.Level)
		if st, ok := levelStyles[e.Level]; ok {
			level = st.Render(level)
		}
		attrs := map[string]string{"ifname": e.Interface, "dir": e.Dir, "group": e.Group, "rule": e.Rule}
		for k, v := range e.Attrs {
			attrs[k] = v
		}
		keys := make([]string, 0, len(attrs))
		for k, v := range attrs {
			if v != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var extra strings.Builder
		for _, k := range keys {
			extra.WriteString(" " + k + "=" + attrs[k])
		}
		fmt.Fprintf(r.w, "%s %-5s [%s] %s%s\n", StyleMuted.Render(e.Time.Format("15:04:05")),
			level, e.Source, e.Message, StyleMuted.Render(extra.String()))
	}
}
