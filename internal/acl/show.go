package acl

import (
	"fmt"
	"io"
	"math"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/metrics"
)

// Filter selects rulesets and groups for counter show and clear. A
// direction is only honoured with an interface, and a group name only
// with a direction.
type Filter struct {
	Interface string `json:"interface,omitempty"`
	Direction string `json:"direction,omitempty"`
	Group     string `json:"group,omitempty"`
}

func (f Filter) normalize() Filter {
	if d, err := ParseDirection(f.Direction); err == nil {
		f.Direction = d
	}
	if f.Interface == "" {
		f.Direction = ""
	}
	if f.Direction == "" {
		f.Group = ""
	}
	return f
}

// ParseDirection accepts "in"/"ingress" and "out"/"egress"; empty matches
// both.
func ParseDirection(s string) (string, error) {
	switch s {
	case "":
		return "", nil
	case "in", "ingress":
		return fal.Ingress.String(), nil
	case "out", "egress":
		return fal.Egress.String(), nil
	}
	return "", errors.Errorf(errors.KindValidation, "unknown direction %q", s)
}

func (f Filter) matchRuleset(rs *gpc.Ruleset) bool {
	if _, ok := rs.Interface(); !ok {
		return false
	}
	if f.Interface != "" && f.Interface != rs.IfName() {
		return false
	}
	return f.Direction == "" || f.Direction == rs.Direction().String()
}

func (f Filter) matchGroup(g *gpc.Group) bool {
	return g.Feature() == gpc.FeatureACL && (f.Group == "" || f.Group == g.Name())
}

// CountersReport is the result of ShowCounters.
type CountersReport struct {
	Rulesets []RulesetCounters `json:"rulesets"`
}

// RulesetCounters lists the counters of one ruleset.
type RulesetCounters struct {
	Interface string          `json:"interface"`
	Direction string          `json:"direction"`
	Groups    []GroupCounters `json:"groups"`
}

// GroupCounters lists the counters of one group.
type GroupCounters struct {
	Name     string          `json:"name"`
	Counters []CounterReport `json:"counters"`
}

// CounterReport describes one counter. HW is present only when the counter
// exists in the backend and could be read.
type CounterReport struct {
	Name         string    `json:"name"`
	CountPackets bool      `json:"cnt-pkts"`
	CountBytes   bool      `json:"cnt-bytes"`
	HW           *HWValues `json:"hw,omitempty"`
}

// HWValues holds the counted values.
type HWValues struct {
	Packets *uint64 `json:"pkts,omitempty"`
	Bytes   *uint64 `json:"bytes,omitempty"`
}

// ShowCounters reports the counters of every matching ruleset that has a
// bound interface.
func (e *Engine) ShowCounters(f Filter) *CountersReport {
	f = f.normalize()

	e.mu.Lock()
	defer e.mu.Unlock()

	rep := &CountersReport{Rulesets: []RulesetCounters{}}
	for _, rs := range e.store.Rulesets() {
		if !f.matchRuleset(rs) {
			continue
		}
		rc := RulesetCounters{
			Interface: rs.IfName(),
			Direction: rs.Direction().String(),
			Groups:    []GroupCounters{},
		}
		for _, g := range rs.Groups() {
			if !f.matchGroup(g) {
				continue
			}
			gc := GroupCounters{Name: g.Name(), Counters: []CounterReport{}}
			for _, c := range extOf(g).Counters() {
				if !c.Published() {
					continue
				}
				gc.Counters = append(gc.Counters, e.counterReport(c))
			}
			rc.Groups = append(rc.Groups, gc)
		}
		rep.Rulesets = append(rep.Rulesets, rc)
	}
	return rep
}

func (e *Engine) counterReport(c *gpc.Counter) CounterReport {
	cr := CounterReport{
		Name:         c.Name(),
		CountPackets: c.CountsPackets(),
		CountBytes:   c.CountsBytes(),
	}
	if !c.LLCreated() {
		return cr
	}
	v, err := e.store.ReadCounter(c)
	if err != nil {
		return cr
	}
	cr.HW = &HWValues{}
	if c.CountsPackets() {
		cr.HW.Packets = &v.Packets
	}
	if c.CountsBytes() {
		cr.HW.Bytes = &v.Bytes
	}
	return cr
}

// ClearCounters zeroes every matching counter in the backend. Failures
// are collected into one hardware error.
func (e *Engine) ClearCounters(f Filter) error {
	f = f.normalize()

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, rs := range e.store.Rulesets() {
		if !f.matchRuleset(rs) {
			continue
		}
		for _, g := range rs.Groups() {
			if !f.matchGroup(g) {
				continue
			}
			for _, c := range extOf(g).Counters() {
				if !c.Published() || !c.LLCreated() {
					continue
				}
				if err := e.store.ClearCounter(c); err != nil {
					errs = append(errs, fmt.Errorf("%s/%s %s %s: %w", rs.IfName(), rs.Direction(), g.Name(), c.Name(), err))
				}
			}
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), errors.KindHardware, "clear counters")
	}
	return nil
}

// CounterSamples reads every backend counter, for the metrics collector.
func (e *Engine) CounterSamples() []metrics.CounterSample {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []metrics.CounterSample
	for _, rs := range e.store.Rulesets() {
		for _, g := range rs.Groups() {
			if g.Feature() != gpc.FeatureACL {
				continue
			}
			for _, c := range extOf(g).Counters() {
				if !c.LLCreated() {
					continue
				}
				v, err := e.store.ReadCounter(c)
				if err != nil {
					continue
				}
				out = append(out, metrics.CounterSample{
					Interface:  rs.IfName(),
					Direction:  rs.Direction().String(),
					Group:      g.Name(),
					Counter:    c.Name(),
					Packets:    v.Packets,
					Bytes:      v.Bytes,
					HasPackets: c.CountsPackets(),
					HasBytes:   c.CountsBytes(),
				})
			}
		}
	}
	return out
}

// GroupStatus summarizes one attached group.
type GroupStatus struct {
	Interface   string `json:"interface"`
	Direction   string `json:"direction"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Family      string `json:"family"`
	Rules       uint32 `json:"rules"`
	Summary     string `json:"summary"`
	Published   bool   `json:"published"`
	Attached    bool   `json:"attached"`
	Deferred    bool   `json:"deferred"`
	CounterType string `json:"counter_type,omitempty"`
	Counters    int    `json:"counters"`
}

// Groups returns the status of every attached ACL group.
func (e *Engine) Groups() []GroupStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []GroupStatus{}
	for _, rs := range e.store.Rulesets() {
		for _, g := range rs.Groups() {
			if g.Feature() != gpc.FeatureACL {
				continue
			}
			x := extOf(g)
			st := GroupStatus{
				Interface: rs.IfName(),
				Direction: rs.Direction().String(),
				Name:      g.Name(),
				State:     x.state().String(),
				Family:    g.Family().String(),
				Rules:     x.numRules,
				Summary:   g.Summary().String(),
				Published: g.Published(),
				Attached:  g.Attached(),
				Deferred:  g.Deferred(),
				Counters:  len(x.order),
			}
			if cntg := g.CounterGroup(); cntg != nil {
				st.CounterType = cntg.Type.String()
			}
			out = append(out, st)
		}
	}
	return out
}

func flag(on bool, s string) string {
	if on {
		return s
	}
	return ""
}

// Dump writes the internal state of every ruleset, group, counter and
// rule.
func (e *Engine) Dump(w io.Writer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rs := range e.store.Rulesets() {
		ifc, bound := rs.Interface()
		dir := "In "
		if !rs.Ingress() {
			dir = "Out"
		}
		fmt.Fprintf(w, " RLS: %s(%d)/%s%s%s\n", rs.IfName(), ifc.Index, dir,
			flag(bound, " IFP"), flag(rs.IfCreated(), " IfCrt"))

		for _, g := range rs.Groups() {
			if g.Feature() != gpc.FeatureACL {
				continue
			}
			x := extOf(g)
			fam := ""
			if g.HasFamily() {
				fam = " v4"
				if g.IsV6() {
					fam = " v6"
				}
			}
			fmt.Fprintf(w, "  GRP(%d): %s(%d/%x)%s%s%s%s%s%s%s\n",
				g.ObjID(), g.Name(), x.numRules, uint32(g.Summary()),
				flag(g.Published(), " Pub"), flag(g.LLCreated(), " LLcrt"),
				flag(g.Attached(), " Att"), flag(g.LLAttached(), " LLatt"),
				flag(g.Deferred(), " Defr"), flag(x.hasAttr, " GAttr"), fam)

			for _, c := range x.Counters() {
				if !c.Published() {
					continue
				}
				fmt.Fprintf(w, "   CT(%d): %s%s%s%s%s\n", c.ObjID(), c.Name(),
					flag(c.Published(), " Pub"), flag(c.LLCreated(), " LLcrt"),
					flag(c.CountsPackets(), " Pkt"), flag(c.CountsBytes(), " Byte"))
				v := fal.CounterValues{Packets: math.MaxUint64, Bytes: math.MaxUint64}
				if c.LLCreated() {
					if got, err := e.store.ReadCounter(c); err == nil {
						v = got
					}
				}
				pkt, byt := "-", "-"
				if c.CountsPackets() {
					pkt = "Pkt"
				}
				if c.CountsBytes() {
					byt = "Byte"
				}
				fmt.Fprintf(w, "      %s(%d/%x) %s(%d/%x)\n", pkt, v.Packets, v.Packets, byt, v.Bytes, v.Bytes)
			}

			for _, r := range g.Rules() {
				fmt.Fprintf(w, "   RL(%d): %d(%x)%s%s\n", r.ObjID(), r.Index(),
					uint32(r.Rule().Summary()), flag(r.Published(), " Pub"), flag(r.LLCreated(), " LLcrt"))
			}
		}
	}
}
