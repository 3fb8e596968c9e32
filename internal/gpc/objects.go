package gpc

import (
	"sort"

	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/rule"
)

// CounterNameLen bounds the length of a counter name.
const CounterNameLen = 8

// Feature tags the subsystem that owns a group.
type Feature uint8

const (
	FeatureACL Feature = iota + 1
	FeatureQoS
)

func (f Feature) String() string {
	switch f {
	case FeatureACL:
		return "acl"
	case FeatureQoS:
		return "qos"
	default:
		return "unknown"
	}
}

// Ruleset is the set of groups on one interface in one direction.
type Ruleset struct {
	dir       fal.Direction
	ifname    string
	ifc       *fal.Interface
	ifCreated bool
	groups    []*Group
}

func (rs *Ruleset) Direction() fal.Direction { return rs.dir }
func (rs *Ruleset) Ingress() bool { return rs.dir == fal.Ingress }
func (rs *Ruleset) IfName() string { return rs.ifname }

// Interface returns the bound interface, if any.
func (rs *Ruleset) Interface() (fal.Interface, bool) {
	if rs.ifc == nil {
		return fal.Interface{}, false
	}
	return *rs.ifc, true
}

// IfCreated reports whether interface creation has been handled.
func (rs *Ruleset) IfCreated() bool { return rs.ifCreated }

// SetIfCreated marks interface creation as handled.
func (rs *Ruleset) SetIfCreated() { rs.ifCreated = true }

// Groups returns the attached groups in attach order.
func (rs *Ruleset) Groups() []*Group {
	out := make([]*Group, len(rs.groups))
	copy(out, rs.groups)
	return out
}

// FindGroup returns the named group, or nil.
func (rs *Ruleset) FindGroup(name string) *Group {
	for _, g := range rs.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Group is a rule group attached to a ruleset; in hardware, a table.
type Group struct {
	rs      *Ruleset
	name    string
	feature Feature
	owner   any

	summary rule.Summary
	family  rule.Family

	published  bool
	attached   bool
	deferred   bool
	llCreated  bool
	llAttached bool
	objID      fal.ObjID

	cntg  *CounterGroup
	rules []*Rule
}

func (g *Group) Name() string { return g.name }
func (g *Group) Feature() Feature { return g.feature }
func (g *Group) Ruleset() *Ruleset { return g.rs }
func (g *Group) Owner() any { return g.owner }
func (g *Group) ObjID() fal.ObjID { return g.objID }
func (g *Group) Summary() rule.Summary { return g.summary }

func (g *Group) Published() bool { return g.published }
func (g *Group) Attached() bool { return g.attached }
func (g *Group) LLCreated() bool { return g.llCreated }
func (g *Group) LLAttached() bool { return g.llAttached }

func (g *Group) Deferred() bool { return g.deferred }
func (g *Group) SetDeferred() { g.deferred = true }
func (g *Group) ClearDeferred() { g.deferred = false }

// Family returns the resolved address family.
func (g *Group) Family() rule.Family { return g.family }
func (g *Group) HasFamily() bool { return g.family != rule.FamilyNone }
func (g *Group) IsV6() bool { return g.family == rule.FamilyIPv6 }
func (g *Group) SetFamily(f rule.Family) { g.family = f }
func (g *Group) ClearFamily() { g.family = rule.FamilyNone }

func (g *Group) CounterGroup() *CounterGroup { return g.cntg }
func (g *Group) SetCounterGroup(c *CounterGroup) { g.cntg = c }

// Rules returns the rules in index order.
func (g *Group) Rules() []*Rule {
	out := make([]*Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// FindRule returns the rule at index, or nil.
func (g *Group) FindRule(index uint32) *Rule {
	pos := g.search(index)
	if pos < len(g.rules) && g.rules[pos].index == index {
		return g.rules[pos]
	}
	return nil
}

// LastRule returns the highest-indexed rule, or nil.
func (g *Group) LastRule() *Rule {
	if len(g.rules) == 0 {
		return nil
	}
	return g.rules[len(g.rules)-1]
}

// RecalcSummary folds the summaries of every rule and of attr into the
// group summary and returns it.
func (g *Group) RecalcSummary(attr *rule.Rule) rule.Summary {
	s := attr.Summary()
	for _, r := range g.rules {
		s |= r.rule.Summary()
	}
	g.summary = s
	return s
}

func (g *Group) search(index uint32) int {
	return sort.Search(len(g.rules), func(i int) bool { return g.rules[i].index >= index })
}

// Rule is one entry of a group.
type Rule struct {
	group   *Group
	index   uint32
	rule    *rule.Rule
	counter *Counter

	published bool
	llCreated bool
	objID     fal.ObjID
}

func (r *Rule) Group() *Group { return r.group }
func (r *Rule) Index() uint32 { return r.index }
func (r *Rule) Rule() *rule.Rule { return r.rule }
func (r *Rule) Published() bool { return r.published }
func (r *Rule) LLCreated() bool { return r.llCreated }
func (r *Rule) ObjID() fal.ObjID { return r.objID }
func (r *Rule) Counter() *Counter { return r.counter }
func (r *Rule) SetCounter(c *Counter) { r.counter = c }

// CounterType is fixed when a counter group is created.
type CounterType uint8

const (
	CounterNumbered CounterType = iota + 1
	CounterNamed
)

func (t CounterType) String() string {
	switch t {
	case CounterNumbered:
		return "numbered"
	case CounterNamed:
		return "named"
	default:
		return "none"
	}
}

// CounterWidth selects what a counter counts.
type CounterWidth uint8

const (
	WidthPacket CounterWidth = iota + 1
	WidthPacketByte
)

// CounterScope selects where counts are aggregated.
type CounterScope uint8

const (
	ScopeInterface CounterScope = iota + 1
	ScopeGlobal
)

// CounterGroup describes the counters of one group.
type CounterGroup struct {
	Type  CounterType
	Width CounterWidth
	Scope CounterScope
}

// NewCounterGroup creates a counter group description.
func NewCounterGroup(typ CounterType, width CounterWidth, scope CounterScope) *CounterGroup {
	return &CounterGroup{Type: typ, Width: width, Scope: scope}
}

// Counter is a hardware counter owned by a group while referenced.
type Counter struct {
	name  string
	group *Group
	objID fal.ObjID
	refs  uint16

	published bool
	llCreated bool
	packets   bool
	bytes     bool
	named     bool
}

// NewCounter creates an unpublished counter of g with no references.
// Width follows the group's counter group.
func NewCounter(g *Group, name string, named bool) *Counter {
	c := &Counter{name: name, group: g, packets: true, named: named}
	if g.cntg != nil && g.cntg.Width == WidthPacketByte {
		c.bytes = true
	}
	return c
}

func (c *Counter) Name() string { return c.name }
func (c *Counter) Group() *Group { return c.group }
func (c *Counter) ObjID() fal.ObjID { return c.objID }
func (c *Counter) Refs() uint16 { return c.refs }
func (c *Counter) Published() bool { return c.published }
func (c *Counter) LLCreated() bool { return c.llCreated }
func (c *Counter) CountsPackets() bool { return c.packets }
func (c *Counter) CountsBytes() bool { return c.bytes }
func (c *Counter) Named() bool { return c.named }

// Retain adds a reference.
func (c *Counter) Retain() { c.refs++ }

// Release drops a reference and reports whether any remain. It never
// underflows.
func (c *Counter) Release() bool {
	if c.refs > 0 {
		c.refs--
	}
	return c.refs > 0
}
