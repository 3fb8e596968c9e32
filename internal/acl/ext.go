package acl

import (
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/rule"
	"grimm.is/aclsync/internal/rulegroup"
)

// groupExt is the engine's private state for one attached ACL group. The
// gpc group points back at it through its owner field.
type groupExt struct {
	group *gpc.Group
	name  string
	token rulegroup.Token

	// attr is our own copy of the attribute rule. hasAttr is cleared when
	// the family is lost even though attr is still held.
	attr    *rule.Rule
	hasAttr bool

	numRules uint32

	counters map[string]*gpc.Counter
	order    []string

	dead bool
}

func newGroupExt(name string) *groupExt {
	return &groupExt{name: name, counters: make(map[string]*gpc.Counter)}
}

func extOf(g *gpc.Group) *groupExt {
	ext, _ := g.Owner().(*groupExt)
	return ext
}

// attrRule returns the attribute rule as seen by publication.
func (x *groupExt) attrRule() *rule.Rule {
	if !x.hasAttr {
		return nil
	}
	return x.attr
}

func (x *groupExt) logArgs(extra ...any) []any {
	rs := x.group.Ruleset()
	args := []any{"dir", rs.Direction().String(), "ifname", rs.IfName(), "group", x.name}
	return append(args, extra...)
}

// Counters returns the group's counters in creation order.
func (x *groupExt) Counters() []*gpc.Counter {
	out := make([]*gpc.Counter, 0, len(x.order))
	for _, name := range x.order {
		out = append(out, x.counters[name])
	}
	return out
}
