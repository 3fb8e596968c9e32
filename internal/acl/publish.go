package acl

import (
	"grimm.is/aclsync/internal/rule"
)

// State is the publication state of a group.
type State uint8

const (
	// StateNoAttr: no attribute rule is tracked.
	StateNoAttr State = iota
	// StatePending: an attribute rule is tracked but carries no family.
	StatePending
	// StatePublished: attribute rule and family are both present.
	StatePublished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePublished:
		return "published"
	default:
		return "no-attr"
	}
}

type pubInput uint8

const (
	inputSet pubInput = iota
	inputChange
	inputClear
)

// famCond classifies the family of the incoming attribute rule against
// the family the group currently has.
type famCond uint8

const (
	condAny famCond = iota
	condAbsent
	condPresent
	condSame
	condSwitched
)

type pubAction uint8

const (
	actPublish pubAction = iota + 1
	actUnpublish
	actRepublish
)

type transition struct {
	from State
	in   pubInput
	cond famCond
	acts []pubAction
	to   State
}

var transitions = []transition{
	{StateNoAttr, inputSet, condAbsent, nil, StatePending},
	{StateNoAttr, inputSet, condPresent, []pubAction{actPublish}, StatePublished},
	{StateNoAttr, inputClear, condAny, nil, StateNoAttr},

	{StatePending, inputChange, condAbsent, nil, StatePending},
	{StatePending, inputChange, condPresent, []pubAction{actPublish}, StatePublished},
	{StatePending, inputClear, condAny, []pubAction{actUnpublish}, StateNoAttr},

	// Losing the family is handled like losing the attribute rule.
	{StatePublished, inputChange, condAbsent, []pubAction{actUnpublish}, StateNoAttr},
	{StatePublished, inputChange, condSame, nil, StatePublished},
	{StatePublished, inputChange, condSwitched, []pubAction{actRepublish}, StatePublished},
	{StatePublished, inputClear, condAny, []pubAction{actUnpublish}, StateNoAttr},
}

func (x *groupExt) state() State {
	switch {
	case !x.hasAttr:
		return StateNoAttr
	case !x.group.HasFamily():
		return StatePending
	default:
		return StatePublished
	}
}

func classify(attr *rule.Rule, cur rule.Family) famCond {
	switch {
	case attr == nil || attr.Family == rule.FamilyNone:
		return condAbsent
	case cur == rule.FamilyNone:
		return condPresent
	case attr.Family == cur:
		return condSame
	default:
		return condSwitched
	}
}

func matches(want, got famCond) bool {
	switch want {
	case condAny:
		return true
	case condPresent:
		return got != condAbsent
	default:
		return want == got
	}
}

func lookupTransition(from State, in pubInput, cond famCond) (transition, bool) {
	for _, t := range transitions {
		if t.from == from && t.in == in && matches(t.cond, cond) {
			return t, true
		}
	}
	return transition{}, false
}

// applyAttr feeds the attribute rule (nil when it goes away) through the
// publication state machine.
func (e *Engine) applyAttr(x *groupExt, attr *rule.Rule) {
	in := inputChange
	switch {
	case attr == nil:
		in = inputClear
	case !x.hasAttr:
		in = inputSet
	}
	from := x.state()
	t, ok := lookupTransition(from, in, classify(attr, x.group.Family()))
	if !ok {
		return
	}
	for _, act := range t.acts {
		switch act {
		case actPublish:
			e.publish(x, attr)
		case actUnpublish:
			e.unpublish(x, true)
		case actRepublish:
			e.unpublish(x, false)
			e.publish(x, attr)
		}
	}
	x.hasAttr = t.to != StateNoAttr
	if from != t.to {
		e.log.Debug("group state", x.logArgs("from", from.String(), "to", t.to.String())...)
	}
}

// publish sets the family and programs the group, its counters and rules,
// then attaches it. Each step is a no-op while the group is deferred.
func (e *Engine) publish(x *groupExt, attr *rule.Rule) {
	g := x.group
	g.SetFamily(attr.Family)
	e.store.NotifyGroupCreate(g, attr)
	e.notifyCountersCreate(x)
	e.store.NotifyRulesCreate(g)
	e.store.NotifyGroupAttach(g)
}

// unpublish undoes publish and forgets the family. With deferRepublish, a group
// that was live is queued for republication on the next commit.
func (e *Engine) unpublish(x *groupExt, deferRepublish bool) {
	g := x.group
	if g.Published() {
		e.store.NotifyGroupDetach(g)
		e.store.NotifyRulesDelete(g)
		e.notifyCountersDelete(x)
		e.store.NotifyGroupDelete(g)
		if deferRepublish {
			g.SetDeferred()
			e.ctx.deferrals = true
		}
	}
	g.ClearFamily()
}
