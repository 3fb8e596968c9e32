package acl

import (
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/rule"
	"grimm.is/aclsync/internal/rulegroup"
)

func direction(t events.RulesetType) (fal.Direction, bool) {
	switch t {
	case events.RulesetACLIn:
		return fal.Ingress, true
	case events.RulesetACLOut:
		return fal.Egress, true
	}
	return 0, false
}

func (e *Engine) onPoint(ev events.Event) {
	d, ok := ev.Data.(events.PointData)
	if !ok || d.Type != events.PointInterface {
		return
	}
	up := ev.Kind == events.KindAttachPointUp

	e.mu.Lock()
	defer e.mu.Unlock()
	found := e.forEachRuleset(d.Name, func(rs *gpc.Ruleset) { e.rulesetUpDown(rs, up) })
	e.commitIfIdle(found)
	e.refreshGauges()
}

func (e *Engine) onFeatureMode(ev events.Event) {
	d, ok := ev.Data.(events.FeatureModeData)
	if !ok || d.Mode != events.FeatureL3FALEnabled {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	found := e.forEachRuleset(d.Interface, e.rulesetIfCreated)
	e.commitIfIdle(found)
	e.refreshGauges()
}

func (e *Engine) onRuleset(ev events.Event) {
	d, ok := ev.Data.(events.RulesetData)
	if !ok || d.PointType != events.PointInterface {
		return
	}
	dir, ok := direction(d.Type)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Kind == events.KindRulesetAdd {
		if _, err := e.store.CreateRuleset(dir, d.Point); err != nil {
			e.log.Error("cannot create ruleset", "dir", dir.String(), "ifname", d.Point, "error", err)
		}
		return
	}
	rs := e.store.FindRuleset(d.Point, dir)
	if rs == nil {
		return
	}
	for _, g := range rs.Groups() {
		if x := extOf(g); x != nil {
			e.groupDelete(x)
		}
	}
	if err := e.store.DeleteRuleset(rs); err != nil {
		e.log.Error("cannot delete ruleset", "dir", dir.String(), "ifname", d.Point, "error", err)
	}
	e.refreshGauges()
}

func (e *Engine) onGroup(ev events.Event) {
	d, ok := ev.Data.(events.GroupData)
	if !ok || d.PointType != events.PointInterface || rulegroup.Class(d.Class) != rulegroup.ClassACL {
		return
	}
	dir, ok := direction(d.RulesetType)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.store.FindRuleset(d.Point, dir)
	if ev.Kind == events.KindGroupAdd {
		e.groupAdd(rs, d.Name)
	} else if rs != nil {
		if g := rs.FindGroup(d.Name); g != nil {
			e.groupDelete(extOf(g))
		}
	}
	e.ctx.commitPending = true
	e.refreshGauges()
}

// groupAdd builds the engine state for a group attached to rs. The group
// starts deferred and is published by the next commit.
func (e *Engine) groupAdd(rs *gpc.Ruleset, name string) {
	x := newGroupExt(name)
	g, err := e.store.CreateGroup(rs, gpc.FeatureACL, name, x)
	if err != nil {
		e.log.Error("cannot create group", "group", name, "error", err)
		return
	}
	g.SetDeferred()
	x.group = g

	tok, err := e.groups.RegisterUser(rulegroup.ClassACL, name, e.ruleListener(x))
	if err != nil {
		e.log.Error("cannot register group listener", x.logArgs("error", err)...)
		e.store.DeleteGroup(g)
		return
	}
	x.token = tok

	e.groups.Walk(rulegroup.ClassACL, name, func(index uint32, r *rule.Rule) bool {
		_ = e.addRule(x, r, index)
		return true
	})
	e.ctx.deferrals = true
}

// groupDelete takes the group out of the backend and frees it.
func (e *Engine) groupDelete(x *groupExt) {
	g := x.group
	x.dead = true

	e.store.NotifyGroupDetach(g)
	if err := e.groups.Deregister(rulegroup.ClassACL, x.name, x.token); err != nil {
		e.log.Error("cannot deregister group listener", x.logArgs("error", err)...)
	}
	e.store.NotifyRulesDelete(g)
	e.notifyCountersDelete(x)

	for r := g.LastRule(); r != nil; r = g.LastRule() {
		x.numRules--
		cntr := r.Counter()
		e.store.DeleteRule(r)
		e.releaseCounter(x, cntr)
	}
	if cntg := g.CounterGroup(); cntg != nil {
		for _, c := range x.Counters() {
			e.releaseCounter(x, c)
		}
		g.SetCounterGroup(nil)
	}
	x.numRules = 0
	x.attr = nil
	x.hasAttr = false

	e.store.NotifyGroupDelete(g)
	e.store.DeleteGroup(g)
}

func (e *Engine) ruleListener(x *groupExt) rulegroup.Listener {
	return func(ev rulegroup.RuleEvent) {
		if ev.Class != rulegroup.ClassACL {
			return
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if x.dead {
			return
		}

		var err error
		switch ev.Type {
		case rulegroup.RuleAdd:
			err = e.addRule(x, ev.Rule, ev.Index)
		case rulegroup.RuleChange:
			err = e.changeRule(x, ev.Rule, ev.Index)
		case rulegroup.RuleDelete:
			err = e.deleteRule(x, ev.Index)
		default:
			return
		}
		if e.metrics != nil {
			e.metrics.RecordRuleEvent(ev.Type.String(), err == nil)
		}
		e.ctx.commitPending = true
		e.refreshGauges()
	}
}
