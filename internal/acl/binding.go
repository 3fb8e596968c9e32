package acl

import (
	"grimm.is/aclsync/internal/gpc"
)

// rulesetUpDown tracks an interface going up or down. The interface is
// bound before any group attaches and unbound only after every group has
// detached.
func (e *Engine) rulesetUpDown(rs *gpc.Ruleset, up bool) {
	if up && !e.store.SetInterface(rs) {
		e.log.Debug("interface not resolvable", "ifname", rs.IfName(), "dir", rs.Direction().String())
		return
	}
	for _, g := range rs.Groups() {
		if g.Feature() != gpc.FeatureACL {
			continue
		}
		if up {
			e.store.NotifyGroupAttach(g)
		} else {
			e.store.NotifyGroupDetach(g)
		}
	}
	if !up {
		e.store.ClearInterface(rs)
	}
}

// rulesetIfCreated handles the first notice that the interface of rs can
// take offloaded rules. If the interface is already bound this counts as
// it coming up.
func (e *Engine) rulesetIfCreated(rs *gpc.Ruleset) {
	if rs.IfCreated() {
		return
	}
	rs.SetIfCreated()
	if _, ok := rs.Interface(); !ok {
		return
	}
	for _, g := range rs.Groups() {
		if g.Feature() == gpc.FeatureACL {
			e.store.NotifyGroupAttach(g)
		}
	}
}

// forEachRuleset runs fn on the ACL rulesets of ifname in both directions
// and reports whether there were any.
func (e *Engine) forEachRuleset(ifname string, fn func(*gpc.Ruleset)) bool {
	found := false
	for _, rs := range e.store.Rulesets() {
		if rs.IfName() == ifname {
			fn(rs)
			found = true
		}
	}
	return found
}

// commitIfIdle commits straight away when a change arrives outside of a
// configuration transaction.
func (e *Engine) commitIfIdle(found bool) {
	if found && !e.ctx.commitPending {
		_ = e.commit()
	}
}
