package acl

import (
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/rule"
)

// addRule installs a rule, or the attribute rule when index is
// rule.AttrIndex.
func (e *Engine) addRule(x *groupExt, r *rule.Rule, index uint32) error {
	g := x.group
	if index == rule.AttrIndex {
		if x.attr != nil {
			e.log.Error("duplicate attribute rule", x.logArgs()...)
			return errors.Errorf(errors.KindConflict, "group %s already has an attribute rule", x.name)
		}
		attr := r.Clone()
		x.attr = attr
		e.createCounterGroup(x, attr)
		e.rebindRules(x, nil)
		e.applyAttr(x, attr)
		return nil
	}

	x.numRules++

	var cntr *gpc.Counter
	if needCounter(g.CounterGroup(), r) {
		cntr = e.getCounter(x, r, index)
	}

	gr, err := e.store.CreateRule(g, index)
	if err != nil {
		e.log.Error("cannot create rule", x.logArgs("index", index, "error", err)...)
		x.numRules--
		e.releaseCounter(x, cntr)
		return err
	}
	gr.SetCounter(cntr)
	e.store.NotifyCounterCreate(cntr)
	e.store.ChangeRule(gr, r)
	return nil
}

// changeRule replaces a rule, or the attribute rule when index is
// rule.AttrIndex.
func (e *Engine) changeRule(x *groupExt, r *rule.Rule, index uint32) error {
	g := x.group
	if index == rule.AttrIndex {
		if x.attr == nil {
			e.log.Error("no attribute rule to change", x.logArgs()...)
			return errors.Errorf(errors.KindNotFound, "group %s has no attribute rule", x.name)
		}
		x.attr = r.Clone()
		e.changeCounterGroup(x)
		return nil
	}

	gr := g.FindRule(index)
	if gr == nil {
		e.log.Error("no rule to change", x.logArgs("index", index)...)
		return errors.Errorf(errors.KindNotFound, "group %s has no rule %d", x.name, index)
	}

	var rel *gpc.Counter
	if cntg := g.CounterGroup(); cntg != nil {
		cur := gr.Counter()
		switch {
		case !needCounter(cntg, r):
			rel = cur
			gr.SetCounter(nil)
		case cur == nil:
			cur = e.getCounter(x, r, index)
			gr.SetCounter(cur)
			e.store.NotifyCounterCreate(cur)
		case cntg.Type == gpc.CounterNamed:
			next := e.getCounter(x, r, index)
			if next == cur {
				e.releaseCounter(x, next)
				break
			}
			gr.SetCounter(next)
			e.store.NotifyCounterCreate(next)
			rel = cur
		}
	}

	// A rule bound to a new counter is replaced in the backend as well.
	old := g.Summary()
	e.store.ChangeRule(gr, r)
	if old != 0 {
		e.store.NotifyGroupModify(g, g.RecalcSummary(x.attrRule()))
	}

	e.releaseCounter(x, rel)
	return nil
}

// deleteRule removes a rule, or the attribute rule when index is
// rule.AttrIndex.
func (e *Engine) deleteRule(x *groupExt, index uint32) error {
	g := x.group
	if index == rule.AttrIndex {
		if x.attr == nil {
			e.log.Error("no attribute rule to delete", x.logArgs()...)
			return errors.Errorf(errors.KindNotFound, "group %s has no attribute rule", x.name)
		}
		e.applyAttr(x, nil)
		x.attr = nil
		e.deleteCounterGroup(x)
		return nil
	}

	gr := g.FindRule(index)
	if gr == nil {
		e.log.Error("no rule to delete", x.logArgs("index", index)...)
		return errors.Errorf(errors.KindNotFound, "group %s has no rule %d", x.name, index)
	}

	old := g.Summary()
	x.numRules--
	e.store.NotifyRuleDelete(gr)
	cntr := gr.Counter()
	e.store.DeleteRule(gr)
	e.releaseCounter(x, cntr)

	if old != 0 {
		e.store.NotifyGroupModify(g, g.RecalcSummary(x.attrRule()))
	}
	return nil
}
