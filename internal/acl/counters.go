package acl

import (
	"strconv"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/rule"
)

const (
	counterAccept = "accept"
	counterDrop   = "drop"
)

// counterType derives the counter group type the attribute rule asks for.
// Zero means no counting.
func counterType(attr *rule.Rule) gpc.CounterType {
	s := attr.Summary()
	if !s.Has(rule.SummaryCountDef) {
		return 0
	}
	if s.Any(rule.SummaryCountDefNamed) {
		return gpc.CounterNamed
	}
	return gpc.CounterNumbered
}

// namedCounters lists the per-action counters the attribute rule requires.
func namedCounters(attr *rule.Rule) []string {
	s := attr.Summary()
	var names []string
	if s.Has(rule.SummaryCountDefPass) {
		names = append(names, counterAccept)
	}
	if s.Has(rule.SummaryCountDefDrop) {
		names = append(names, counterDrop)
	}
	return names
}

func needCounter(cntg *gpc.CounterGroup, r *rule.Rule) bool {
	if cntg == nil {
		return false
	}
	switch cntg.Type {
	case gpc.CounterNumbered:
		return true
	case gpc.CounterNamed:
		return r.Summary().Has(rule.SummaryCountRef)
	}
	return false
}

func actionCounter(r *rule.Rule) string {
	s := r.Summary()
	switch {
	case s.Has(rule.SummaryPass):
		return counterAccept
	case s.Has(rule.SummaryDrop):
		return counterDrop
	}
	return ""
}

func (e *Engine) findCounter(x *groupExt, name string) *gpc.Counter {
	return x.counters[name]
}

func (e *Engine) allocCounter(x *groupExt, name string, named bool) (*gpc.Counter, error) {
	if len(name) > gpc.CounterNameLen {
		return nil, errors.Errorf(errors.KindValidation, "counter name %q longer than %d", name, gpc.CounterNameLen)
	}
	if _, ok := x.counters[name]; ok {
		return nil, errors.Errorf(errors.KindConflict, "duplicate counter %q", name)
	}
	c := gpc.NewCounter(x.group, name, named)
	c.Retain()
	x.counters[name] = c
	x.order = append(x.order, name)
	return c, nil
}

// getCounter acquires the counter a rule should be bound to: a fresh
// numbered counter named after the index, or a reference to the shared
// counter of the rule's action. It returns nil if there is none.
func (e *Engine) getCounter(x *groupExt, r *rule.Rule, index uint32) *gpc.Counter {
	cntg := x.group.CounterGroup()
	if cntg == nil {
		return nil
	}
	switch cntg.Type {
	case gpc.CounterNumbered:
		name := strconv.FormatUint(uint64(index), 10)
		if len(name) > gpc.CounterNameLen {
			e.log.Error("rule index too long for a numbered counter name",
				x.logArgs("index", index, "max_len", gpc.CounterNameLen)...)
			return nil
		}
		c, err := e.allocCounter(x, name, false)
		if err != nil {
			e.log.Error("cannot allocate numbered counter", x.logArgs("index", index, "error", err)...)
			return nil
		}
		return c
	case gpc.CounterNamed:
		name := actionCounter(r)
		if name == "" {
			return nil
		}
		c := e.findCounter(x, name)
		if c != nil {
			c.Retain()
		}
		return c
	}
	return nil
}

// releaseCounter drops one reference. The last release deletes the
// counter from the backend and frees it.
func (e *Engine) releaseCounter(x *groupExt, c *gpc.Counter) {
	if c == nil || c.Release() {
		return
	}
	e.store.NotifyCounterDelete(c)
	delete(x.counters, c.Name())
	for i, name := range x.order {
		if name == c.Name() {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) notifyCountersCreate(x *groupExt) {
	for _, c := range x.Counters() {
		e.store.NotifyCounterCreate(c)
	}
}

func (e *Engine) notifyCountersDelete(x *groupExt) {
	for _, c := range x.Counters() {
		e.store.NotifyCounterDelete(c)
	}
}

// createCounterGroup gives the group the counter group attr asks for. The
// shared counters of a named group are created up front, each holding one
// base reference of its own.
func (e *Engine) createCounterGroup(x *groupExt, attr *rule.Rule) {
	typ := counterType(attr)
	if typ == 0 {
		return
	}
	x.group.SetCounterGroup(gpc.NewCounterGroup(typ, gpc.WidthPacket, gpc.ScopeInterface))
	if typ == gpc.CounterNamed {
		e.createNamedCounters(x, attr)
	}
}

func (e *Engine) createNamedCounters(x *groupExt, attr *rule.Rule) {
	for _, name := range namedCounters(attr) {
		if e.findCounter(x, name) != nil {
			continue
		}
		c, err := e.allocCounter(x, name, true)
		if err != nil {
			e.log.Error("cannot allocate named counter", x.logArgs("counter", name, "error", err)...)
			continue
		}
		e.store.NotifyCounterCreate(c)
	}
}

// deleteCounterGroup unbinds every rule and frees every counter.
func (e *Engine) deleteCounterGroup(x *groupExt) {
	cntg := x.group.CounterGroup()
	if cntg == nil {
		return
	}
	x.group.SetCounterGroup(nil)
	e.rebindRules(x, nil)
	if cntg.Type == gpc.CounterNamed {
		for _, c := range x.Counters() {
			e.releaseCounter(x, c)
		}
	}
}

// rebindRules points every rule at the counter it should use now, taking
// and dropping references as needed. Named counters in retired are no
// longer bound.
func (e *Engine) rebindRules(x *groupExt, retired map[string]bool) {
	cntg := x.group.CounterGroup()
	for _, r := range x.group.Rules() {
		cur := r.Counter()
		var want *gpc.Counter
		switch {
		case !needCounter(cntg, r.Rule()):
		case cntg.Type == gpc.CounterNumbered && cur != nil:
			want = cur
		case cntg.Type == gpc.CounterNumbered:
			want = e.getCounter(x, r.Rule(), r.Index())
			r.SetCounter(want)
			continue
		case !retired[actionCounter(r.Rule())]:
			want = e.findCounter(x, actionCounter(r.Rule()))
		}
		if want == cur {
			continue
		}
		if want != nil {
			want.Retain()
		}
		r.SetCounter(want)
		e.releaseCounter(x, cur)
	}
}

// rebindBracket runs fn with every rule of the group out of the backend,
// since a rule's counter binding cannot change in place.
func (e *Engine) rebindBracket(x *groupExt, fn func()) {
	g := x.group
	e.store.NotifyRulesDelete(g)
	fn()
	e.notifyCountersCreate(x)
	e.store.NotifyRulesCreate(g)
}

// changeCounterGroup reconciles the counter group with a changed
// attribute rule, already stored in x.attr.
func (e *Engine) changeCounterGroup(x *groupExt) {
	attr := x.attr
	cntg := x.group.CounterGroup()
	typ := counterType(attr)

	switch {
	case cntg == nil && typ == 0:
	case cntg == nil:
		e.rebindBracket(x, func() {
			e.createCounterGroup(x, attr)
			e.rebindRules(x, nil)
		})
	case typ == 0:
		e.rebindBracket(x, func() { e.deleteCounterGroup(x) })
	case typ != cntg.Type:
		// The type is fixed at creation, so take the whole group down,
		// rebuild the counters and let publication bring it back.
		e.applyAttr(x, nil)
		e.deleteCounterGroup(x)
		e.createCounterGroup(x, attr)
		e.rebindRules(x, nil)
	case typ == gpc.CounterNamed:
		if !e.namedChanged(x, attr) {
			break
		}
		e.rebindBracket(x, func() {
			e.createNamedCounters(x, attr)
			retired := make(map[string]bool)
			for _, c := range x.Counters() {
				if c.Named() {
					retired[c.Name()] = true
				}
			}
			for _, name := range namedCounters(attr) {
				delete(retired, name)
			}
			// Rules let go of retired counters first, so the base
			// reference is the last one dropped.
			e.rebindRules(x, retired)
			for _, c := range x.Counters() {
				if retired[c.Name()] {
					e.releaseCounter(x, c)
				}
			}
		})
	}
	e.applyAttr(x, attr)
}

func (e *Engine) namedChanged(x *groupExt, attr *rule.Rule) bool {
	want := namedCounters(attr)
	have := 0
	for _, c := range x.counters {
		if c.Named() {
			have++
		}
	}
	if have != len(want) {
		return true
	}
	for _, name := range want {
		if x.counters[name] == nil {
			return true
		}
	}
	return false
}
