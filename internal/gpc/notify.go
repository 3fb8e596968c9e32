package gpc

import (
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/rule"
)

// The Notify helpers move an object between its software state and the
// backend. The published flag records that an object was notified; the
// ll-created flag records that the backend accepted it. Both make every
// helper idempotent, so each object sees at most one create per delete.
// A failed backend call is logged and leaves the software state advanced.

func (s *Store) groupArgs(g *Group) []any {
	return []any{"dir", g.rs.dir.String(), "ifname", g.rs.ifname, "group", g.name}
}

// NotifyGroupCreate publishes g. It does nothing while the group is
// deferred or has no address family.
func (s *Store) NotifyGroupCreate(g *Group, attr *rule.Rule) {
	if g.deferred || g.published || g.family == rule.FamilyNone {
		return
	}
	g.published = true
	summary := g.RecalcSummary(attr)

	id, err := s.backend.CreateGroup(fal.GroupSpec{
		Name:      g.name,
		Direction: g.rs.dir,
		Family:    g.family,
		Summary:   summary,
	})
	if err != nil {
		s.hwError(fal.OpGroupCreate, err, s.groupArgs(g)...)
		return
	}
	g.llCreated = true
	g.objID = id
}

// NotifyGroupDelete unpublishes g. Detach first.
func (s *Store) NotifyGroupDelete(g *Group) {
	if !g.published {
		return
	}
	g.published = false
	g.summary = 0
	if !g.llCreated {
		return
	}
	if err := s.backend.DeleteGroup(g.objID); err != nil {
		s.hwError(fal.OpGroupDelete, err, s.groupArgs(g)...)
	}
	g.llCreated = false
	g.objID = 0
}

// NotifyGroupModify tells the backend about a new group summary.
func (s *Store) NotifyGroupModify(g *Group, summary rule.Summary) {
	if !g.published || !g.llCreated {
		return
	}
	if err := s.backend.ModifyGroup(g.objID, summary); err != nil {
		s.hwError(fal.OpGroupModify, err, s.groupArgs(g)...)
	}
}

// NotifyGroupAttach binds a published group to its ruleset's interface.
// It does nothing until the interface is bound.
func (s *Store) NotifyGroupAttach(g *Group) {
	if !g.published || g.attached || g.rs.ifc == nil {
		return
	}
	g.attached = true
	if !g.llCreated {
		return
	}
	if err := s.backend.AttachGroup(g.objID, *g.rs.ifc, g.rs.dir); err != nil {
		s.hwError(fal.OpGroupAttach, err, s.groupArgs(g)...)
		return
	}
	g.llAttached = true
}

// NotifyGroupDetach undoes NotifyGroupAttach.
func (s *Store) NotifyGroupDetach(g *Group) {
	if !g.attached {
		return
	}
	g.attached = false
	if !g.llAttached {
		return
	}
	ifc := fal.Interface{Name: g.rs.ifname}
	if g.rs.ifc != nil {
		ifc = *g.rs.ifc
	}
	if err := s.backend.DetachGroup(g.objID, ifc, g.rs.dir); err != nil {
		s.hwError(fal.OpGroupDetach, err, s.groupArgs(g)...)
	}
	g.llAttached = false
}

// NotifyRuleCreate publishes r if its group is published.
func (s *Store) NotifyRuleCreate(r *Rule) {
	g := r.group
	if !g.published || r.published {
		return
	}
	r.published = true
	if !g.llCreated {
		return
	}
	spec := fal.RuleSpec{
		Group:     g.objID,
		GroupName: g.name,
		Index:     r.index,
		Family:    g.family,
		Rule:      r.rule,
	}
	if r.counter != nil {
		spec.Counter = r.counter.objID
	}
	id, err := s.backend.CreateRule(spec)
	if err != nil {
		s.hwError(fal.OpRuleCreate, err, append(s.groupArgs(g), "index", r.index)...)
		return
	}
	r.llCreated = true
	r.objID = id
}

// NotifyRuleDelete unpublishes r.
func (s *Store) NotifyRuleDelete(r *Rule) {
	if !r.published {
		return
	}
	r.published = false
	if !r.llCreated {
		return
	}
	if err := s.backend.DeleteRule(r.objID); err != nil {
		s.hwError(fal.OpRuleDelete, err, append(s.groupArgs(r.group), "index", r.index)...)
	}
	r.llCreated = false
	r.objID = 0
}

// NotifyRulesCreate publishes every rule of g in index order.
func (s *Store) NotifyRulesCreate(g *Group) {
	for _, r := range g.rules {
		s.NotifyRuleCreate(r)
	}
}

// NotifyRulesDelete unpublishes every rule of g in index order.
func (s *Store) NotifyRulesDelete(g *Group) {
	for _, r := range g.rules {
		s.NotifyRuleDelete(r)
	}
}

// ChangeRule replaces the content of r. A published rule is deleted and
// created again, since the backend cannot modify entries in place.
func (s *Store) ChangeRule(r *Rule, nr *rule.Rule) {
	r.rule = nr.Clone()
	if r.published {
		s.NotifyRuleDelete(r)
	}
	s.NotifyRuleCreate(r)
}

// NotifyCounterCreate publishes c once its group is published and
// creates it in the backend.
func (s *Store) NotifyCounterCreate(c *Counter) {
	if c == nil || !c.group.published {
		return
	}
	c.published = true
	if c.llCreated {
		return
	}
	g := c.group
	id, err := s.backend.CreateCounter(fal.CounterSpec{
		Group:     g.objID,
		GroupName: g.name,
		Name:      c.name,
		Packets:   c.packets,
		Bytes:     c.bytes,
	})
	if err != nil {
		s.hwError(fal.OpCounterCreate, err, append(s.groupArgs(g), "counter", c.name)...)
		return
	}
	c.llCreated = true
	c.objID = id
}

// NotifyCounterDelete unpublishes c and removes it from the backend,
// keeping it in software.
func (s *Store) NotifyCounterDelete(c *Counter) {
	if c == nil {
		return
	}
	c.published = false
	if !c.llCreated {
		return
	}
	if err := s.backend.DeleteCounter(c.objID); err != nil {
		s.hwError(fal.OpCounterDelete, err, append(s.groupArgs(c.group), "counter", c.name)...)
	}
	c.llCreated = false
	c.objID = 0
}

// ReadCounter returns the backend values of a created counter.
func (s *Store) ReadCounter(c *Counter) (fal.CounterValues, error) {
	return s.backend.ReadCounter(c.objID)
}

// ClearCounter zeroes the backend values of a created counter.
func (s *Store) ClearCounter(c *Counter) error {
	return s.backend.ClearCounter(c.objID)
}
