// Package attach tracks which rulesets and rule groups are attached to
// which attach points, and announces every change on the event hub.
package attach

import (
	"sort"
	"sync"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/rulegroup"
)

// GroupRef names a rule group attached to a ruleset.
type GroupRef struct {
	Class rulegroup.Class `json:"class"`
	Name  string          `json:"name"`
}

type pointKey struct {
	typ  events.PointType
	name string
}

type ruleset struct {
	typ    events.RulesetType
	groups []GroupRef
}

type point struct {
	key      pointKey
	up       bool
	rulesets map[events.RulesetType]*ruleset
}

// PointInfo is a snapshot of one attach point.
type PointInfo struct {
	Type     events.PointType                  `json:"type"`
	Name     string                            `json:"name"`
	Up       bool                              `json:"up"`
	Rulesets map[events.RulesetType][]GroupRef `json:"rulesets"`
}

// Registry is the attach-point database. Events are published while the
// registry lock is held, so handlers must not call back into it.
type Registry struct {
	mu     sync.Mutex
	hub    *events.Hub
	source string
	points map[pointKey]*point
}

// NewRegistry creates a registry publishing on hub.
func NewRegistry(hub *events.Hub) *Registry {
	return &Registry{
		hub:    hub,
		source: "attach",
		points: make(map[pointKey]*point),
	}
}

func (r *Registry) publish(kind events.Kind, data any) error {
	return r.hub.Publish(events.Event{Kind: kind, Source: r.source, Data: data})
}

func (r *Registry) point(typ events.PointType, name string, create bool) *point {
	k := pointKey{typ, name}
	p := r.points[k]
	if p == nil && create {
		p = &point{key: k, rulesets: make(map[events.RulesetType]*ruleset)}
		r.points[k] = p
	}
	return p
}

func (r *Registry) prune(p *point) {
	if len(p.rulesets) == 0 && !p.up {
		delete(r.points, p.key)
	}
}

// AddRuleset creates a ruleset of typ on an attach point.
func (r *Registry) AddRuleset(pt events.PointType, name string, typ events.RulesetType) error {
	if name == "" {
		return errors.New(errors.KindValidation, "attach point name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, true)
	if _, ok := p.rulesets[typ]; ok {
		return errors.Errorf(errors.KindConflict, "%s ruleset already on %s", typ, name)
	}
	p.rulesets[typ] = &ruleset{typ: typ}
	return r.publish(events.KindRulesetAdd, events.RulesetData{PointType: pt, Point: name, Type: typ})
}

// DeleteRuleset removes a ruleset, detaching its groups last-first.
func (r *Registry) DeleteRuleset(pt events.PointType, name string, typ events.RulesetType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, false)
	if p == nil || p.rulesets[typ] == nil {
		return errors.Errorf(errors.KindNotFound, "no %s ruleset on %s", typ, name)
	}
	rs := p.rulesets[typ]
	var errs []error
	for len(rs.groups) > 0 {
		last := rs.groups[len(rs.groups)-1]
		rs.groups = rs.groups[:len(rs.groups)-1]
		errs = append(errs, r.publish(events.KindGroupDelete, groupData(p, typ, last)))
	}
	delete(p.rulesets, typ)
	errs = append(errs, r.publish(events.KindRulesetDelete, events.RulesetData{PointType: pt, Point: name, Type: typ}))
	r.prune(p)
	return errors.Join(errs...)
}

func groupData(p *point, typ events.RulesetType, g GroupRef) events.GroupData {
	return events.GroupData{
		PointType:   p.key.typ,
		Point:       p.key.name,
		RulesetType: typ,
		Class:       string(g.Class),
		Name:        g.Name,
	}
}

// AddGroup attaches a rule group to the end of a ruleset.
func (r *Registry) AddGroup(pt events.PointType, name string, typ events.RulesetType, g GroupRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, false)
	if p == nil || p.rulesets[typ] == nil {
		return errors.Errorf(errors.KindNotFound, "no %s ruleset on %s", typ, name)
	}
	rs := p.rulesets[typ]
	for _, cur := range rs.groups {
		if cur == g {
			return errors.Errorf(errors.KindConflict, "group %s already attached to %s %s", g.Name, name, typ)
		}
	}
	rs.groups = append(rs.groups, g)
	return r.publish(events.KindGroupAdd, groupData(p, typ, g))
}

// DeleteGroup detaches a rule group.
func (r *Registry) DeleteGroup(pt events.PointType, name string, typ events.RulesetType, g GroupRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, false)
	if p == nil || p.rulesets[typ] == nil {
		return errors.Errorf(errors.KindNotFound, "no %s ruleset on %s", typ, name)
	}
	rs := p.rulesets[typ]
	for i, cur := range rs.groups {
		if cur == g {
			rs.groups = append(rs.groups[:i], rs.groups[i+1:]...)
			return r.publish(events.KindGroupDelete, groupData(p, typ, g))
		}
	}
	return errors.Errorf(errors.KindNotFound, "group %s not attached to %s %s", g.Name, name, typ)
}

// Up announces that an attach point came up.
func (r *Registry) Up(pt events.PointType, name string) error {
	return r.setState(pt, name, true)
}

// Down announces that an attach point went away.
func (r *Registry) Down(pt events.PointType, name string) error {
	return r.setState(pt, name, false)
}

func (r *Registry) setState(pt events.PointType, name string, up bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, true)
	p.up = up
	kind := events.KindAttachPointDown
	if up {
		kind = events.KindAttachPointUp
	}
	err := r.publish(kind, events.PointData{Type: pt, Name: name})
	r.prune(p)
	return err
}

// FeatureModeChange announces a dataplane mode change on an interface.
func (r *Registry) FeatureModeChange(ifname string, mode events.FeatureMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hub.EmitFeatureMode(ifname, mode)
}

// HasRuleset reports whether a ruleset of typ exists on the point.
func (r *Registry) HasRuleset(pt events.PointType, name string, typ events.RulesetType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, false)
	return p != nil && p.rulesets[typ] != nil
}

// Groups returns the groups attached to a ruleset, in attach order.
func (r *Registry) Groups(pt events.PointType, name string, typ events.RulesetType) []GroupRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.point(pt, name, false)
	if p == nil || p.rulesets[typ] == nil {
		return nil
	}
	return append([]GroupRef(nil), p.rulesets[typ].groups...)
}

// Points returns a snapshot of every attach point, sorted by name.
func (r *Registry) Points() []PointInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PointInfo, 0, len(r.points))
	for _, p := range r.points {
		info := PointInfo{
			Type:     p.key.typ,
			Name:     p.key.name,
			Up:       p.up,
			Rulesets: make(map[events.RulesetType][]GroupRef, len(p.rulesets)),
		}
		for typ, rs := range p.rulesets {
			info.Rulesets[typ] = append([]GroupRef{}, rs.groups...)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}
