// Package gpc is the generic packet classifier store: rulesets bound to
// interfaces, the groups attached to them, their rules and counters, and
// the bookkeeping that keeps hardware notifications exactly-once.
package gpc

import (
	"sync"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/logging"
)

// InterfaceResolver looks up a kernel interface by name.
type InterfaceResolver interface {
	Resolve(name string) (fal.Interface, bool)
}

// StaticResolver resolves interface names from a fixed name → ifindex map.
type StaticResolver struct {
	mu      sync.RWMutex
	indexes map[string]int
}

// NewStaticResolver creates a resolver seeded with the given links.
func NewStaticResolver(links map[string]int) *StaticResolver {
	r := &StaticResolver{indexes: make(map[string]int)}
	for name, idx := range links {
		r.indexes[name] = idx
	}
	return r
}

// Set adds or replaces a link.
func (r *StaticResolver) Set(name string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[name] = index
}

// Remove forgets a link.
func (r *StaticResolver) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, name)
}

func (r *StaticResolver) Resolve(name string) (fal.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[name]
	if !ok || idx <= 0 {
		return fal.Interface{}, false
	}
	return fal.Interface{Name: name, Index: idx}, true
}

// Store owns every ruleset and, through them, every group and rule.
// It is not safe for concurrent use; callers serialize access.
type Store struct {
	backend  fal.Backend
	resolver InterfaceResolver
	log      *logging.Logger

	rulesets []*Ruleset
}

// NewStore creates an empty store programming the given backend.
func NewStore(backend fal.Backend, resolver InterfaceResolver, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if resolver == nil {
		resolver = NewStaticResolver(nil)
	}
	return &Store{
		backend:  backend,
		resolver: resolver,
		log:      logger.WithComponent("gpc"),
	}
}

// Backend returns the hardware backend the store notifies.
func (s *Store) Backend() fal.Backend {
	return s.backend
}

// Rulesets returns the rulesets in creation order.
func (s *Store) Rulesets() []*Ruleset {
	out := make([]*Ruleset, len(s.rulesets))
	copy(out, s.rulesets)
	return out
}

// FindRuleset returns the ruleset for ifname/dir, or nil.
func (s *Store) FindRuleset(ifname string, dir fal.Direction) *Ruleset {
	for _, rs := range s.rulesets {
		if rs.ifname == ifname && rs.dir == dir {
			return rs
		}
	}
	return nil
}

// CreateRuleset adds a ruleset. If the interface already exists it is
// bound straight away.
func (s *Store) CreateRuleset(dir fal.Direction, ifname string) (*Ruleset, error) {
	if ifname == "" {
		return nil, errors.New(errors.KindValidation, "ruleset needs an interface name")
	}
	if s.FindRuleset(ifname, dir) != nil {
		return nil, errors.Errorf(errors.KindConflict, "ruleset %s/%s already exists", ifname, dir)
	}
	rs := &Ruleset{dir: dir, ifname: ifname}
	if ifc, ok := s.resolver.Resolve(ifname); ok {
		rs.ifc = &ifc
	}
	s.rulesets = append(s.rulesets, rs)
	return rs, nil
}

// DeleteRuleset removes an empty ruleset.
func (s *Store) DeleteRuleset(rs *Ruleset) error {
	if rs == nil {
		return nil
	}
	if len(rs.groups) > 0 {
		return errors.Errorf(errors.KindConflict, "ruleset %s/%s still has %d groups", rs.ifname, rs.dir, len(rs.groups))
	}
	for i, cur := range s.rulesets {
		if cur == rs {
			s.rulesets = append(s.rulesets[:i], s.rulesets[i+1:]...)
			return nil
		}
	}
	return errors.Errorf(errors.KindNotFound, "ruleset %s/%s not found", rs.ifname, rs.dir)
}

// SetInterface resolves and binds the ruleset's interface. It reports
// false when the interface does not exist.
func (s *Store) SetInterface(rs *Ruleset) bool {
	ifc, ok := s.resolver.Resolve(rs.ifname)
	if !ok {
		return false
	}
	rs.ifc = &ifc
	return true
}

// ClearInterface unbinds the ruleset's interface.
func (s *Store) ClearInterface(rs *Ruleset) {
	rs.ifc = nil
}

// CreateGroup attaches a new group to rs. owner is the caller's extension,
// kept as a back-reference.
func (s *Store) CreateGroup(rs *Ruleset, feat Feature, name string, owner any) (*Group, error) {
	if rs == nil {
		return nil, errors.Errorf(errors.KindNotFound, "no ruleset for group %s", name)
	}
	if rs.FindGroup(name) != nil {
		return nil, errors.Errorf(errors.KindConflict, "group %s already on %s/%s", name, rs.ifname, rs.dir)
	}
	g := &Group{rs: rs, name: name, feature: feat, owner: owner}
	rs.groups = append(rs.groups, g)
	return g, nil
}

// DeleteGroup detaches g from its ruleset. Rules still held are dropped.
func (s *Store) DeleteGroup(g *Group) {
	rs := g.rs
	for i, cur := range rs.groups {
		if cur == g {
			rs.groups = append(rs.groups[:i], rs.groups[i+1:]...)
			break
		}
	}
	g.rules = nil
	g.owner = nil
}

// CreateRule adds an empty rule at index. The rule content is set, and
// the rule published, by ChangeRule.
func (s *Store) CreateRule(g *Group, index uint32) (*Rule, error) {
	pos := g.search(index)
	if pos < len(g.rules) && g.rules[pos].index == index {
		return nil, errors.Errorf(errors.KindConflict, "rule %d already exists in %s", index, g.name)
	}
	r := &Rule{group: g, index: index}
	g.rules = append(g.rules, nil)
	copy(g.rules[pos+1:], g.rules[pos:])
	g.rules[pos] = r
	return r, nil
}

// DeleteRule removes r from its group.
func (s *Store) DeleteRule(r *Rule) {
	g := r.group
	pos := g.search(r.index)
	if pos < len(g.rules) && g.rules[pos] == r {
		g.rules = append(g.rules[:pos], g.rules[pos+1:]...)
	}
	r.counter = nil
}

func (s *Store) hwError(op fal.Op, err error, args ...any) {
	s.log.Error("hardware call failed", append([]any{"op", string(op), "error", err}, args...)...)
}
