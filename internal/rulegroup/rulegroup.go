// Package rulegroup stores rule-group definitions and tells registered
// users about every change to the groups they use.
package rulegroup

import (
	"sort"
	"sync"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/rule"
)

// Class is the feature a rule group belongs to.
type Class string

const (
	ClassACL Class = "acl"
	ClassFW  Class = "fw"
)

// EventType is the kind of change made to a group.
type EventType uint8

const (
	RuleAdd EventType = iota + 1
	RuleChange
	RuleDelete
)

func (t EventType) String() string {
	switch t {
	case RuleAdd:
		return "add"
	case RuleChange:
		return "change"
	case RuleDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RuleEvent describes one change to a group definition. Rule is nil for
// deletes.
type RuleEvent struct {
	Type  EventType
	Class Class
	Group string
	Index uint32
	Rule  *rule.Rule
}

// Listener receives the changes of one group.
type Listener func(RuleEvent)

// WalkFunc is called for each rule of a group in index order. Returning
// false stops the walk.
type WalkFunc func(index uint32, r *rule.Rule) bool

// Token identifies a registered listener.
type Token uint64

type key struct {
	class Class
	name  string
}

type user struct {
	token Token
	fn    Listener
}

type group struct {
	rules map[uint32]*rule.Rule
	users []user
}

// Store holds rule-group definitions keyed by class and name.
// Listeners are called after the store lock is released, in
// registration order.
type Store struct {
	mu        sync.RWMutex
	groups    map[key]*group
	nextToken Token
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{groups: make(map[key]*group)}
}

func (s *Store) get(class Class, name string, create bool) *group {
	k := key{class, name}
	g := s.groups[k]
	if g == nil && create {
		g = &group{rules: make(map[uint32]*rule.Rule)}
		s.groups[k] = g
	}
	return g
}

// Groups returns the names of the groups of a class, sorted.
func (s *Store) Groups(class Class) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for k, g := range s.groups {
		if k.class == class && len(g.rules) > 0 {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of one rule.
func (s *Store) Get(class Class, name string, index uint32) (*rule.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.get(class, name, false)
	if g == nil {
		return nil, false
	}
	r, ok := g.rules[index]
	return r.Clone(), ok
}

// Walk calls fn for every rule of the group in index order. The rules are
// copies taken before the first call.
func (s *Store) Walk(class Class, name string, fn WalkFunc) {
	s.mu.RLock()
	g := s.get(class, name, false)
	if g == nil {
		s.mu.RUnlock()
		return
	}
	indexes := make([]uint32, 0, len(g.rules))
	for idx := range g.rules {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	rules := make([]*rule.Rule, len(indexes))
	for i, idx := range indexes {
		rules[i] = g.rules[idx].Clone()
	}
	s.mu.RUnlock()

	for i, idx := range indexes {
		if !fn(idx, rules[i]) {
			return
		}
	}
}

// RegisterUser adds a listener for changes to the named group. The group
// need not have any rules yet.
func (s *Store) RegisterUser(class Class, name string, fn Listener) (Token, error) {
	if fn == nil {
		return 0, errors.New(errors.KindValidation, "nil rule-group listener")
	}
	if name == "" {
		return 0, errors.New(errors.KindValidation, "rule-group name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	g := s.get(class, name, true)
	g.users = append(g.users, user{token: s.nextToken, fn: fn})
	return s.nextToken, nil
}

// Deregister removes a listener.
func (s *Store) Deregister(class Class, name string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.get(class, name, false)
	if g != nil {
		for i, u := range g.users {
			if u.token == token {
				g.users = append(g.users[:i], g.users[i+1:]...)
				s.prune(class, name, g)
				return nil
			}
		}
	}
	return errors.Errorf(errors.KindNotFound, "no listener %d on %s group %s", token, class, name)
}

// Users returns the number of listeners on a group.
func (s *Store) Users(class Class, name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g := s.get(class, name, false); g != nil {
		return len(g.users)
	}
	return 0
}

func (s *Store) prune(class Class, name string, g *group) {
	if len(g.rules) == 0 && len(g.users) == 0 {
		delete(s.groups, key{class, name})
	}
}

// AddRule adds a rule at index. The rule is copied.
func (s *Store) AddRule(class Class, name string, index uint32, r *rule.Rule) error {
	if r == nil {
		return errors.New(errors.KindValidation, "nil rule")
	}
	s.mu.Lock()
	g := s.get(class, name, true)
	if _, ok := g.rules[index]; ok {
		s.mu.Unlock()
		return errors.Errorf(errors.KindConflict, "rule %d already in %s group %s", index, class, name)
	}
	g.rules[index] = r.Clone()
	users := append([]user(nil), g.users...)
	s.mu.Unlock()

	s.notify(users, RuleEvent{Type: RuleAdd, Class: class, Group: name, Index: index, Rule: r.Clone()})
	return nil
}

// ChangeRule replaces the rule at index.
func (s *Store) ChangeRule(class Class, name string, index uint32, r *rule.Rule) error {
	if r == nil {
		return errors.New(errors.KindValidation, "nil rule")
	}
	s.mu.Lock()
	g := s.get(class, name, false)
	if g == nil || g.rules[index] == nil {
		s.mu.Unlock()
		return errors.Errorf(errors.KindNotFound, "no rule %d in %s group %s", index, class, name)
	}
	if g.rules[index].Equal(r) {
		s.mu.Unlock()
		return nil
	}
	g.rules[index] = r.Clone()
	users := append([]user(nil), g.users...)
	s.mu.Unlock()

	s.notify(users, RuleEvent{Type: RuleChange, Class: class, Group: name, Index: index, Rule: r.Clone()})
	return nil
}

// DeleteRule removes the rule at index.
func (s *Store) DeleteRule(class Class, name string, index uint32) error {
	s.mu.Lock()
	g := s.get(class, name, false)
	if g == nil || g.rules[index] == nil {
		s.mu.Unlock()
		return errors.Errorf(errors.KindNotFound, "no rule %d in %s group %s", index, class, name)
	}
	delete(g.rules, index)
	users := append([]user(nil), g.users...)
	s.prune(class, name, g)
	s.mu.Unlock()

	s.notify(users, RuleEvent{Type: RuleDelete, Class: class, Group: name, Index: index})
	return nil
}

// Set replaces the whole group with rules, issuing the adds, changes and
// deletes needed to get there. Deletes go first, then changes and adds in
// index order.
func (s *Store) Set(class Class, name string, rules map[uint32]*rule.Rule) error {
	var current map[uint32]*rule.Rule
	s.mu.RLock()
	if g := s.get(class, name, false); g != nil {
		current = make(map[uint32]*rule.Rule, len(g.rules))
		for idx, r := range g.rules {
			current[idx] = r
		}
	}
	s.mu.RUnlock()

	var errs []error
	for _, idx := range sortedIndexes(current) {
		if _, keep := rules[idx]; !keep {
			errs = append(errs, s.DeleteRule(class, name, idx))
		}
	}
	for _, idx := range sortedIndexes(rules) {
		if _, ok := current[idx]; ok {
			errs = append(errs, s.ChangeRule(class, name, idx, rules[idx]))
		} else {
			errs = append(errs, s.AddRule(class, name, idx, rules[idx]))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) notify(users []user, ev RuleEvent) {
	for _, u := range users {
		u.fn(ev)
	}
}

func sortedIndexes(m map[uint32]*rule.Rule) []uint32 {
	out := make([]uint32, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
