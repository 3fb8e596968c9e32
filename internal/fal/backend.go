// Package fal is the forwarding abstraction layer the ACL sync engine
// programs. Every call is synchronous and may fail; the engine never
// retries.
package fal

import (
	"grimm.is/aclsync/internal/rule"
)

// ObjID is a backend object handle. Zero is never a valid handle.
type ObjID uint64

// Direction is the traffic direction a ruleset applies to.
type Direction uint8

const (
	Ingress Direction = iota
	Egress
)

func (d Direction) String() string {
	if d == Egress {
		return "out"
	}
	return "in"
}

// Interface identifies a bound network interface.
type Interface struct {
	Name  string
	Index int
}

// GroupSpec describes a group (table) to create.
type GroupSpec struct {
	Name      string
	Direction Direction
	Family    rule.Family
	Summary   rule.Summary
}

// RuleSpec describes a rule (entry) to create in a group.
type RuleSpec struct {
	Group     ObjID
	GroupName string
	Index     uint32
	Family    rule.Family
	Rule      *rule.Rule
	// Counter is the handle of the bound counter, zero when uncounted.
	Counter ObjID
}

// CounterSpec describes a counter to create.
type CounterSpec struct {
	Group     ObjID
	GroupName string
	Name      string
	Packets   bool
	Bytes     bool
}

// CounterValues is a counter reading.
type CounterValues struct {
	Packets uint64
	Bytes   uint64
}

// Backend is the hardware programming contract.
type Backend interface {
	CreateGroup(spec GroupSpec) (ObjID, error)
	DeleteGroup(id ObjID) error
	ModifyGroup(id ObjID, summary rule.Summary) error
	AttachGroup(id ObjID, ifc Interface, dir Direction) error
	DetachGroup(id ObjID, ifc Interface, dir Direction) error

	CreateRule(spec RuleSpec) (ObjID, error)
	DeleteRule(id ObjID) error

	CreateCounter(spec CounterSpec) (ObjID, error)
	DeleteCounter(id ObjID) error
	ReadCounter(id ObjID) (CounterValues, error)
	ClearCounter(id ObjID) error

	// Commit finalizes every call issued since the previous Commit.
	Commit() error
}

// Op names a backend operation in journals and metrics.
type Op string

const (
	OpGroupCreate   Op = "group.create"
	OpGroupDelete   Op = "group.delete"
	OpGroupModify   Op = "group.modify"
	OpGroupAttach   Op = "group.attach"
	OpGroupDetach   Op = "group.detach"
	OpRuleCreate    Op = "rule.create"
	OpRuleDelete    Op = "rule.delete"
	OpCounterCreate Op = "counter.create"
	OpCounterDelete Op = "counter.delete"
	OpCounterRead   Op = "counter.read"
	OpCounterClear  Op = "counter.clear"
	OpCommit        Op = "commit"
)
