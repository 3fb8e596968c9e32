package fal

import (
	"sync/atomic"

	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/rule"
)

// Instrumented counts every backend call in the metrics registry.
type Instrumented struct {
	next  Backend
	reg   *metrics.Registry
	calls atomic.Uint64
}

// Instrument wraps b so that each call is recorded by op and result.
func Instrument(b Backend, reg *metrics.Registry) *Instrumented {
	return &Instrumented{next: b, reg: reg}
}

func (i *Instrumented) record(op Op, err error) error {
	i.calls.Add(1)
	i.reg.RecordHWCall(string(op), err)
	return err
}

// Calls returns how many backend calls have gone through, failed ones
// included.
func (i *Instrumented) Calls() uint64 {
	return i.calls.Load()
}

func (i *Instrumented) CreateGroup(spec GroupSpec) (ObjID, error) {
	id, err := i.next.CreateGroup(spec)
	return id, i.record(OpGroupCreate, err)
}

func (i *Instrumented) DeleteGroup(id ObjID) error {
	return i.record(OpGroupDelete, i.next.DeleteGroup(id))
}

func (i *Instrumented) ModifyGroup(id ObjID, summary rule.Summary) error {
	return i.record(OpGroupModify, i.next.ModifyGroup(id, summary))
}

func (i *Instrumented) AttachGroup(id ObjID, ifc Interface, dir Direction) error {
	return i.record(OpGroupAttach, i.next.AttachGroup(id, ifc, dir))
}

func (i *Instrumented) DetachGroup(id ObjID, ifc Interface, dir Direction) error {
	return i.record(OpGroupDetach, i.next.DetachGroup(id, ifc, dir))
}

func (i *Instrumented) CreateRule(spec RuleSpec) (ObjID, error) {
	id, err := i.next.CreateRule(spec)
	return id, i.record(OpRuleCreate, err)
}

func (i *Instrumented) DeleteRule(id ObjID) error {
	return i.record(OpRuleDelete, i.next.DeleteRule(id))
}

func (i *Instrumented) CreateCounter(spec CounterSpec) (ObjID, error) {
	id, err := i.next.CreateCounter(spec)
	return id, i.record(OpCounterCreate, err)
}

func (i *Instrumented) DeleteCounter(id ObjID) error {
	return i.record(OpCounterDelete, i.next.DeleteCounter(id))
}

func (i *Instrumented) ReadCounter(id ObjID) (CounterValues, error) {
	v, err := i.next.ReadCounter(id)
	return v, i.record(OpCounterRead, err)
}

func (i *Instrumented) ClearCounter(id ObjID) error {
	return i.record(OpCounterClear, i.next.ClearCounter(id))
}

func (i *Instrumented) Commit() error {
	err := i.next.Commit()
	if err == nil {
		i.reg.RecordCommit()
	}
	return i.record(OpCommit, err)
}
