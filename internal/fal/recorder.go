package fal

import (
	"fmt"
	"sort"
	"sync"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/rule"
)

// Call is one journaled backend call.
type Call struct {
	Op     Op
	ID     ObjID
	Label  string
	Detail string
	Err    error
}

func (c Call) String() string {
	s := string(c.Op)
	if c.Label != "" {
		s += " " + c.Label
	}
	if c.Detail != "" {
		s += " " + c.Detail
	}
	return s
}

type objKind uint8

const (
	kindGroup objKind = iota
	kindRule
	kindCounter
)

type object struct {
	kind   objKind
	label  string
	values CounterValues
	// attached holds "ifname/dir" bindings of a group
	attached map[string]bool
}

// Recorder is an in-memory Backend. It journals every call in order,
// hands out monotonically increasing handles that are never reused and
// can be told to fail chosen operations.
type Recorder struct {
	mu       sync.Mutex
	nextID   ObjID
	calls    []Call
	objects  map[ObjID]*object
	failures map[Op]error
	commits  int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		objects:  make(map[ObjID]*object),
		failures: make(map[Op]error),
	}
}

// FailOn makes every subsequent op call return err. A nil err clears it.
func (r *Recorder) FailOn(op Op, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// Calls returns a copy of the journal.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns the journal as strings, leaving out counter reads.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		if c.Op == OpCounterRead {
			continue
		}
		out = append(out, c.String())
	}
	return out
}

// Reset clears the journal. Live objects are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Commits returns the number of successful commit barriers.
func (r *Recorder) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Live returns the sorted labels of live objects of the given kind:
// "group", "rule" or "counter".
func (r *Recorder) Live(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var want objKind
	switch kind {
	case "group":
		want = kindGroup
	case "rule":
		want = kindRule
	case "counter":
		want = kindCounter
	default:
		return nil
	}
	var out []string
	for _, o := range r.objects {
		if o.kind == want {
			out = append(out, o.label)
		}
	}
	sort.Strings(out)
	return out
}

// CounterID finds the live counter created for group/name.
func (r *Recorder) CounterID(group, name string) (ObjID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	label := group + ":" + name
	for id, o := range r.objects {
		if o.kind == kindCounter && o.label == label {
			return id, true
		}
	}
	return 0, false
}

// SetCounter sets the values a live counter will report.
func (r *Recorder) SetCounter(id ObjID, v CounterValues) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[id]
	if !ok || o.kind != kindCounter {
		return errors.Errorf(errors.KindNotFound, "no counter %d", id)
	}
	o.values = v
	return nil
}

// Attached reports whether a live group is bound to ifname/dir.
func (r *Recorder) Attached(id ObjID, ifname string, dir Direction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[id]
	return ok && o.attached[ifname+"/"+dir.String()]
}

func (r *Recorder) journal(c Call) error {
	if err := r.failures[c.Op]; err != nil {
		c.Err = errors.Wrapf(err, errors.KindHardware, "%s failed", c.Op)
	}
	r.calls = append(r.calls, c)
	return c.Err
}

// create allocates the object and stamps its handle on the create call
// journaled just before.
func (r *Recorder) create(kind objKind, label string) ObjID {
	r.nextID++
	r.objects[r.nextID] = &object{kind: kind, label: label}
	r.calls[len(r.calls)-1].ID = r.nextID
	return r.nextID
}

func (r *Recorder) lookup(id ObjID, kind objKind) (*object, error) {
	o, ok := r.objects[id]
	if !ok || o.kind != kind {
		return nil, errors.Errorf(errors.KindHardware, "unknown object %d", id)
	}
	return o, nil
}

func (r *Recorder) label(id ObjID) string {
	if o, ok := r.objects[id]; ok {
		return o.label
	}
	return fmt.Sprintf("#%d", id)
}

func (r *Recorder) CreateGroup(spec GroupSpec) (ObjID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpGroupCreate, Label: spec.Name, Detail: spec.Family.String()}); err != nil {
		return 0, err
	}
	return r.create(kindGroup, spec.Name), nil
}

func (r *Recorder) DeleteGroup(id ObjID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpGroupDelete, ID: id, Label: r.label(id)}); err != nil {
		return err
	}
	o, err := r.lookup(id, kindGroup)
	if err != nil {
		return err
	}
	if len(o.attached) > 0 {
		return errors.Errorf(errors.KindHardware, "group %s still attached", o.label)
	}
	delete(r.objects, id)
	return nil
}

func (r *Recorder) ModifyGroup(id ObjID, summary rule.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpGroupModify, ID: id, Label: r.label(id)}); err != nil {
		return err
	}
	_, err := r.lookup(id, kindGroup)
	return err
}

func (r *Recorder) AttachGroup(id ObjID, ifc Interface, dir Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ifc.Name + "/" + dir.String()
	if err := r.journal(Call{Op: OpGroupAttach, ID: id, Label: r.label(id), Detail: key}); err != nil {
		return err
	}
	o, err := r.lookup(id, kindGroup)
	if err != nil {
		return err
	}
	if ifc.Index <= 0 {
		return errors.Errorf(errors.KindHardware, "attach to unresolved interface %s", ifc.Name)
	}
	if o.attached == nil {
		o.attached = make(map[string]bool)
	}
	o.attached[key] = true
	return nil
}

func (r *Recorder) DetachGroup(id ObjID, ifc Interface, dir Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ifc.Name + "/" + dir.String()
	if err := r.journal(Call{Op: OpGroupDetach, ID: id, Label: r.label(id), Detail: key}); err != nil {
		return err
	}
	o, err := r.lookup(id, kindGroup)
	if err != nil {
		return err
	}
	if !o.attached[key] {
		return errors.Errorf(errors.KindHardware, "group %s not attached to %s", o.label, key)
	}
	delete(o.attached, key)
	return nil
}

func (r *Recorder) CreateRule(spec RuleSpec) (ObjID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	label := fmt.Sprintf("%s:%d", spec.GroupName, spec.Index)
	detail := ""
	if spec.Counter != 0 {
		detail = "ctr=" + r.label(spec.Counter)
	}
	if err := r.journal(Call{Op: OpRuleCreate, Label: label, Detail: detail}); err != nil {
		return 0, err
	}
	if spec.Counter != 0 {
		if _, err := r.lookup(spec.Counter, kindCounter); err != nil {
			return 0, err
		}
	}
	return r.create(kindRule, label), nil
}

func (r *Recorder) DeleteRule(id ObjID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpRuleDelete, ID: id, Label: r.label(id)}); err != nil {
		return err
	}
	if _, err := r.lookup(id, kindRule); err != nil {
		return err
	}
	delete(r.objects, id)
	return nil
}

func (r *Recorder) CreateCounter(spec CounterSpec) (ObjID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	label := spec.GroupName + ":" + spec.Name
	if err := r.journal(Call{Op: OpCounterCreate, Label: label}); err != nil {
		return 0, err
	}
	return r.create(kindCounter, label), nil
}

func (r *Recorder) DeleteCounter(id ObjID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpCounterDelete, ID: id, Label: r.label(id)}); err != nil {
		return err
	}
	if _, err := r.lookup(id, kindCounter); err != nil {
		return err
	}
	delete(r.objects, id)
	return nil
}

func (r *Recorder) ReadCounter(id ObjID) (CounterValues, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpCounterRead, ID: id, Label: r.label(id)}); err != nil {
		return CounterValues{}, err
	}
	o, err := r.lookup(id, kindCounter)
	if err != nil {
		return CounterValues{}, err
	}
	return o.values, nil
}

func (r *Recorder) ClearCounter(id ObjID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpCounterClear, ID: id, Label: r.label(id)}); err != nil {
		return err
	}
	o, err := r.lookup(id, kindCounter)
	if err != nil {
		return err
	}
	o.values = CounterValues{}
	return nil
}

func (r *Recorder) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.journal(Call{Op: OpCommit}); err != nil {
		return err
	}
	r.commits++
	return nil
}
