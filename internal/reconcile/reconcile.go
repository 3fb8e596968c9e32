// Package reconcile applies a declarative configuration to the rule-group
// store and the attach-point registry as a single transaction, then commits
// it to hardware.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/clock"
	"grimm.is/aclsync/internal/config"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/rule"
	"grimm.is/aclsync/internal/rulegroup"
	"grimm.is/aclsync/internal/state"
)

// Committer closes a configuration transaction.
type Committer interface {
	Commit() error
}

// Journal records finished transactions.
type Journal interface {
	Record(ctx context.Context, t state.Txn) error
}

// CallCounter reports how many backend calls have been made so far.
type CallCounter interface {
	Calls() uint64
}

// Options wires a reconciler to its collaborators. Journal, Calls and
// Metrics are optional.
type Options struct {
	Points     *attach.Registry
	RuleGroups *rulegroup.Store
	Engine     Committer
	Journal    Journal
	Calls      CallCounter
	Metrics    *metrics.Registry
	Logger     *logging.Logger
}

// Reconciler drives configuration transactions. Apply calls are
// serialized.
type Reconciler struct {
	mu      sync.Mutex
	points  *attach.Registry
	groups  *rulegroup.Store
	engine  Committer
	journal Journal
	calls   CallCounter
	metrics *metrics.Registry
	log     *logging.Logger
}

// New creates a reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Points == nil || opts.RuleGroups == nil || opts.Engine == nil {
		return nil, errors.New(errors.KindValidation, "reconciler needs an attach registry, a rule group store and an engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		points:  opts.Points,
		groups:  opts.RuleGroups,
		engine:  opts.Engine,
		journal: opts.Journal,
		calls:   opts.Calls,
		metrics: opts.Metrics,
		log:     logger.WithComponent("reconcile"),
	}, nil
}

// Result describes one applied transaction.
type Result struct {
	Txn     state.Txn `json:"txn"`
	Changes []string  `json:"changes"`
}

// direction pairs a config list with its ruleset type.
type direction struct {
	typ    events.RulesetType
	groups []string
}

func directions(ifc *config.Interface) []direction {
	return []direction{
		{events.RulesetACLIn, ifc.Ingress},
		{events.RulesetACLOut, ifc.Egress},
	}
}

// Apply brings the rule groups and attachments in line with cfg and
// commits. Stale attachments go first, then rule-group definitions are
// replaced, then new attachments are made. The transaction is journaled
// whether or not it succeeds.
func (r *Reconciler) Apply(ctx context.Context, cfg *config.Config, source string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := state.Txn{
		ID:         uuid.NewString(),
		Source:     source,
		Started:    clock.Now(),
		Groups:     len(cfg.RuleGroups),
		Interfaces: len(cfg.Interfaces),
	}
	var startCalls uint64
	if r.calls != nil {
		startCalls = r.calls.Calls()
	}
	log := r.log.With("txn", txn.ID, "source", source)
	log.Info("Applying configuration", "groups", txn.Groups, "interfaces", txn.Interfaces)

	res := &Result{Changes: []string{}}
	err := r.apply(cfg, res)
	if err == nil {
		if cerr := r.engine.Commit(); cerr != nil {
			err = errors.Wrap(cerr, errors.KindHardware, "commit failed")
		}
	}

	txn.Finished = clock.Now()
	txn.Changes = len(res.Changes)
	if r.calls != nil {
		txn.HWCalls = int(r.calls.Calls() - startCalls)
	}
	if err != nil {
		txn.Error = err.Error()
		log.Error("Configuration transaction failed", "error", err, "changes", txn.Changes)
	} else {
		log.Info("Configuration applied", "changes", txn.Changes, "hw_calls", txn.HWCalls,
			"duration", txn.Duration().String())
	}
	if r.metrics != nil {
		r.metrics.IncrementConfigReload(err == nil)
	}
	res.Txn = txn

	if r.journal != nil {
		if jerr := r.journal.Record(ctx, txn); jerr != nil {
			log.Warn("Cannot journal transaction", "error", jerr)
		}
	}
	return res, err
}

func (r *Reconciler) apply(cfg *config.Config, res *Result) error {
	compiled, err := cfg.CompileAll()
	if err != nil {
		return err
	}

	desired := make(map[string]*config.Interface, len(cfg.Interfaces))
	for i := range cfg.Interfaces {
		desired[cfg.Interfaces[i].Name] = &cfg.Interfaces[i]
	}

	var errs []error
	errs = append(errs, r.detachStale(desired, res)...)
	errs = append(errs, r.syncDefinitions(compiled, res)...)
	for i := range cfg.Interfaces {
		errs = append(errs, r.attach(&cfg.Interfaces[i], res)...)
	}
	return errors.Join(errs...)
}

// detachStale removes every ACL ruleset and attachment the new config no
// longer has, and detaches groups whose position changes.
func (r *Reconciler) detachStale(desired map[string]*config.Interface, res *Result) []error {
	var errs []error
	for _, p := range r.points.Points() {
		if p.Type != events.PointInterface {
			continue
		}
		want := map[events.RulesetType][]string{}
		if ifc := desired[p.Name]; ifc != nil {
			for _, d := range directions(ifc) {
				want[d.typ] = d.groups
			}
		}
		for _, typ := range []events.RulesetType{events.RulesetACLIn, events.RulesetACLOut} {
			cur, ok := p.Rulesets[typ]
			if !ok {
				continue
			}
			if len(want[typ]) == 0 {
				if err := r.points.DeleteRuleset(events.PointInterface, p.Name, typ); err != nil {
					errs = append(errs, err)
				}
				res.Changes = append(res.Changes, "ruleset.delete "+p.Name+"/"+typ.String())
				continue
			}
			for _, g := range staleGroups(cur, want[typ]) {
				if err := r.points.DeleteGroup(events.PointInterface, p.Name, typ, g); err != nil {
					errs = append(errs, err)
				}
				res.Changes = append(res.Changes, "group.detach "+g.Name+" "+p.Name+"/"+typ.String())
			}
		}
	}
	return errs
}

// staleGroups returns the attached ACL groups that must go, last first:
// those no longer wanted, then every kept group from the first position
// where the kept order departs from the wanted order. Missing groups are
// later appended, so what stays must be a prefix of want.
func staleGroups(cur []attach.GroupRef, want []string) []attach.GroupRef {
	wanted := make(map[string]bool, len(want))
	for _, n := range want {
		wanted[n] = true
	}
	var keep, drop []attach.GroupRef
	for _, g := range cur {
		if g.Class != rulegroup.ClassACL {
			continue
		}
		if wanted[g.Name] {
			keep = append(keep, g)
		} else {
			drop = append(drop, g)
		}
	}
	k := 0
	for k < len(keep) && k < len(want) && keep[k].Name == want[k] {
		k++
	}
	drop = append(drop, keep[k:]...)

	out := make([]attach.GroupRef, len(drop))
	for i, g := range drop {
		out[len(drop)-1-i] = g
	}
	return out
}

// syncDefinitions replaces every ACL rule group with its compiled form.
// Groups no longer configured are emptied.
func (r *Reconciler) syncDefinitions(compiled map[string]map[uint32]*rule.Rule, res *Result) []error {
	var errs []error
	for _, name := range r.groups.Groups(rulegroup.ClassACL) {
		if _, ok := compiled[name]; !ok {
			compiled[name] = map[uint32]*rule.Rule{}
		}
	}
	for _, name := range sortedNames(compiled) {
		rules := compiled[name]
		n := r.countRuleChanges(name, rules)
		if n == 0 {
			continue
		}
		if err := r.groups.Set(rulegroup.ClassACL, name, rules); err != nil {
			errs = append(errs, err)
		}
		res.Changes = append(res.Changes, "rule_group.set "+name)
	}
	return errs
}

func sortedNames(m map[string]map[uint32]*rule.Rule) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Reconciler) countRuleChanges(name string, next map[uint32]*rule.Rule) int {
	n := 0
	seen := 0
	r.groups.Walk(rulegroup.ClassACL, name, func(idx uint32, cur *rule.Rule) bool {
		nr, ok := next[idx]
		if ok {
			seen++
		}
		if !ok || !nr.Equal(cur) {
			n++
		}
		return true
	})
	return n + len(next) - seen
}

// attach creates the rulesets of one interface and attaches whatever
// groups are missing, in configured order.
func (r *Reconciler) attach(ifc *config.Interface, res *Result) []error {
	var errs []error
	for _, d := range directions(ifc) {
		if len(d.groups) == 0 {
			continue
		}
		if !r.points.HasRuleset(events.PointInterface, ifc.Name, d.typ) {
			if err := r.points.AddRuleset(events.PointInterface, ifc.Name, d.typ); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Changes = append(res.Changes, "ruleset.add "+ifc.Name+"/"+d.typ.String())
		}
		have := make(map[string]bool)
		for _, g := range r.points.Groups(events.PointInterface, ifc.Name, d.typ) {
			have[g.Name] = true
		}
		for _, name := range d.groups {
			if have[name] {
				continue
			}
			have[name] = true
			ref := attach.GroupRef{Class: rulegroup.ClassACL, Name: name}
			if err := r.points.AddGroup(events.PointInterface, ifc.Name, d.typ, ref); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Changes = append(res.Changes, "group.attach "+name+" "+ifc.Name+"/"+d.typ.String())
		}
	}
	return errs
}
