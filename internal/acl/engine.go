// Package acl keeps ACL rule groups attached to interfaces in step with
// the hardware backend.
//
// The engine listens for attach-point events (interfaces coming and going,
// rulesets and groups being attached) and for rule-group changes, and turns
// them into ordered, exactly-once backend notifications. It owns the
// lifetime of the counters rules are bound to, and batches group
// publication until Commit when changes arrive as part of a configuration
// transaction.
package acl

import (
	"fmt"
	"sync"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/rulegroup"
)

// syncContext holds the transaction batching state of one engine.
type syncContext struct {
	// deferrals is set when some group has a publication waiting for Commit.
	deferrals bool
	// commitPending is set while a configuration transaction is open.
	commitPending bool
}

// Config wires an engine to its collaborators.
type Config struct {
	Store      *gpc.Store
	Hub        *events.Hub
	RuleGroups *rulegroup.Store
	Logger     *logging.Logger
	// Metrics is optional.
	Metrics *metrics.Registry
}

// Engine is the ACL synchronization engine. All mutation happens under one
// lock, so events are processed one at a time in arrival order.
type Engine struct {
	mu sync.Mutex

	store   *gpc.Store
	hub     *events.Hub
	groups  *rulegroup.Store
	log     *logging.Logger
	metrics *metrics.Registry

	ctx  syncContext
	subs []*events.Subscription
}

// New creates an engine. Call Init to start listening.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Hub == nil || cfg.RuleGroups == nil {
		return nil, errors.New(errors.KindValidation, "acl engine needs a store, an event hub and a rule group store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:   cfg.Store,
		hub:     cfg.Hub,
		groups:  cfg.RuleGroups,
		log:     logger.WithComponent("acl"),
		metrics: cfg.Metrics,
	}, nil
}

// Init registers the event subscriptions. The engine cannot work without
// them, so a failure panics.
func (e *Engine) Init() {
	subs := []struct {
		what string
		mask events.KindMask
		fn   events.Handler
	}{
		{"attach point", events.Mask(events.KindAttachPointUp, events.KindAttachPointDown), e.onPoint},
		{"ruleset", events.Mask(events.KindRulesetAdd, events.KindRulesetDelete), e.onRuleset},
		{"group", events.Mask(events.KindGroupAdd, events.KindGroupDelete), e.onGroup},
		{"feature mode", events.Mask(events.KindFeatureMode), e.onFeatureMode},
	}
	for _, s := range subs {
		sub, err := e.hub.Subscribe(s.mask, s.fn)
		if err != nil {
			e.log.Error("cannot listen to events", "events", s.what, "error", err)
			panic(fmt.Sprintf("acl: cannot listen to %s events: %v", s.what, err))
		}
		e.subs = append(e.subs, sub)
	}
}

// Close cancels the event subscriptions. Hardware state is left as is.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subs {
		s.Cancel()
	}
	e.subs = nil
}

// Commit publishes every deferred group, then issues the backend commit
// barrier. It is safe to call with nothing pending.
func (e *Engine) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit()
}

func (e *Engine) commit() error {
	if e.ctx.deferrals {
		e.commitDeferrals()
	}
	err := e.store.Backend().Commit()
	if err != nil {
		e.log.Error("commit failed", "error", err)
		err = errors.Wrap(err, errors.KindHardware, "commit")
	}
	if e.metrics != nil {
		e.metrics.RecordCommit()
	}
	e.ctx.deferrals = false
	e.ctx.commitPending = false
	e.refreshGauges()
	return err
}

func (e *Engine) commitDeferrals() {
	for _, rs := range e.store.Rulesets() {
		for _, g := range rs.Groups() {
			if g.Feature() != gpc.FeatureACL || !g.Deferred() {
				continue
			}
			ext := extOf(g)
			g.ClearDeferred()

			// Still blocked while the group has no family.
			e.store.NotifyGroupCreate(g, ext.attrRule())
			e.notifyCountersCreate(ext)
			e.store.NotifyRulesCreate(g)
			e.store.NotifyGroupAttach(g)
		}
	}
}

// Pending reports the batching flags: whether deferred publications wait
// and whether a configuration transaction is open.
func (e *Engine) Pending() (deferrals, commitPending bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.deferrals, e.ctx.commitPending
}

func (e *Engine) refreshGauges() {
	if e.metrics == nil {
		return
	}
	published := 0
	active := map[gpc.CounterType]int{gpc.CounterNumbered: 0, gpc.CounterNamed: 0}
	for _, rs := range e.store.Rulesets() {
		for _, g := range rs.Groups() {
			if g.Feature() != gpc.FeatureACL {
				continue
			}
			if g.Published() {
				published++
			}
			if cntg := g.CounterGroup(); cntg != nil {
				active[cntg.Type] += len(extOf(g).order)
			}
		}
	}
	e.metrics.GroupsPublished.Set(float64(published))
	for typ, n := range active {
		e.metrics.CountersActive.WithLabelValues(typ.String()).Set(float64(n))
	}
}
