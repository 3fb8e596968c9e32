package reconcile

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/config"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/rulegroup"
	"grimm.is/aclsync/internal/state"
)

type fixture struct {
	points  *attach.Registry
	groups  *rulegroup.Store
	rec     *fal.Recorder
	hw      *fal.Instrumented
	metrics *metrics.Registry
	journal *state.Journal
	rc      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		groups:  rulegroup.NewStore(),
		rec:     fal.NewRecorder(),
		metrics: metrics.New(),
	}
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	f.points = attach.NewRegistry(hub)
	f.hw = fal.Instrument(f.rec, f.metrics)

	store := gpc.NewStore(f.hw, gpc.NewStaticResolver(map[string]int{"eth0": 2, "eth1": 3}), logging.Discard())
	eng, err := acl.New(acl.Config{
		Store:      store,
		Hub:        hub,
		RuleGroups: f.groups,
		Logger:     logging.Discard(),
		Metrics:    f.metrics,
	})
	require.NoError(t, err)
	eng.Init()
	t.Cleanup(eng.Close)

	opts := state.DefaultOptions(":memory:")
	opts.CleanupInterval = 0
	f.journal, err = state.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.journal.Close() })

	f.rc, err = New(Options{
		Points:     f.points,
		RuleGroups: f.groups,
		Engine:     eng,
		Journal:    f.journal,
		Calls:      f.hw,
		Metrics:    f.metrics,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) apply(t *testing.T, cfg *config.Config) *Result {
	t.Helper()
	res, err := f.rc.Apply(context.Background(), cfg, "test")
	require.NoError(t, err)
	return res
}

func baseConfig() *config.Config {
	cfg := &config.Config{
		RuleGroups: []config.RuleGroup{{
			Name:       "G1",
			Attributes: &config.Attributes{Family: "ipv4", Counters: "numbered"},
			Rules:      []config.Rule{{Index: "10", Action: "drop", Count: true}},
		}},
		Interfaces: []config.Interface{{Name: "eth0", Ingress: []string{"G1"}}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApply_InitialTransaction(t *testing.T) {
	f := newFixture(t)

	res := f.apply(t, baseConfig())
	assert.Equal(t, []string{
		"rule_group.set G1",
		"ruleset.add eth0/acl-in",
		"group.attach G1 eth0/acl-in",
	}, res.Changes)
	assert.Equal(t, []string{
		"group.create G1 ipv4",
		"counter.create G1:10",
		"rule.create G1:10 ctr=G1:10",
		"group.attach G1 eth0/in",
		"commit",
	}, f.rec.Ops(), "everything lands in one commit")

	assert.True(t, res.Txn.OK())
	assert.NotEmpty(t, res.Txn.ID)
	assert.Equal(t, 1, res.Txn.Groups)
	assert.Equal(t, 1, res.Txn.Interfaces)
	assert.Equal(t, 3, res.Txn.Changes)
	assert.Equal(t, 5, res.Txn.HWCalls)

	last, err := f.journal.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Txn.ID, last.ID)
	assert.Equal(t, "test", last.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConfigReload.WithLabelValues("success")))
}

func TestApply_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.apply(t, baseConfig())
	f.rec.Reset()

	res := f.apply(t, baseConfig())
	assert.Empty(t, res.Changes)
	assert.Equal(t, []string{"commit"}, f.rec.Ops())
}

func TestApply_RuleChange(t *testing.T) {
	f := newFixture(t)
	f.apply(t, baseConfig())

	cfg := baseConfig()
	cfg.RuleGroups[0].Rules = append(cfg.RuleGroups[0].Rules, config.Rule{Index: "20", Action: "accept", Count: true})
	f.rec.Reset()
	res := f.apply(t, cfg)

	assert.Equal(t, []string{"rule_group.set G1"}, res.Changes)
	assert.Equal(t, []string{"G1:10", "G1:20"}, f.rec.Live("rule"))
	assert.Equal(t, []string{"G1:10", "G1:20"}, f.rec.Live("counter"))
	ops := f.rec.Ops()
	assert.Equal(t, "commit", ops[len(ops)-1])
}

func TestApply_DetachAndRemove(t *testing.T) {
	f := newFixture(t)
	cfg := baseConfig()
	cfg.Interfaces = append(cfg.Interfaces, config.Interface{Name: "eth1", Egress: []string{"G1"}})
	f.apply(t, cfg)
	assert.Len(t, f.rec.Live("group"), 2)

	f.rec.Reset()
	res := f.apply(t, baseConfig())
	assert.Equal(t, []string{"ruleset.delete eth1/acl-out"}, res.Changes)
	assert.Equal(t, []string{
		"group.detach G1 eth1/out",
		"rule.delete G1:10",
		"counter.delete G1:10",
		"group.delete G1",
		"commit",
	}, f.rec.Ops())
	assert.False(t, f.points.HasRuleset(events.PointInterface, "eth1", events.RulesetACLOut))

	// Dropping the group definition empties it; the attachment stays.
	cfg = baseConfig()
	cfg.RuleGroups = nil
	f.rec.Reset()
	res = f.apply(t, cfg)
	assert.Equal(t, []string{"rule_group.set G1"}, res.Changes)
	assert.Empty(t, f.rec.Live("rule"))
	assert.Empty(t, f.groups.Groups(rulegroup.ClassACL))
	assert.Equal(t, []attach.GroupRef{{Class: rulegroup.ClassACL, Name: "G1"}},
		f.points.Groups(events.PointInterface, "eth0", events.RulesetACLIn))
}

func TestApply_Reorder(t *testing.T) {
	f := newFixture(t)
	cfg := baseConfig()
	cfg.RuleGroups = append(cfg.RuleGroups, config.RuleGroup{
		Name:       "G2",
		Attributes: &config.Attributes{Family: "ipv4"},
		Rules:      []config.Rule{{Index: "1", Action: "accept"}},
	})
	cfg.Interfaces[0].Ingress = []string{"G1", "G2"}
	f.apply(t, cfg)

	cfg.Interfaces[0].Ingress = []string{"G2", "G1"}
	res := f.apply(t, cfg)
	assert.Equal(t, []string{
		"group.detach G2 eth0/acl-in",
		"group.detach G1 eth0/acl-in",
		"group.attach G2 eth0/acl-in",
		"group.attach G1 eth0/acl-in",
	}, res.Changes)
	assert.Equal(t, []attach.GroupRef{
		{Class: rulegroup.ClassACL, Name: "G2"},
		{Class: rulegroup.ClassACL, Name: "G1"},
	}, f.points.Groups(events.PointInterface, "eth0", events.RulesetACLIn))
}

func TestApply_InvalidConfigTouchesNothing(t *testing.T) {
	f := newFixture(t)
	cfg := baseConfig()
	cfg.RuleGroups[0].Rules[0].Action = "reject"

	res, err := f.rc.Apply(context.Background(), cfg, "test")
	require.Error(t, err)
	assert.Empty(t, res.Changes)
	assert.Empty(t, f.rec.Ops(), "no commit either")
	assert.False(t, res.Txn.OK())

	last, err := f.journal.Last(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConfigReload.WithLabelValues("failure")))
}

func TestApply_CommitFailure(t *testing.T) {
	f := newFixture(t)
	f.rec.FailOn(fal.OpCommit, stderrors.New("netlink busy"))

	res, err := f.rc.Apply(context.Background(), baseConfig(), "test")
	require.Error(t, err)
	assert.Contains(t, res.Txn.Error, "commit failed")
}

func TestStaleGroups(t *testing.T) {
	ref := func(names ...string) []attach.GroupRef {
		out := make([]attach.GroupRef, len(names))
		for i, n := range names {
			out[i] = attach.GroupRef{Class: rulegroup.ClassACL, Name: n}
		}
		return out
	}
	tests := []struct {
		name string
		cur  []string
		want []string
		drop []string
	}{
		{"same", []string{"A", "B"}, []string{"A", "B"}, []string{}},
		{"append", []string{"A"}, []string{"A", "B"}, []string{}},
		{"removed", []string{"A", "B", "C"}, []string{"A", "C"}, []string{"B"}},
		{"swapped", []string{"A", "B"}, []string{"B", "A"}, []string{"B", "A"}},
		{"insert before", []string{"A", "C"}, []string{"A", "B", "C"}, []string{"C"}},
		{"removed and moved", []string{"A", "B", "C"}, []string{"C", "A"}, []string{"C", "A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ref(tt.drop...), staleGroups(ref(tt.cur...), tt.want))
		})
	}
}

func TestDryRun(t *testing.T) {
	plan, err := DryRun(context.Background(), baseConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"group.create G1 ipv4",
		"counter.create G1:10",
		"rule.create G1:10 ctr=G1:10",
		"group.attach G1 eth0/in",
		"commit",
	}, plan.Ops)
	assert.Contains(t, plan.Dump, "RLS: eth0(1)/In")
	require.Len(t, plan.Groups, 1)
	assert.Equal(t, "G1", plan.Groups[0].Name)
	assert.True(t, plan.Groups[0].Attached)
}
