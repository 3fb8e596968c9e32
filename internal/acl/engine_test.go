package acl

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/rule"
	"grimm.is/aclsync/internal/rulegroup"
)

type harness struct {
	t       *testing.T
	hub     *events.Hub
	points  *attach.Registry
	groups  *rulegroup.Store
	rec     *fal.Recorder
	res     *gpc.StaticResolver
	store   *gpc.Store
	metrics *metrics.Registry
	logs    *logging.Buffer
	eng     *Engine
}

func newHarness(t *testing.T, links map[string]int) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		hub:     events.NewHub(),
		groups:  rulegroup.NewStore(),
		rec:     fal.NewRecorder(),
		res:     gpc.NewStaticResolver(links),
		metrics: metrics.New(),
		logs:    logging.NewBuffer(256),
	}
	h.points = attach.NewRegistry(h.hub)
	h.store = gpc.NewStore(h.rec, h.res, logging.Discard())
	eng, err := New(Config{
		Store:      h.store,
		Hub:        h.hub,
		RuleGroups: h.groups,
		Logger:     logging.New(logging.Config{Level: logging.LevelInfo, Output: io.Discard, JSON: true, Buffer: h.logs}),
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	eng.Init()
	t.Cleanup(eng.Close)
	h.eng = eng
	return h
}

func (h *harness) ruleset(ifname string, dir events.RulesetType) {
	require.NoError(h.t, h.points.AddRuleset(events.PointInterface, ifname, dir))
}

func (h *harness) attachGroup(ifname string, dir events.RulesetType, name string) {
	ref := attach.GroupRef{Class: rulegroup.ClassACL, Name: name}
	require.NoError(h.t, h.points.AddGroup(events.PointInterface, ifname, dir, ref))
}

func (h *harness) add(name string, index uint32, r *rule.Rule) {
	require.NoError(h.t, h.groups.AddRule(rulegroup.ClassACL, name, index, r))
}

func (h *harness) change(name string, index uint32, r *rule.Rule) {
	require.NoError(h.t, h.groups.ChangeRule(rulegroup.ClassACL, name, index, r))
}

func (h *harness) del(name string, index uint32) {
	require.NoError(h.t, h.groups.DeleteRule(rulegroup.ClassACL, name, index))
}

func (h *harness) commit() {
	require.NoError(h.t, h.eng.Commit())
}

// ext returns the engine state of a group on an ingress ruleset.
func (h *harness) ext(ifname, name string) *groupExt {
	rs := h.store.FindRuleset(ifname, fal.Ingress)
	require.NotNil(h.t, rs)
	g := rs.FindGroup(name)
	require.NotNil(h.t, g)
	return extOf(g)
}

func attrRule(fam rule.Family, counting rule.Counting) *rule.Rule {
	return &rule.Rule{Family: fam, Counting: counting}
}

func namedAttr(accept, drop bool) *rule.Rule {
	return &rule.Rule{Family: rule.FamilyIPv4, Counting: rule.CountingNamed, CountAccept: accept, CountDrop: drop}
}

func dropRule() *rule.Rule { return &rule.Rule{Action: rule.ActionDrop, Count: true} }
func passRule() *rule.Rule { return &rule.Rule{Action: rule.ActionPass, Count: true} }

// published builds G1 on eth0/in with a v4 numbered attribute and rule 0,
// committed and live.
func published(t *testing.T) *harness {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)
	h.attachGroup("eth0", events.RulesetACLIn, "G1")
	h.add("G1", 0, dropRule())
	h.commit()
	h.add("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNumbered))
	h.rec.Reset()
	return h
}

func TestEngine_Scenarios(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)

	t.Run("GroupWithoutAttribute", func(t *testing.T) {
		h.attachGroup("eth0", events.RulesetACLIn, "G1")
		h.add("G1", 0, dropRule())

		assert.Empty(t, h.rec.Ops())
		x := h.ext("eth0", "G1")
		assert.False(t, x.group.Published())
		assert.NotNil(t, x.group.FindRule(0))
		assert.Equal(t, uint32(1), x.numRules)
		assert.Equal(t, StateNoAttr, x.state())

		h.commit()
		assert.Equal(t, []string{"commit"}, h.rec.Ops())
		assert.False(t, x.group.Deferred())
	})

	t.Run("AttributePublishes", func(t *testing.T) {
		h.rec.Reset()
		h.add("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNumbered))

		assert.Equal(t, []string{
			"group.create G1 ipv4",
			"counter.create G1:0",
			"rule.create G1:0 ctr=G1:0",
			"group.attach G1 eth0/in",
		}, h.rec.Ops())
		x := h.ext("eth0", "G1")
		assert.Equal(t, StatePublished, x.state())
		assert.True(t, x.group.Published())
		c := x.group.FindRule(0).Counter()
		require.NotNil(t, c)
		assert.Equal(t, "0", c.Name())
		assert.Equal(t, uint16(1), c.Refs())
	})

	t.Run("FamilySwitchRepublishes", func(t *testing.T) {
		x := h.ext("eth0", "G1")
		oldGroup := x.group.ObjID()
		oldRule := x.group.FindRule(0).ObjID()
		oldCounter := x.group.FindRule(0).Counter().ObjID()
		h.rec.Reset()

		h.change("G1", rule.AttrIndex, attrRule(rule.FamilyIPv6, rule.CountingNumbered))

		assert.Equal(t, []string{
			"group.detach G1 eth0/in",
			"rule.delete G1:0",
			"counter.delete G1:0",
			"group.delete G1",
			"group.create G1 ipv6",
			"counter.create G1:0",
			"rule.create G1:0 ctr=G1:0",
			"group.attach G1 eth0/in",
		}, h.rec.Ops())
		assert.True(t, x.group.IsV6())
		assert.False(t, x.group.Deferred())
		assert.NotEqual(t, oldGroup, x.group.ObjID())
		assert.NotEqual(t, oldRule, x.group.FindRule(0).ObjID())
		assert.NotEqual(t, oldCounter, x.group.FindRule(0).Counter().ObjID())
	})

	t.Run("DeleteRuleFreesCounter", func(t *testing.T) {
		h.rec.Reset()
		h.del("G1", 0)

		assert.Equal(t, []string{
			"rule.delete G1:0",
			"counter.delete G1:0",
			"group.modify G1",
		}, h.rec.Ops())
		x := h.ext("eth0", "G1")
		assert.Nil(t, x.group.FindRule(0))
		assert.Empty(t, x.Counters())
		assert.Zero(t, x.numRules)
		assert.False(t, x.group.Summary().Has(rule.SummaryDrop))
		assert.Empty(t, h.rec.Live("counter"))
	})
}

func TestEngine_DeferredUntilInterfaceExists(t *testing.T) {
	h := newHarness(t, nil)
	h.ruleset("eth0", events.RulesetACLIn)
	h.add("G1", 0, dropRule())
	h.add("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNumbered))
	h.attachGroup("eth0", events.RulesetACLIn, "G1")

	x := h.ext("eth0", "G1")
	assert.True(t, x.group.Deferred())
	assert.Equal(t, rule.FamilyIPv4, x.group.Family())

	require.NoError(t, h.points.Down(events.PointInterface, "eth0"))
	assert.Empty(t, h.rec.Ops(), "group was never attached")

	h.res.Set("eth0", 3)
	require.NoError(t, h.points.Up(events.PointInterface, "eth0"))
	assert.Empty(t, h.rec.Ops(), "inside a transaction nothing is flushed before commit")
	_, bound := x.group.Ruleset().Interface()
	assert.True(t, bound)

	h.commit()
	assert.Equal(t, []string{
		"group.create G1 ipv4",
		"counter.create G1:0",
		"rule.create G1:0 ctr=G1:0",
		"group.attach G1 eth0/in",
		"commit",
	}, h.rec.Ops())
	assert.True(t, h.rec.Attached(x.group.ObjID(), "eth0", fal.Ingress))
}

func TestEngine_UpDownOutsideTransaction(t *testing.T) {
	h := published(t)
	h.commit()
	h.rec.Reset()

	require.NoError(t, h.points.Down(events.PointInterface, "eth0"))
	assert.Equal(t, []string{"group.detach G1 eth0/in", "commit"}, h.rec.Ops())
	_, bound := h.ext("eth0", "G1").group.Ruleset().Interface()
	assert.False(t, bound, "interface is unbound after the groups detach")

	h.rec.Reset()
	require.NoError(t, h.points.Up(events.PointInterface, "eth0"))
	assert.Equal(t, []string{"group.attach G1 eth0/in", "commit"}, h.rec.Ops())

	h.rec.Reset()
	require.NoError(t, h.points.Up(events.PointInterface, "eth9"))
	assert.Empty(t, h.rec.Ops(), "no rulesets, no commit")
}

func TestEngine_FamilyLossClearsAttribute(t *testing.T) {
	h := published(t)
	x := h.ext("eth0", "G1")

	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyNone, rule.CountingNumbered))
	assert.Equal(t, []string{
		"group.detach G1 eth0/in",
		"rule.delete G1:0",
		"counter.delete G1:0",
		"group.delete G1",
	}, h.rec.Ops())
	assert.Equal(t, StateNoAttr, x.state(), "losing the family drops the attribute marker")
	assert.False(t, x.hasAttr)
	assert.NotNil(t, x.attr, "the attribute rule copy is still held")
	assert.True(t, x.group.Deferred())
	deferrals, _ := h.eng.Pending()
	assert.True(t, deferrals)

	// The family returning is a fresh set; the group waits for commit.
	h.rec.Reset()
	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNumbered))
	assert.Empty(t, h.rec.Ops())
	assert.Equal(t, StatePublished, x.state())

	h.commit()
	assert.Equal(t, []string{
		"group.create G1 ipv4",
		"counter.create G1:0",
		"rule.create G1:0 ctr=G1:0",
		"group.attach G1 eth0/in",
		"commit",
	}, h.rec.Ops())
}

func TestEngine_PendingAttribute(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)
	h.attachGroup("eth0", events.RulesetACLIn, "G1")
	h.add("G1", 0, dropRule())
	h.commit()
	h.rec.Reset()

	h.add("G1", rule.AttrIndex, attrRule(rule.FamilyNone, rule.CountingNone))
	x := h.ext("eth0", "G1")
	assert.Equal(t, StatePending, x.state())
	assert.Empty(t, h.rec.Ops())

	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyIPv6, rule.CountingNone))
	assert.Equal(t, []string{
		"group.create G1 ipv6",
		"rule.create G1:0",
		"group.attach G1 eth0/in",
	}, h.rec.Ops())

	h.rec.Reset()
	h.del("G1", rule.AttrIndex)
	assert.Equal(t, []string{
		"group.detach G1 eth0/in",
		"rule.delete G1:0",
		"group.delete G1",
	}, h.rec.Ops())
	assert.Equal(t, StateNoAttr, x.state())
	assert.Nil(t, x.attr)
	assert.True(t, x.group.Deferred(), "removal queues republication")
}

func TestEngine_CounterTypeChange(t *testing.T) {
	h := published(t)
	h.add("G1", 1, passRule())
	h.rec.Reset()

	h.change("G1", rule.AttrIndex, namedAttr(true, true))
	assert.Equal(t, []string{
		"group.detach G1 eth0/in",
		"rule.delete G1:0",
		"rule.delete G1:1",
		"counter.delete G1:0",
		"counter.delete G1:1",
		"group.delete G1",
	}, h.rec.Ops(), "every old counter goes before any new one")

	x := h.ext("eth0", "G1")
	assert.Equal(t, gpc.CounterNamed, x.group.CounterGroup().Type)
	assert.Equal(t, "drop", x.group.FindRule(0).Counter().Name())
	assert.Equal(t, "accept", x.group.FindRule(1).Counter().Name())

	h.rec.Reset()
	h.commit()
	assert.Equal(t, []string{
		"group.create G1 ipv4",
		"counter.create G1:accept",
		"counter.create G1:drop",
		"rule.create G1:0 ctr=G1:drop",
		"rule.create G1:1 ctr=G1:accept",
		"group.attach G1 eth0/in",
		"commit",
	}, h.rec.Ops())
	assert.Equal(t, []string{"G1:accept", "G1:drop"}, h.rec.Live("counter"))
}

func TestEngine_NamedCounters(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)
	h.attachGroup("eth0", events.RulesetACLIn, "G1")
	h.add("G1", rule.AttrIndex, namedAttr(true, false))
	h.add("G1", 0, passRule())
	h.add("G1", 1, dropRule())
	h.commit()
	x := h.ext("eth0", "G1")

	assert.Equal(t, "accept", x.group.FindRule(0).Counter().Name())
	assert.Nil(t, x.group.FindRule(1).Counter(), "drop has no counter")

	t.Run("MembershipGrows", func(t *testing.T) {
		h.rec.Reset()
		h.change("G1", rule.AttrIndex, namedAttr(true, true))
		assert.Equal(t, []string{
			"rule.delete G1:0",
			"rule.delete G1:1",
			"counter.create G1:drop",
			"rule.create G1:0 ctr=G1:accept",
			"rule.create G1:1 ctr=G1:drop",
		}, h.rec.Ops())
	})

	t.Run("MembershipShrinks", func(t *testing.T) {
		h.rec.Reset()
		h.change("G1", rule.AttrIndex, namedAttr(false, true))
		assert.Equal(t, []string{
			"rule.delete G1:0",
			"rule.delete G1:1",
			"counter.delete G1:accept",
			"rule.create G1:0",
			"rule.create G1:1 ctr=G1:drop",
		}, h.rec.Ops())
		assert.Nil(t, x.group.FindRule(0).Counter())
		assert.Equal(t, []string{"G1:drop"}, h.rec.Live("counter"))
	})

	t.Run("ActionChangeSwitchesCounter", func(t *testing.T) {
		h.change("G1", rule.AttrIndex, namedAttr(true, true))
		h.rec.Reset()

		h.change("G1", 1, passRule())
		assert.Equal(t, []string{
			"rule.delete G1:1",
			"rule.create G1:1 ctr=G1:accept",
			"group.modify G1",
		}, h.rec.Ops())
		assert.Equal(t, "accept", x.group.FindRule(1).Counter().Name())
		assert.Equal(t, uint16(3), x.counters["accept"].Refs(), "base reference plus two rules")
		assert.Equal(t, uint16(1), x.counters["drop"].Refs(), "only the base reference")
	})

	t.Run("UncountedRuleReleases", func(t *testing.T) {
		h.rec.Reset()
		h.change("G1", 1, &rule.Rule{Action: rule.ActionPass})
		assert.Nil(t, x.group.FindRule(1).Counter())
		assert.Equal(t, uint16(2), x.counters["accept"].Refs())
		assert.NotContains(t, h.rec.Ops(), "counter.delete G1:accept")
	})
}

func TestEngine_SharedCounterRefcount(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)
	h.attachGroup("eth0", events.RulesetACLIn, "G1")
	h.add("G1", rule.AttrIndex, namedAttr(false, true))
	for i := uint32(0); i < 3; i++ {
		h.add("G1", i, dropRule())
	}
	h.commit()
	x := h.ext("eth0", "G1")
	drop := x.counters["drop"]
	require.NotNil(t, drop)
	assert.Equal(t, uint16(4), drop.Refs())

	h.rec.Reset()
	for i := uint32(0); i < 3; i++ {
		h.del("G1", i)
	}
	assert.NotContains(t, h.rec.Ops(), "counter.delete G1:drop")
	assert.Equal(t, uint16(1), drop.Refs())
	assert.True(t, drop.LLCreated())

	// Dropping the counter from the attribute releases the base reference.
	h.rec.Reset()
	h.change("G1", rule.AttrIndex, namedAttr(true, false))
	assert.Contains(t, h.rec.Ops(), "counter.delete G1:drop")
	assert.Nil(t, x.counters["drop"])
}

func TestEngine_CountingToggle(t *testing.T) {
	h := published(t)

	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNone))
	assert.Equal(t, []string{
		"rule.delete G1:0",
		"counter.delete G1:0",
		"rule.create G1:0",
	}, h.rec.Ops())
	x := h.ext("eth0", "G1")
	assert.Nil(t, x.group.CounterGroup())
	assert.Empty(t, x.Counters())

	h.rec.Reset()
	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNumbered))
	assert.Equal(t, []string{
		"rule.delete G1:0",
		"counter.create G1:0",
		"rule.create G1:0 ctr=G1:0",
	}, h.rec.Ops())
}

func TestEngine_RuleErrors(t *testing.T) {
	h := published(t)
	x := h.ext("eth0", "G1")

	err := h.eng.addRule(x, attrRule(rule.FamilyIPv4, rule.CountingNone), rule.AttrIndex)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	err = h.eng.changeRule(x, dropRule(), 99)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	err = h.eng.deleteRule(x, 99)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	err = h.eng.addRule(x, dropRule(), 0)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
	assert.Equal(t, uint32(1), x.numRules, "failed add leaves the count alone")
	assert.Equal(t, uint16(1), x.counters["0"].Refs())

	require.NoError(t, h.eng.deleteRule(x, rule.AttrIndex))
	err = h.eng.deleteRule(x, rule.AttrIndex)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	err = h.eng.changeRule(x, attrRule(rule.FamilyIPv4, rule.CountingNone), rule.AttrIndex)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestEngine_NumberedNameTooLong(t *testing.T) {
	h := published(t)
	h.add("G1", 123456789, dropRule())

	x := h.ext("eth0", "G1")
	r := x.group.FindRule(123456789)
	require.NotNil(t, r)
	assert.Nil(t, r.Counter())
	assert.Contains(t, h.rec.Ops(), "rule.create G1:123456789")

	logs := h.logs.Query(logging.Query{Group: "G1", MinLevel: "error"})
	require.NotEmpty(t, logs)
	assert.Equal(t, "rule index too long for a numbered counter name", logs[0].Message)
	assert.Equal(t, "acl", logs[0].Source)
	assert.Equal(t, "123456789", logs[0].Rule)
	assert.Equal(t, "eth0", logs[0].Interface)
	assert.Equal(t, "8", logs[0].Attrs["max_len"])
}

func TestEngine_HardwareFailureAdvances(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)
	h.attachGroup("eth0", events.RulesetACLIn, "G1")
	h.add("G1", 0, dropRule())
	h.add("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNone))

	h.rec.FailOn(fal.OpGroupCreate, assert.AnError)
	h.commit()
	x := h.ext("eth0", "G1")
	assert.True(t, x.group.Published())
	assert.False(t, x.group.LLCreated())
	assert.Equal(t, []string{"group.create G1 ipv4", "commit"}, h.rec.Ops(),
		"rules and attach skip the backend when the group is not there")
}

func TestEngine_GroupDelete(t *testing.T) {
	h := published(t)
	ref := attach.GroupRef{Class: rulegroup.ClassACL, Name: "G1"}

	require.NoError(t, h.points.DeleteGroup(events.PointInterface, "eth0", events.RulesetACLIn, ref))
	assert.Equal(t, []string{
		"group.detach G1 eth0/in",
		"rule.delete G1:0",
		"counter.delete G1:0",
		"group.delete G1",
	}, h.rec.Ops())
	assert.Zero(t, h.groups.Users(rulegroup.ClassACL, "G1"))
	assert.Empty(t, h.rec.Live("group"))
	assert.Empty(t, h.rec.Live("rule"))
	assert.Empty(t, h.rec.Live("counter"))
	assert.Empty(t, h.store.FindRuleset("eth0", fal.Ingress).Groups())

	h.rec.Reset()
	h.add("G1", 5, dropRule())
	assert.Empty(t, h.rec.Ops(), "listener is gone")
}

func TestEngine_RulesetDelete(t *testing.T) {
	h := published(t)
	require.NoError(t, h.points.DeleteRuleset(events.PointInterface, "eth0", events.RulesetACLIn))
	assert.Nil(t, h.store.FindRuleset("eth0", fal.Ingress))
	assert.Empty(t, h.rec.Live("group"))
}

func TestEngine_IgnoresOtherFeatures(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	require.NoError(t, h.points.AddRuleset(events.PointInterface, "eth0", events.RulesetFWIn))
	require.NoError(t, h.points.AddRuleset(events.PointGlobal, "all", events.RulesetACLIn))
	assert.Empty(t, h.store.Rulesets())

	h.ruleset("eth0", events.RulesetACLOut)
	fw := attach.GroupRef{Class: rulegroup.ClassFW, Name: "F1"}
	require.NoError(t, h.points.AddGroup(events.PointInterface, "eth0", events.RulesetACLOut, fw))
	assert.Empty(t, h.store.FindRuleset("eth0", fal.Egress).Groups())
}

func TestEngine_FeatureMode(t *testing.T) {
	h := published(t)
	h.commit()
	h.rec.Reset()
	rs := h.store.FindRuleset("eth0", fal.Ingress)

	require.NoError(t, h.points.FeatureModeChange("eth0", events.FeatureL3FALDisabled))
	assert.Empty(t, h.rec.Ops())
	assert.False(t, rs.IfCreated())

	require.NoError(t, h.points.FeatureModeChange("eth0", events.FeatureL3FALEnabled))
	assert.True(t, rs.IfCreated())
	assert.Equal(t, []string{"commit"}, h.rec.Ops(), "already attached groups stay put")

	// The mode arriving after publication only commits.
	h2 := newHarness(t, map[string]int{"eth1": 4})
	h2.ruleset("eth1", events.RulesetACLIn)
	h2.attachGroup("eth1", events.RulesetACLIn, "G2")
	h2.add("G2", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNone))
	h2.commit()
	h2.rec.Reset()
	require.NoError(t, h2.points.FeatureModeChange("eth1", events.FeatureL3FALEnabled))
	assert.Equal(t, []string{"commit"}, h2.rec.Ops())
}

func TestEngine_ShowCounters(t *testing.T) {
	h := published(t)
	h.commit()
	id, ok := h.rec.CounterID("G1", "0")
	require.True(t, ok)
	require.NoError(t, h.rec.SetCounter(id, fal.CounterValues{Packets: 5, Bytes: 300}))

	out, err := json.Marshal(h.eng.ShowCounters(Filter{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rulesets":[{"interface":"eth0","direction":"in","groups":[
		{"name":"G1","counters":[{"name":"0","cnt-pkts":true,"cnt-bytes":false,"hw":{"pkts":5}}]}]}]}`, string(out))

	t.Run("FilterHierarchy", func(t *testing.T) {
		rep := h.eng.ShowCounters(Filter{Direction: "out"})
		assert.Len(t, rep.Rulesets, 1, "direction without interface is ignored")

		rep = h.eng.ShowCounters(Filter{Interface: "eth0", Group: "nope"})
		require.Len(t, rep.Rulesets, 1)
		assert.Len(t, rep.Rulesets[0].Groups, 1, "group without direction is ignored")

		rep = h.eng.ShowCounters(Filter{Interface: "eth0", Direction: "in", Group: "nope"})
		require.Len(t, rep.Rulesets, 1)
		assert.Empty(t, rep.Rulesets[0].Groups)

		rep = h.eng.ShowCounters(Filter{Interface: "eth0", Direction: "egress"})
		assert.Empty(t, rep.Rulesets)

		rep = h.eng.ShowCounters(Filter{Interface: "eth1"})
		assert.Empty(t, rep.Rulesets)
	})

	t.Run("UnboundRulesetsSkipped", func(t *testing.T) {
		require.NoError(t, h.points.Down(events.PointInterface, "eth0"))
		assert.Empty(t, h.eng.ShowCounters(Filter{}).Rulesets)
		require.NoError(t, h.points.Up(events.PointInterface, "eth0"))
	})

	t.Run("ReadFailureOmitsHW", func(t *testing.T) {
		h.rec.FailOn(fal.OpCounterRead, assert.AnError)
		defer h.rec.FailOn(fal.OpCounterRead, nil)
		rep := h.eng.ShowCounters(Filter{})
		assert.Nil(t, rep.Rulesets[0].Groups[0].Counters[0].HW)
	})
}

func TestEngine_ShowCounters_PendingGroup(t *testing.T) {
	h := newHarness(t, map[string]int{"eth0": 2})
	h.ruleset("eth0", events.RulesetACLIn)
	h.attachGroup("eth0", events.RulesetACLIn, "G1")
	h.add("G1", rule.AttrIndex, attrRule(rule.FamilyNone, rule.CountingNumbered))
	h.add("G1", 0, dropRule())
	h.commit()

	x := h.ext("eth0", "G1")
	require.False(t, x.group.Published())
	require.Len(t, x.Counters(), 1, "the counter exists in software")

	countersOf := func() []CounterReport {
		rep := h.eng.ShowCounters(Filter{})
		require.Len(t, rep.Rulesets, 1)
		require.Len(t, rep.Rulesets[0].Groups, 1)
		return rep.Rulesets[0].Groups[0].Counters
	}
	assert.Empty(t, countersOf())
	var buf bytes.Buffer
	h.eng.Dump(&buf)
	assert.NotContains(t, buf.String(), "CT(")

	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyIPv4, rule.CountingNumbered))
	h.commit()
	require.True(t, x.group.Published())
	require.Len(t, countersOf(), 1)
	assert.Equal(t, "0", countersOf()[0].Name)

	h.change("G1", rule.AttrIndex, attrRule(rule.FamilyNone, rule.CountingNumbered))
	h.commit()
	assert.False(t, x.group.Published())
	assert.Empty(t, countersOf(), "unpublishing the group unpublishes its counters")
}

func TestEngine_ClearCounters(t *testing.T) {
	h := published(t)
	h.commit()
	id, _ := h.rec.CounterID("G1", "0")
	require.NoError(t, h.rec.SetCounter(id, fal.CounterValues{Packets: 7}))

	require.NoError(t, h.eng.ClearCounters(Filter{Interface: "eth0"}))
	v, err := h.rec.ReadCounter(id)
	require.NoError(t, err)
	assert.Zero(t, v.Packets)

	h.rec.FailOn(fal.OpCounterClear, assert.AnError)
	err = h.eng.ClearCounters(Filter{})
	assert.True(t, errors.IsKind(err, errors.KindHardware))

	assert.NoError(t, h.eng.ClearCounters(Filter{Interface: "eth5"}), "nothing matched")
}

func TestEngine_Dump(t *testing.T) {
	h := published(t)
	h.commit()
	id, _ := h.rec.CounterID("G1", "0")
	require.NoError(t, h.rec.SetCounter(id, fal.CounterValues{Packets: 17}))

	var buf bytes.Buffer
	h.eng.Dump(&buf)
	out := buf.String()
	assert.Contains(t, out, " RLS: eth0(2)/In  IFP\n")
	assert.Contains(t, out, "G1(1/")
	assert.Contains(t, out, " Pub LLcrt Att LLatt GAttr v4\n")
	assert.Contains(t, out, ": 0 Pub LLcrt Pkt\n")
	assert.Contains(t, out, "      Pkt(17/11) -(0/0)\n")

	// Unreadable counters show all ones.
	h.rec.FailOn(fal.OpCounterRead, assert.AnError)
	buf.Reset()
	h.eng.Dump(&buf)
	assert.Contains(t, buf.String(), "      Pkt(18446744073709551615/ffffffffffffffff) -(18446744073709551615/ffffffffffffffff)\n")
	assert.Contains(t, out, ": 0(")
}

func TestEngine_Metrics(t *testing.T) {
	h := published(t)
	h.commit()

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.GroupsPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CountersActive.WithLabelValues("numbered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RuleEvents.WithLabelValues("add", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Commits))

	samples := h.eng.CounterSamples()
	require.Len(t, samples, 1)
	assert.Equal(t, "G1", samples[0].Group)
	assert.Equal(t, "0", samples[0].Counter)
	assert.Equal(t, "in", samples[0].Direction)

	status := h.eng.Groups()
	require.Len(t, status, 1)
	assert.Equal(t, "published", status[0].State)
	assert.Equal(t, "numbered", status[0].CounterType)
}

func TestEngine_InitPanicsWithoutHub(t *testing.T) {
	hub := events.NewHub()
	hub.Close()
	eng, err := New(Config{
		Store:      gpc.NewStore(fal.NewRecorder(), nil, logging.Discard()),
		Hub:        hub,
		RuleGroups: rulegroup.NewStore(),
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	assert.Panics(t, eng.Init)

	_, err = New(Config{})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from State
		in   pubInput
		cond famCond
		to   State
		acts []pubAction
	}{
		{StateNoAttr, inputSet, condAbsent, StatePending, nil},
		{StateNoAttr, inputSet, condPresent, StatePublished, []pubAction{actPublish}},
		{StatePending, inputChange, condPresent, StatePublished, []pubAction{actPublish}},
		{StatePublished, inputChange, condAbsent, StateNoAttr, []pubAction{actUnpublish}},
		{StatePublished, inputChange, condSwitched, StatePublished, []pubAction{actRepublish}},
		{StatePublished, inputChange, condSame, StatePublished, nil},
		{StatePublished, inputClear, condAny, StateNoAttr, []pubAction{actUnpublish}},
	}
	for _, tt := range tests {
		got, ok := lookupTransition(tt.from, tt.in, tt.cond)
		require.True(t, ok, "%s/%d/%d", tt.from, tt.in, tt.cond)
		assert.Equal(t, tt.to, got.to)
		assert.Equal(t, tt.acts, got.acts)
	}

	assert.Equal(t, condAbsent, classify(nil, rule.FamilyIPv4))
	assert.Equal(t, condPresent, classify(&rule.Rule{Family: rule.FamilyIPv6}, rule.FamilyNone))
	assert.Equal(t, condSame, classify(&rule.Rule{Family: rule.FamilyIPv6}, rule.FamilyIPv6))
	assert.Equal(t, condSwitched, classify(&rule.Rule{Family: rule.FamilyIPv4}, rule.FamilyIPv6))
}
