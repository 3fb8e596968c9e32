package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/client"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/state"
)

type fakeClient struct {
	filter   acl.Filter
	logQuery logging.Query
	limit    int
	err      error
}

func (f *fakeClient) GetStatus(context.Context) (*client.Status, error) {
	return &client.Status{Status: "online", Backend: "memory", Groups: 2, GroupsPublished: 1}, f.err
}

func (f *fakeClient) GetCounters(_ context.Context, flt acl.Filter) (*acl.CountersReport, error) {
	f.filter = flt
	pkts := uint64(1500)
	return &acl.CountersReport{Rulesets: []acl.RulesetCounters{{
		Interface: "eth0",
		Direction: "in",
		Groups: []acl.GroupCounters{{Name: "G1", Counters: []acl.CounterReport{
			{Name: "10", CountPackets: true, HW: &acl.HWValues{Packets: &pkts}},
		}}},
	}}}, f.err
}

func (f *fakeClient) ClearCounters(_ context.Context, flt acl.Filter) error {
	f.filter = flt
	return f.err
}

func (f *fakeClient) GetDump(context.Context) (string, error) { return "", f.err }

func (f *fakeClient) GetGroups(context.Context) ([]acl.GroupStatus, error) {
	return []acl.GroupStatus{{Interface: "eth0", Direction: "in", Name: "G1", Family: "ipv4", Published: true}}, f.err
}

func (f *fakeClient) GetPoints(context.Context) ([]client.Point, error) {
	return []client.Point{{Type: "interface", Name: "eth0", Up: true, Rulesets: map[string][]string{"acl-in": {"G1"}}}}, f.err
}

func (f *fakeClient) GetLinks(context.Context) ([]client.Link, error) {
	return []client.Link{{Name: "eth0", Index: 2, Up: true, Enabled: true}}, f.err
}

func (f *fakeClient) GetJournal(_ context.Context, limit int) ([]state.Txn, error) {
	f.limit = limit
	return []state.Txn{{ID: "0123456789abcdef", Source: "startup"}}, f.err
}

func (f *fakeClient) Reload(context.Context) (*client.ReloadResult, error) { return nil, f.err }

func (f *fakeClient) GetLogs(_ context.Context, q logging.Query) ([]logging.Record, error) {
	f.logQuery, f.limit = q, q.Limit
	return []logging.Record{{Level: "info", Source: q.Source, Group: q.Group, Message: "hello"}}, f.err
}

func (f *fakeClient) TailEvents(ctx context.Context, topics []string, fn func(client.Message)) error {
	for _, topic := range topics {
		fn(client.Message{Topic: topic, Data: json.RawMessage(`{"n":1}`)})
	}
	return f.err
}

func TestShow_Table(t *testing.T) {
	for _, what := range ShowTargets {
		t.Run(what, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, show(context.Background(), &buf, &fakeClient{}, what, ShowOptions{}))
			assert.NotEmpty(t, buf.String())
		})
	}
}

func TestShow_CountersFilter(t *testing.T) {
	saved := Printer
	Printer = message.NewPrinter(language.English)
	t.Cleanup(func() { Printer = saved })

	c := &fakeClient{}
	var buf bytes.Buffer
	opts := ShowOptions{Filter: acl.Filter{Interface: "eth0", Direction: "ingress", Group: "G1"}}
	require.NoError(t, show(context.Background(), &buf, c, "counters", opts))
	assert.Equal(t, acl.Filter{Interface: "eth0", Direction: "in", Group: "G1"}, c.filter)
	assert.Contains(t, buf.String(), "1,500")

	opts.Filter.Direction = "sideways"
	err := show(context.Background(), &buf, c, "counters", opts)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestShow_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, show(context.Background(), &buf, &fakeClient{}, "links", ShowOptions{Format: FormatJSON}))

	var links []client.Link
	require.NoError(t, json.Unmarshal(buf.Bytes(), &links))
	assert.Equal(t, []client.Link{{Name: "eth0", Index: 2, Up: true, Enabled: true}}, links)
}

func TestShow_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, show(context.Background(), &buf, &fakeClient{}, "status", ShowOptions{Format: FormatYAML}))

	out := buf.String()
	assert.Contains(t, out, "status: online\n")
	assert.Contains(t, out, "groups_published: 1\n")
	assert.NotContains(t, out, "last_txn")
}

func TestShow_LogsAndJournal(t *testing.T) {
	c := &fakeClient{}
	var buf bytes.Buffer
	require.NoError(t, show(context.Background(), &buf, c, "logs", ShowOptions{
		Source: "acl",
		Level:  "warn",
		Filter: acl.Filter{Interface: "eth0", Group: "G1"},
		Limit:  20,
	}))
	assert.Equal(t, logging.Query{Source: "acl", Interface: "eth0", Group: "G1", MinLevel: "warn", Limit: 20}, c.logQuery)
	assert.Contains(t, buf.String(), "[acl] hello")
	assert.Contains(t, buf.String(), "group=G1")

	buf.Reset()
	require.NoError(t, show(context.Background(), &buf, c, "journal", ShowOptions{Limit: 5}))
	assert.Equal(t, 5, c.limit)
	assert.Contains(t, buf.String(), "01234567")
}

func TestShow_Errors(t *testing.T) {
	var buf bytes.Buffer
	err := show(context.Background(), &buf, &fakeClient{}, "rules", ShowOptions{})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Contains(t, err.Error(), "status, counters")

	err = show(context.Background(), &buf, &fakeClient{}, "links", ShowOptions{Format: "xml"})
	assert.ErrorContains(t, err, "unknown output format")

	boom := errors.New(errors.KindUnavailable, "daemon down")
	err = show(context.Background(), &buf, &fakeClient{err: boom}, "groups", ShowOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestTailEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tailEvents(context.Background(), &buf, &fakeClient{}, []string{"events", "txns"}))
	assert.Equal(t, "{\"topic\":\"events\",\"data\":{\"n\":1}}\n{\"topic\":\"txns\",\"data\":{\"n\":1}}\n", buf.String())
}
