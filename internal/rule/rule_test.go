package rule

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/aclsync/internal/errors"
)

func TestSummary_OrdinaryRule(t *testing.T) {
	r := &Rule{
		Action:  ActionDrop,
		Count:   true,
		Proto:   6,
		Dst:     netip.MustParsePrefix("10.0.0.0/8"),
		DstPort: 22,
	}
	s := r.Summary()
	assert.True(t, s.Has(SummaryDrop|SummaryCountRef|SummaryProto|SummaryDstAddr|SummaryDstPort))
	assert.False(t, s.Any(SummaryPass|SummaryCountDef|SummarySrcAddr))
}

func TestSummary_AttributeRule(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want Summary
	}{
		{"family only", Rule{Family: FamilyIPv4}, SummaryV4},
		{"numbered", Rule{Family: FamilyIPv6, Counting: CountingNumbered}, SummaryV6 | SummaryCountDef},
		{"named accept", Rule{Counting: CountingNamed, CountAccept: true}, SummaryCountDef | SummaryCountDefPass},
		{"named both", Rule{Counting: CountingNamed, CountAccept: true, CountDrop: true}, SummaryCountDef | SummaryCountDefNamed},
		// named without any action degrades to numbered-type summary
		{"named empty", Rule{Counting: CountingNamed}, SummaryCountDef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Summary())
		})
	}
}

func TestSummary_Nil(t *testing.T) {
	var r *Rule
	assert.Equal(t, Summary(0), r.Summary())
	assert.Equal(t, "none", Summary(0).String())
}

func TestClone_Independent(t *testing.T) {
	orig := &Rule{Family: FamilyIPv4, Counting: CountingNumbered}
	c := orig.Clone()
	require.True(t, orig.Equal(c))

	c.Family = FamilyIPv6
	assert.Equal(t, FamilyIPv4, orig.Family)
	assert.False(t, orig.Equal(c))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&Rule{Action: ActionPass, Proto: 17, DstPort: 53}).Validate(false))

	err := (&Rule{Action: ActionPass, Proto: 1, DstPort: 53}).Validate(false)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	err = (&Rule{Family: FamilyIPv4, Dst: netip.MustParsePrefix("2001:db8::/32")}).Validate(false)
	assert.Error(t, err)

	assert.Error(t, (&Rule{Counting: CountingNamed}).Validate(true))
	assert.NoError(t, (&Rule{Counting: CountingNamed, CountDrop: true}).Validate(true))
}

func TestParsers(t *testing.T) {
	a, err := ParseAction("deny")
	require.NoError(t, err)
	assert.Equal(t, ActionDrop, a)
	_, err = ParseAction("reject-with-tcp-reset")
	assert.Error(t, err)

	f, err := ParseFamily("inet6")
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, f)

	c, err := ParseCounting("auto-per-action")
	require.NoError(t, err)
	assert.Equal(t, CountingNamed, c)
}

func TestString(t *testing.T) {
	r := &Rule{Action: ActionDrop, Proto: 6, DstPort: 22, Count: true}
	assert.Equal(t, "drop proto 6 dport 22 count", r.String())
}
