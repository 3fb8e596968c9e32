// Package rule holds the parsed form of an ACL rule as delivered by the
// rule-group store. Rules arrive already compiled; this package only
// derives the summary bitmask the sync engine keys its decisions on.
package rule

import (
	"fmt"
	"math"
	"net/netip"
	"strings"

	"grimm.is/aclsync/internal/errors"
)

// AttrIndex is the reserved index of the group attribute pseudo-rule.
const AttrIndex uint32 = math.MaxUint32

// Summary is a bitmask of the capabilities a rule (or a whole group) uses.
type Summary uint32

const (
	SummaryPass Summary = 1 << iota
	SummaryDrop
	// SummaryCountRef marks a rule that references the group counter.
	SummaryCountRef
	// SummaryCountDef marks an attribute rule that defines group counting.
	SummaryCountDef
	SummaryCountDefPass
	SummaryCountDefDrop
	SummaryV4
	SummaryV6
	SummaryProto
	SummarySrcAddr
	SummaryDstAddr
	SummarySrcPort
	SummaryDstPort
)

// SummaryCountDefNamed selects per-action (named) counting.
const SummaryCountDefNamed = SummaryCountDefPass | SummaryCountDefDrop

var summaryNames = []struct {
	bit  Summary
	name string
}{
	{SummaryPass, "pass"},
	{SummaryDrop, "drop"},
	{SummaryCountRef, "count-ref"},
	{SummaryCountDef, "count-def"},
	{SummaryCountDefPass, "count-def-pass"},
	{SummaryCountDefDrop, "count-def-drop"},
	{SummaryV4, "v4"},
	{SummaryV6, "v6"},
	{SummaryProto, "proto"},
	{SummarySrcAddr, "src-addr"},
	{SummaryDstAddr, "dst-addr"},
	{SummarySrcPort, "src-port"},
	{SummaryDstPort, "dst-port"},
}

// Has reports whether all bits of b are set.
func (s Summary) Has(b Summary) bool {
	return s&b == b
}

// Any reports whether any bit of b is set.
func (s Summary) Any(b Summary) bool {
	return s&b != 0
}

func (s Summary) String() string {
	var parts []string
	for _, n := range summaryNames {
		if s.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Action is the verdict of a rule.
type Action uint8

const (
	ActionNone Action = iota
	ActionPass
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "accept"
	case ActionDrop:
		return "drop"
	default:
		return "none"
	}
}

// ParseAction accepts the configuration spellings of an action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ActionNone, nil
	case "accept", "pass", "allow":
		return ActionPass, nil
	case "drop", "deny", "block":
		return ActionDrop, nil
	}
	return ActionNone, errors.Errorf(errors.KindValidation, "unknown action %q", s)
}

// Family is the address family carried by an attribute rule.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "none"
	}
}

// ParseFamily accepts "ipv4"/"ip" and "ipv6"/"ip6"; empty means unresolved.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FamilyNone, nil
	case "ipv4", "ip", "inet":
		return FamilyIPv4, nil
	case "ipv6", "ip6", "inet6":
		return FamilyIPv6, nil
	}
	return FamilyNone, errors.Errorf(errors.KindValidation, "unknown address family %q", s)
}

// Counting selects how an attribute rule asks for group counters.
type Counting uint8

const (
	CountingNone Counting = iota
	CountingNumbered
	CountingNamed
)

func (c Counting) String() string {
	switch c {
	case CountingNumbered:
		return "numbered"
	case CountingNamed:
		return "named"
	default:
		return "none"
	}
}

// ParseCounting accepts "numbered" and "named"; empty disables counting.
func ParseCounting(s string) (Counting, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CountingNone, nil
	case "numbered", "auto-per-rule":
		return CountingNumbered, nil
	case "named", "auto-per-action":
		return CountingNamed, nil
	}
	return CountingNone, errors.Errorf(errors.KindValidation, "unknown counter type %q", s)
}

// Rule is a parsed ACL rule. Ordinary rules use the match and action fields;
// the attribute rule uses Family and the counting fields.
type Rule struct {
	Action  Action
	Count   bool
	Proto   uint8
	Src     netip.Prefix
	Dst     netip.Prefix
	SrcPort uint16
	DstPort uint16

	Family      Family
	Counting    Counting
	CountAccept bool
	CountDrop   bool
}

// Summary derives the capability bitmask of the rule.
func (r *Rule) Summary() Summary {
	if r == nil {
		return 0
	}
	var s Summary
	switch r.Action {
	case ActionPass:
		s |= SummaryPass
	case ActionDrop:
		s |= SummaryDrop
	}
	if r.Count {
		s |= SummaryCountRef
	}
	if r.Proto != 0 {
		s |= SummaryProto
	}
	if r.Src.IsValid() {
		s |= SummarySrcAddr
	}
	if r.Dst.IsValid() {
		s |= SummaryDstAddr
	}
	if r.SrcPort != 0 {
		s |= SummarySrcPort
	}
	if r.DstPort != 0 {
		s |= SummaryDstPort
	}
	switch r.Family {
	case FamilyIPv4:
		s |= SummaryV4
	case FamilyIPv6:
		s |= SummaryV6
	}
	if r.Counting != CountingNone {
		s |= SummaryCountDef
		if r.Counting == CountingNamed {
			if r.CountAccept {
				s |= SummaryCountDefPass
			}
			if r.CountDrop {
				s |= SummaryCountDefDrop
			}
		}
	}
	return s
}

// Clone returns an independent copy. netip.Prefix is a value type, so a
// shallow copy is sufficient.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Equal reports whether two rules are identical.
func (r *Rule) Equal(o *Rule) bool {
	if r == nil || o == nil {
		return r == o
	}
	return *r == *o
}

// Validate checks field consistency. attr selects attribute-rule checks.
func (r *Rule) Validate(attr bool) error {
	if r == nil {
		return errors.New(errors.KindValidation, "nil rule")
	}
	if attr {
		if r.Counting == CountingNamed && !r.CountAccept && !r.CountDrop {
			return errors.New(errors.KindValidation, "named counting needs count_accept or count_drop")
		}
		return nil
	}
	if (r.SrcPort != 0 || r.DstPort != 0) && r.Proto != 6 && r.Proto != 17 {
		return errors.Errorf(errors.KindValidation, "port match needs tcp or udp, got proto %d", r.Proto)
	}
	for _, p := range []netip.Prefix{r.Src, r.Dst} {
		if !p.IsValid() {
			continue
		}
		if r.Family == FamilyIPv4 && !p.Addr().Is4() {
			return errors.Errorf(errors.KindValidation, "prefix %s is not ipv4", p)
		}
		if r.Family == FamilyIPv6 && !p.Addr().Is6() {
			return errors.Errorf(errors.KindValidation, "prefix %s is not ipv6", p)
		}
	}
	return nil
}

func (r *Rule) String() string {
	if r == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(r.Action.String())
	if r.Proto != 0 {
		fmt.Fprintf(&b, " proto %d", r.Proto)
	}
	if r.Src.IsValid() {
		fmt.Fprintf(&b, " from %s", r.Src)
	}
	if r.SrcPort != 0 {
		fmt.Fprintf(&b, " sport %d", r.SrcPort)
	}
	if r.Dst.IsValid() {
		fmt.Fprintf(&b, " to %s", r.Dst)
	}
	if r.DstPort != 0 {
		fmt.Fprintf(&b, " dport %d", r.DstPort)
	}
	if r.Count {
		b.WriteString(" count")
	}
	if r.Family != FamilyNone {
		fmt.Fprintf(&b, " family %s", r.Family)
	}
	if r.Counting != CountingNone {
		fmt.Fprintf(&b, " counters %s", r.Counting)
	}
	return b.String()
}
