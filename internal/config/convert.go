package config

import (
	"net/netip"
	"strconv"
	"strings"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/rule"
)

var protoNames = map[string]uint8{
	"icmp":   1,
	"tcp":    6,
	"udp":    17,
	"icmpv6": 58,
}

// ParseProto accepts a protocol name or number. Empty means any.
func ParseProto(s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "any" {
		return 0, nil
	}
	if p, ok := protoNames[s]; ok {
		return p, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errors.Errorf(errors.KindValidation, "unknown protocol %q", s)
	}
	return uint8(n), nil
}

// ParsePrefix accepts a CIDR prefix or a bare address. Empty means any.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, nil
	}
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, errors.Errorf(errors.KindValidation, "invalid address or prefix %q", s)
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// ParseIndex parses a rule label. The top index is reserved for the
// attribute rule.
func ParseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Errorf(errors.KindValidation, "rule index %q is not a number", s)
	}
	if uint32(n) == rule.AttrIndex {
		return 0, errors.Errorf(errors.KindValidation, "rule index %d is reserved", n)
	}
	return uint32(n), nil
}

func parsePort(p int) (uint16, error) {
	if p < 0 || p > 65535 {
		return 0, errors.Errorf(errors.KindValidation, "port %d out of range", p)
	}
	return uint16(p), nil
}

// AttributeRule converts the attribute block. It returns nil when the
// group has none.
func (g *RuleGroup) AttributeRule() (*rule.Rule, error) {
	if g.Attributes == nil {
		return nil, nil
	}
	fam, err := rule.ParseFamily(g.Attributes.Family)
	if err != nil {
		return nil, err
	}
	cnt, err := rule.ParseCounting(g.Attributes.Counters)
	if err != nil {
		return nil, err
	}
	r := &rule.Rule{
		Family:   fam,
		Counting: cnt,
	}
	if cnt == rule.CountingNamed {
		r.CountAccept = g.Attributes.CountAccept
		r.CountDrop = g.Attributes.CountDrop
	}
	if err := r.Validate(true); err != nil {
		return nil, err
	}
	return r, nil
}

// Compile converts one rule. fam is the group family, used only to check
// the address prefixes.
func (r *Rule) Compile(fam rule.Family) (uint32, *rule.Rule, error) {
	idx, err := ParseIndex(r.Index)
	if err != nil {
		return 0, nil, err
	}
	out := &rule.Rule{Count: r.Count}
	if out.Action, err = rule.ParseAction(r.Action); err != nil {
		return idx, nil, err
	}
	if out.Proto, err = ParseProto(r.Proto); err != nil {
		return idx, nil, err
	}
	if out.Src, err = ParsePrefix(r.Src); err != nil {
		return idx, nil, err
	}
	if out.Dst, err = ParsePrefix(r.Dst); err != nil {
		return idx, nil, err
	}
	if out.SrcPort, err = parsePort(r.SrcPort); err != nil {
		return idx, nil, err
	}
	if out.DstPort, err = parsePort(r.DstPort); err != nil {
		return idx, nil, err
	}

	check := out.Clone()
	check.Family = fam
	if err := check.Validate(false); err != nil {
		return idx, nil, err
	}
	return idx, out, nil
}

// Compile converts the group into rule-group store entries keyed by
// index, the attribute rule included.
func (g *RuleGroup) Compile() (map[uint32]*rule.Rule, error) {
	attr, err := g.AttributeRule()
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "rule_group %s attributes", g.Name)
	}
	fam := rule.FamilyNone
	out := make(map[uint32]*rule.Rule, len(g.Rules)+1)
	if attr != nil {
		fam = attr.Family
		out[rule.AttrIndex] = attr
	}
	for i := range g.Rules {
		idx, r, err := g.Rules[i].Compile(fam)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule_group %s rule %s", g.Name, g.Rules[i].Index)
		}
		if _, dup := out[idx]; dup {
			return nil, errors.Errorf(errors.KindConflict, "rule_group %s has rule %d twice", g.Name, idx)
		}
		out[idx] = r
	}
	return out, nil
}

// CompileAll converts every rule group.
func (c *Config) CompileAll() (map[string]map[uint32]*rule.Rule, error) {
	out := make(map[string]map[uint32]*rule.Rule, len(c.RuleGroups))
	for i := range c.RuleGroups {
		g := &c.RuleGroups[i]
		if _, dup := out[g.Name]; dup {
			return nil, errors.Errorf(errors.KindConflict, "rule_group %s defined twice", g.Name)
		}
		rules, err := g.Compile()
		if err != nil {
			return nil, err
		}
		out[g.Name] = rules
	}
	return out, nil
}
