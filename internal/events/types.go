// Package events provides the typed, synchronous subscription hub that
// carries attach-point lifecycle notifications to the ACL sync engine.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the category of event. Kinds are single bits so that
// subscribers can select several with a KindMask.
type Kind uint32

const (
	KindAttachPointUp Kind = 1 << iota
	KindAttachPointDown
	KindRulesetAdd
	KindRulesetDelete
	KindGroupAdd
	KindGroupDelete
	KindFeatureMode
)

var kindNames = map[Kind]string{
	KindAttachPointUp:   "attach_point.up",
	KindAttachPointDown: "attach_point.down",
	KindRulesetAdd:      "ruleset.add",
	KindRulesetDelete:   "ruleset.delete",
	KindGroupAdd:        "group.add",
	KindGroupDelete:     "group.delete",
	KindFeatureMode:     "feature.mode",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%#x)", uint32(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindMask selects a set of event kinds.
type KindMask uint32

// Mask builds a KindMask from the given kinds.
func Mask(kinds ...Kind) KindMask {
	var m KindMask
	for _, k := range kinds {
		m |= KindMask(k)
	}
	return m
}

// Has reports whether k is selected by the mask.
func (m KindMask) Has(k Kind) bool {
	return m&KindMask(k) != 0
}

func (m KindMask) String() string {
	var parts []string
	for k := KindAttachPointUp; k <= KindFeatureMode; k <<= 1 {
		if m.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}

// PointType is the kind of object a ruleset can be attached to.
type PointType uint8

const (
	PointInterface PointType = iota
	PointGlobal
)

func (t PointType) String() string {
	if t == PointGlobal {
		return "global"
	}
	return "interface"
}

func (t PointType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// RulesetType is the feature and direction of a ruleset on an attach point.
type RulesetType uint8

const (
	RulesetACLIn RulesetType = iota
	RulesetACLOut
	RulesetFWIn
	RulesetFWOut
)

func (t RulesetType) String() string {
	switch t {
	case RulesetACLIn:
		return "acl-in"
	case RulesetACLOut:
		return "acl-out"
	case RulesetFWIn:
		return "fw-in"
	case RulesetFWOut:
		return "fw-out"
	default:
		return "unknown"
	}
}

func (t RulesetType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// IsACL reports whether the ruleset belongs to the ACL feature.
func (t RulesetType) IsACL() bool {
	return t == RulesetACLIn || t == RulesetACLOut
}

// FeatureMode is a per-interface dataplane mode announced by the link layer.
type FeatureMode uint8

const (
	// FeatureL3FALEnabled is announced once an interface can take offloaded rules.
	FeatureL3FALEnabled FeatureMode = iota + 1
	FeatureL3FALDisabled
)

func (m FeatureMode) String() string {
	switch m {
	case FeatureL3FALEnabled:
		return "l3-fal-enabled"
	case FeatureL3FALDisabled:
		return "l3-fal-disabled"
	default:
		return "unknown"
	}
}

func (m FeatureMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Event is the core message passed through the hub.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// PointData is the payload for KindAttachPointUp/KindAttachPointDown.
type PointData struct {
	Type PointType `json:"type"`
	Name string    `json:"name"`
}

// RulesetData is the payload for KindRulesetAdd/KindRulesetDelete.
type RulesetData struct {
	PointType PointType   `json:"point_type"`
	Point     string      `json:"point"`
	Type      RulesetType `json:"type"`
}

// GroupData is the payload for KindGroupAdd/KindGroupDelete.
type GroupData struct {
	PointType   PointType   `json:"point_type"`
	Point       string      `json:"point"`
	RulesetType RulesetType `json:"ruleset_type"`
	Class       string      `json:"class"`
	Name        string      `json:"name"`
}

// FeatureModeData is the payload for KindFeatureMode.
type FeatureModeData struct {
	Interface string      `json:"interface"`
	Mode      FeatureMode `json:"mode"`
}

// checkPayload verifies that an event carries the payload type of its kind.
func checkPayload(e Event) error {
	var ok bool
	switch e.Kind {
	case KindAttachPointUp, KindAttachPointDown:
		_, ok = e.Data.(PointData)
	case KindRulesetAdd, KindRulesetDelete:
		_, ok = e.Data.(RulesetData)
	case KindGroupAdd, KindGroupDelete:
		_, ok = e.Data.(GroupData)
	case KindFeatureMode:
		_, ok = e.Data.(FeatureModeData)
	default:
		return fmt.Errorf("unknown event kind %s", e.Kind)
	}
	if !ok {
		return fmt.Errorf("event %s carries %T payload", e.Kind, e.Data)
	}
	return nil
}
