package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindHardware, "rule create failed")
	if wrapped.Error() != "rule create failed: invalid input" {
		t.Errorf("expected 'rule create failed: invalid input', got '%s'", wrapped.Error())
	}

	if Wrap(nil, KindInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindResource, "counter pool exhausted")
	if GetKind(err) != KindResource {
		t.Errorf("expected KindResource, got %v", GetKind(err))
	}
	if !IsKind(err, KindResource) {
		t.Error("IsKind should match")
	}

	wrapped := Wrapf(err, KindHardware, "group %s", "G1")
	if GetKind(wrapped) != KindHardware {
		t.Errorf("expected KindHardware, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
	if IsKind(nil, KindUnknown) {
		t.Error("nil error has no kind")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindNotFound: "not_found",
		KindConflict: "conflict",
		KindHardware: "hardware",
		KindResource: "resource",
		Kind(99):     "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want)
		}
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindNotFound, "rule missing")
	err = Attr(err, "group", "G1")
	err = Attr(err, "index", 10)

	attrs := GetAttributes(err)
	if attrs["group"] != "G1" {
		t.Errorf("expected G1, got %v", attrs["group"])
	}
	if attrs["index"] != 10 {
		t.Errorf("expected 10, got %v", attrs["index"])
	}

	wrapped := Wrap(err, KindInternal, "delete failed")
	wrapped = Attr(wrapped, "operation", "delete")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["group"] != "G1" || allAttrs["operation"] != "delete" {
		t.Errorf("missing attributes: %v", allAttrs)
	}
}

func TestJoin(t *testing.T) {
	a := New(KindHardware, "a")
	b := New(KindHardware, "b")
	joined := Join(a, nil, b)
	if !Is(joined, a) || !Is(joined, b) {
		t.Error("Join should keep both errors reachable")
	}
	if Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}
}
