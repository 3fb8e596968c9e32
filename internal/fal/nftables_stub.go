//go:build !linux
// +build !linux

package fal

import (
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/rule"
)

// NFTBackend is unavailable off Linux.
type NFTBackend struct{}

// NewNFTBackend always fails off Linux.
func NewNFTBackend(_ any, _ string) (*NFTBackend, error) {
	return nil, errUnsupported
}

// OpenNFTBackend always fails off Linux.
func OpenNFTBackend(_ string) (*NFTBackend, error) {
	return nil, errUnsupported
}

func (b *NFTBackend) Close() error { return nil }

func (b *NFTBackend) CreateGroup(GroupSpec) (ObjID, error) { return 0, errUnsupported }
func (b *NFTBackend) DeleteGroup(ObjID) error { return errUnsupported }
func (b *NFTBackend) ModifyGroup(ObjID, rule.Summary) error { return errUnsupported }
func (b *NFTBackend) AttachGroup(ObjID, Interface, Direction) error { return errUnsupported }
func (b *NFTBackend) DetachGroup(ObjID, Interface, Direction) error { return errUnsupported }
func (b *NFTBackend) CreateRule(RuleSpec) (ObjID, error) { return 0, errUnsupported }
func (b *NFTBackend) DeleteRule(ObjID) error { return errUnsupported }
func (b *NFTBackend) CreateCounter(CounterSpec) (ObjID, error) { return 0, errUnsupported }
func (b *NFTBackend) DeleteCounter(ObjID) error { return errUnsupported }
func (b *NFTBackend) ReadCounter(ObjID) (CounterValues, error) { return CounterValues{}, errUnsupported }
func (b *NFTBackend) ClearCounter(ObjID) error { return errUnsupported }
func (b *NFTBackend) Commit() error { return errUnsupported }

var errUnsupported = errors.New(errors.KindUnavailable, "nftables backend requires linux")
