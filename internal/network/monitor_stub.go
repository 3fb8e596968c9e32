//go:build !linux
// +build !linux

package network

import (
	"context"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/logging"
)

// Monitor is a stub on platforms without netlink.
type Monitor struct{}

// NewMonitor returns a stub monitor.
func NewMonitor(h *Handler, nsName string, logger *logging.Logger) *Monitor {
	return &Monitor{}
}

// Run always fails on this platform.
func (m *Monitor) Run(ctx context.Context) error {
	return errors.New(errors.KindUnavailable, "link monitoring not supported on this platform")
}

// EthtoolOffload is a stub on platforms without ethtool.
type EthtoolOffload struct{}

// NewEthtoolOffload always fails on this platform.
func NewEthtoolOffload() (*EthtoolOffload, error) {
	return nil, errors.New(errors.KindUnavailable, "ethtool not supported on this platform")
}

func (e *EthtoolOffload) Offload(ifname string) (bool, error) {
	return false, errors.New(errors.KindUnavailable, "ethtool not supported on this platform")
}

func (e *EthtoolOffload) Close() {}
