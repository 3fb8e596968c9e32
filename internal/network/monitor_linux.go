//go:build linux
// +build linux

package network

import (
	"context"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/logging"
)

// offloadFeature is the ethtool feature that gates tc/flower offload.
const offloadFeature = "hw-tc-offload"

// Monitor follows kernel link notifications.
type Monitor struct {
	handler *Handler
	netns   string
	log     *logging.Logger
}

// NewMonitor creates a monitor. An empty nsName watches the daemon's own
// network namespace.
func NewMonitor(h *Handler, nsName string, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{handler: h, netns: nsName, log: logger.WithComponent("network")}
}

// Run lists the existing links, then applies updates until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	opts := netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			m.log.Warn("Link subscription error", "error", err)
		},
	}
	if m.netns != "" {
		ns, err := netns.GetFromName(m.netns)
		if err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "failed to open netns %s", m.netns)
		}
		defer ns.Close()
		opts.Namespace = &ns
	}

	if err := netlink.LinkSubscribeWithOptions(updates, done, opts); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to subscribe to link updates")
	}
	m.log.Info("Started link monitoring", "netns", m.netns)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Stopped link monitoring")
			return nil
		case u, ok := <-updates:
			if !ok {
				return errors.New(errors.KindUnavailable, "link subscription closed")
			}
			m.handler.Handle(linkEvent(u))
		}
	}
}

func linkEvent(u netlink.LinkUpdate) LinkEvent {
	attrs := u.Link.Attrs()
	return LinkEvent{
		Name:    attrs.Name,
		Index:   attrs.Index,
		Up:      u.IfInfomsg.Flags&unix.IFF_UP != 0,
		Deleted: u.Header.Type == unix.RTM_DELLINK,
	}
}

// EthtoolOffload probes hw-tc-offload through the ethtool ioctl.
type EthtoolOffload struct {
	handle *ethtool.Ethtool
}

// NewEthtoolOffload opens an ethtool handle.
func NewEthtoolOffload() (*EthtoolOffload, error) {
	h, err := ethtool.NewEthtool()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open ethtool handle")
	}
	return &EthtoolOffload{handle: h}, nil
}

// Offload reports whether the interface has hw-tc-offload switched on.
func (e *EthtoolOffload) Offload(ifname string) (bool, error) {
	features, err := e.handle.Features(ifname)
	if err != nil {
		return false, err
	}
	return features[offloadFeature], nil
}

// Close closes the ethtool handle.
func (e *EthtoolOffload) Close() {
	e.handle.Close()
}
