package network

import (
	"sort"
	"sync"

	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/logging"
)

// LinkEvent is one link state change as seen by the monitor.
type LinkEvent struct {
	Name    string
	Index   int
	Up      bool
	Deleted bool
}

// LinkTable is the name → ifindex table rulesets bind through.
type LinkTable interface {
	Set(name string, index int)
	Remove(name string)
}

// PointNotifier receives attach-point lifecycle announcements.
type PointNotifier interface {
	Up(pt events.PointType, name string) error
	Down(pt events.PointType, name string) error
	FeatureModeChange(ifname string, mode events.FeatureMode) error
}

// OffloadChecker reports whether an interface can take offloaded rules.
type OffloadChecker interface {
	Offload(ifname string) (bool, error)
}

// LinkStatus is a snapshot of one tracked link.
type LinkStatus struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Up      bool   `json:"up"`
	Enabled bool   `json:"fal_enabled"`
}

type linkState struct {
	index   int
	up      bool
	enabled bool
	known   bool
}

// HandlerConfig wires a Handler. Offload is optional; without it every
// link is FAL-enabled.
type HandlerConfig struct {
	Links   LinkTable
	Points  PointNotifier
	Offload OffloadChecker
	Logger  *logging.Logger
}

// Handler applies link events to the link table and the attach registry.
type Handler struct {
	mu      sync.Mutex
	links   LinkTable
	points  PointNotifier
	offload OffloadChecker
	log     *logging.Logger
	state   map[string]*linkState
}

// NewHandler creates a link event handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		links:   cfg.Links,
		points:  cfg.Points,
		offload: cfg.Offload,
		log:     logger.WithComponent("network"),
		state:   make(map[string]*linkState),
	}
}

// Handle applies one link event.
func (h *Handler) Handle(ev LinkEvent) {
	if ev.Name == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Deleted {
		h.remove(ev.Name)
		return
	}

	st := h.state[ev.Name]
	if st == nil {
		st = &linkState{}
		h.state[ev.Name] = st
	}
	if !st.known || st.index != ev.Index {
		h.links.Set(ev.Name, ev.Index)
		st.index = ev.Index
	}

	// Offload capability can change with driver settings, so it is probed
	// on first sight and on every up transition.
	if !st.known || (ev.Up && !st.up) {
		h.setMode(ev.Name, st, h.offloadEnabled(ev.Name))
	}

	if st.known && st.up == ev.Up {
		return
	}
	wasKnown := st.known
	st.known = true
	st.up = ev.Up
	if ev.Up {
		h.log.Info("Link up", "ifname", ev.Name, "ifindex", ev.Index)
		h.notify("up", ev.Name, h.points.Up(events.PointInterface, ev.Name))
	} else if wasKnown {
		h.log.Info("Link down", "ifname", ev.Name, "ifindex", ev.Index)
		h.notify("down", ev.Name, h.points.Down(events.PointInterface, ev.Name))
	}
}

// Sync applies a full link listing. Tracked links missing from the
// listing are treated as deleted.
func (h *Handler) Sync(links []LinkEvent) {
	present := make(map[string]bool, len(links))
	for _, l := range links {
		present[l.Name] = true
		h.Handle(l)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range h.names() {
		if !present[name] {
			h.remove(name)
		}
	}
}

// Links returns the tracked links sorted by name.
func (h *Handler) Links() []LinkStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LinkStatus, 0, len(h.state))
	for _, name := range h.names() {
		st := h.state[name]
		out = append(out, LinkStatus{Name: name, Index: st.index, Up: st.up, Enabled: st.enabled})
	}
	return out
}

func (h *Handler) names() []string {
	names := make([]string, 0, len(h.state))
	for name := range h.state {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) remove(name string) {
	st := h.state[name]
	if st == nil {
		return
	}
	if st.up {
		h.log.Info("Link removed", "ifname", name)
		h.notify("down", name, h.points.Down(events.PointInterface, name))
	}
	if st.enabled {
		h.setMode(name, st, false)
	}
	h.links.Remove(name)
	delete(h.state, name)
}

func (h *Handler) offloadEnabled(name string) bool {
	if h.offload == nil {
		return true
	}
	ok, err := h.offload.Offload(name)
	if err != nil {
		h.log.Warn("Cannot probe offload features", "ifname", name, "error", err)
		return false
	}
	return ok
}

func (h *Handler) setMode(name string, st *linkState, enabled bool) {
	if st.enabled == enabled {
		return
	}
	st.enabled = enabled
	mode := events.FeatureL3FALDisabled
	if enabled {
		mode = events.FeatureL3FALEnabled
	}
	h.notify("feature mode", name, h.points.FeatureModeChange(name, mode))
}

func (h *Handler) notify(what, name string, err error) {
	if err != nil {
		h.log.Error("Attach point notification failed", "event", what, "ifname", name, "error", err)
	}
}
