package reconcile

import (
	"bytes"
	"context"
	"sort"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/config"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/fal"
	"grimm.is/aclsync/internal/gpc"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/rulegroup"
)

// Plan is the outcome of a dry run.
type Plan struct {
	Dump    string            `json:"dump"`
	Ops     []string          `json:"ops"`
	Groups  []acl.GroupStatus `json:"groups"`
	Changes []string          `json:"changes"`
	Error   string            `json:"error,omitempty"`
}

// DryRun applies cfg to a private in-memory engine in which every
// configured interface exists, and reports what would be programmed.
// Interface indexes follow the sorted interface names, starting at 1.
func DryRun(ctx context.Context, cfg *config.Config) (*Plan, error) {
	names := make([]string, 0, len(cfg.Interfaces))
	for _, ifc := range cfg.Interfaces {
		names = append(names, ifc.Name)
	}
	sort.Strings(names)
	links := make(map[string]int, len(names))
	for i, n := range names {
		links[n] = i + 1
	}

	hub := events.NewHub()
	defer hub.Close()
	points := attach.NewRegistry(hub)
	groups := rulegroup.NewStore()
	rec := fal.NewRecorder()
	store := gpc.NewStore(rec, gpc.NewStaticResolver(links), logging.Discard())

	eng, err := acl.New(acl.Config{
		Store:      store,
		Hub:        hub,
		RuleGroups: groups,
		Logger:     logging.Discard(),
	})
	if err != nil {
		return nil, err
	}
	eng.Init()
	defer eng.Close()

	rc, err := New(Options{
		Points:     points,
		RuleGroups: groups,
		Engine:     eng,
		Logger:     logging.Discard(),
	})
	if err != nil {
		return nil, err
	}

	res, applyErr := rc.Apply(ctx, cfg, "dry-run")
	var buf bytes.Buffer
	eng.Dump(&buf)
	plan := &Plan{
		Dump:    buf.String(),
		Ops:     rec.Ops(),
		Groups:  eng.Groups(),
		Changes: res.Changes,
	}
	if applyErr != nil {
		plan.Error = applyErr.Error()
	}
	return plan, applyErr
}
