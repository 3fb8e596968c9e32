package api

import (
	"time"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/state"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status          string     `json:"status"`
	Version         string     `json:"version"`
	Backend         string     `json:"backend"`
	StartedAt       time.Time  `json:"started_at"`
	Uptime          string     `json:"uptime"`
	Deferrals       bool       `json:"deferrals"`
	CommitPending   bool       `json:"commit_pending"`
	Groups          int        `json:"groups"`
	GroupsPublished int        `json:"groups_published"`
	Points          int        `json:"points"`
	Links           int        `json:"links"`
	LastTxn         *state.Txn `json:"last_txn,omitempty"`
}

// PointResponse describes one attach point. Rulesets map the ruleset type
// (acl-in, acl-out, ...) to its groups in attach order.
type PointResponse struct {
	Type     string              `json:"type"`
	Name     string              `json:"name"`
	Up       bool                `json:"up"`
	Rulesets map[string][]string `json:"rulesets"`
}

func pointResponse(p attach.PointInfo) PointResponse {
	out := PointResponse{
		Type:     p.Type.String(),
		Name:     p.Name,
		Up:       p.Up,
		Rulesets: make(map[string][]string, len(p.Rulesets)),
	}
	for typ, groups := range p.Rulesets {
		names := make([]string, 0, len(groups))
		for _, g := range groups {
			names = append(names, g.Name)
		}
		out.Rulesets[typ.String()] = names
	}
	return out
}

// ClearResponse is returned by POST /api/counters/clear.
type ClearResponse struct {
	Cleared bool       `json:"cleared"`
	Filter  acl.Filter `json:"filter"`
}

// ReloadResponse is returned by POST /api/reload.
type ReloadResponse struct {
	Txn     state.Txn `json:"txn"`
	Changes []string  `json:"changes"`
}
