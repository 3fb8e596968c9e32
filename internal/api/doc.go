// Package api implements the HTTP introspection API of the aclsync daemon.
//
// # Overview
//
// The API exposes what the ACL sync engine has programmed and lets an
// operator read and clear counters, trigger a configuration reload and
// follow engine activity live. It listens on loopback by default.
//
// # Endpoints
//
//   - GET  /api/status          daemon and engine summary
//   - GET  /api/counters        counter report (interface, direction, group filters)
//   - POST /api/counters/clear  clear matched counters
//   - GET  /api/dump            text dump of rulesets, groups, counters and rules
//   - GET  /api/groups          per-group publication state
//   - GET  /api/points          attach points with their rulesets
//   - GET  /api/links           links tracked by the monitor
//   - GET  /api/journal         recent configuration transactions
//   - POST /api/reload          re-read the configuration and apply it
//   - GET  /api/logs            recent daemon log lines (limit, source filters)
//   - GET  /api/ws/events       websocket stream of hub events and transactions
//   - GET  /metrics             prometheus exposition
//   - GET  /healthz /readyz /livez
//
// # Authentication
//
// When an API key is configured every /api route requires it in the
// X-API-Key header (or the api_key query parameter for websockets).
// Health and metrics stay public.
package api
