package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/aclsync/internal/state"
)

func static(status Status) CheckFunc {
	return func(ctx context.Context) Check {
		return Check{Status: status, Message: string(status)}
	}
}

func TestChecker_Aggregate(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   Status
	}{
		{"empty", nil, StatusHealthy},
		{"healthy", map[string]Status{"a": StatusHealthy, "b": StatusHealthy}, StatusHealthy},
		{"degraded", map[string]Status{"a": StatusHealthy, "b": StatusDegraded}, StatusDegraded},
		{"unhealthy wins", map[string]Status{"a": StatusUnhealthy, "b": StatusDegraded}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(0)
			for name, st := range tt.checks {
				c.Register(name, static(st))
			}
			report := c.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
			for name := range tt.checks {
				assert.Equal(t, name, report.Checks[name].Name)
			}
		})
	}
}

func TestChecker_Cache(t *testing.T) {
	calls := 0
	c := NewChecker(time.Hour)
	c.Register("count", func(ctx context.Context) Check {
		calls++
		return Check{Status: StatusHealthy}
	})
	c.Check(context.Background())
	c.Check(context.Background())
	assert.Equal(t, 1, calls)

	// Registering invalidates the cache.
	c.Register("other", static(StatusHealthy))
	c.Check(context.Background())
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"count", "other"}, c.Names())
}

func TestHandlers(t *testing.T) {
	c := NewChecker(0)
	c.Register("ok", static(StatusHealthy))

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	c.Register("bad", static(StatusUnhealthy))
	rec = httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT READY", rec.Body.String())

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

type fakeTxns struct {
	txn state.Txn
	err error
}

func (f fakeTxns) Last(ctx context.Context) (state.Txn, error) { return f.txn, f.err }

func TestCheckTransactions(t *testing.T) {
	ctx := context.Background()

	check := CheckTransactions(fakeTxns{err: state.ErrNotFound})(ctx)
	assert.Equal(t, StatusDegraded, check.Status)

	check = CheckTransactions(fakeTxns{err: state.ErrStoreClosed})(ctx)
	assert.Equal(t, StatusUnhealthy, check.Status)

	check = CheckTransactions(fakeTxns{txn: state.Txn{ID: "t1", Error: "commit failed"}})(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "commit failed")

	check = CheckTransactions(fakeTxns{txn: state.Txn{ID: "t1"}})(ctx)
	require.Equal(t, StatusHealthy, check.Status)
	assert.Contains(t, check.Message, "t1")
}
