// Package health runs named health checks and serves the aggregated report.
package health

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"grimm.is/aclsync/internal/clock"
	"grimm.is/aclsync/internal/state"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
	ttl    time.Duration
}

// NewChecker creates a checker with no checks registered. Reports are
// cached for ttl; zero disables caching.
func NewChecker(ttl time.Duration) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    ttl,
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all health checks and returns a report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && c.ttl > 0 && clock.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	checkFuncs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checkFuncs[name] = fn
	}
	c.mu.RUnlock()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range checkFuncs {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			start := clock.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = clock.Since(start)

			mu.Lock()
			checks[name] = check
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
			} else if check.Status == StatusDegraded && overallStatus != StatusUnhealthy {
				overallStatus = StatusDegraded
			}
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	report := Report{
		Status:    overallStatus,
		Checks:    checks,
		Timestamp: clock.Now(),
	}

	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()

	return report
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK) // degraded is still serving
		}
		json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler returns a simple liveness probe handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns a readiness probe handler.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if c.Check(ctx).Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	}
}

// TxnSource returns the most recent configuration transaction.
type TxnSource interface {
	Last(ctx context.Context) (state.Txn, error)
}

// CheckTransactions reports degraded when the last configuration
// transaction failed, and unhealthy when the journal cannot be read.
func CheckTransactions(src TxnSource) CheckFunc {
	return func(ctx context.Context) Check {
		txn, err := src.Last(ctx)
		switch {
		case stderrors.Is(err, state.ErrNotFound):
			return Check{Status: StatusDegraded, Message: "no configuration applied yet"}
		case err != nil:
			return Check{Status: StatusUnhealthy, Message: "journal unreadable: " + err.Error()}
		case !txn.OK():
			return Check{Status: StatusDegraded, Message: "last transaction " + txn.ID + " failed: " + txn.Error}
		}
		return Check{Status: StatusHealthy, Message: "last transaction " + txn.ID + " applied"}
	}
}
