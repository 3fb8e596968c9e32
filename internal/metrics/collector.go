package metrics

import (
	"sync"
	"time"

	"grimm.is/aclsync/internal/clock"
	"grimm.is/aclsync/internal/logging"
)

// CounterSample is one ACL counter value read from hardware.
type CounterSample struct {
	Interface  string
	Direction  string
	Group      string
	Counter    string
	Packets    uint64
	Bytes      uint64
	HasPackets bool
	HasBytes   bool
}

// CounterSource yields the current hardware counter values.
type CounterSource interface {
	CounterSamples() []CounterSample
}

// Collector periodically copies ACL counter values into the registry.
type Collector struct {
	registry *Registry
	source   CounterSource
	logger   *logging.Logger
	interval time.Duration
	clock    clock.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
	started  time.Time

	mu         sync.RWMutex
	lastUpdate time.Time
	lastCount  int
}

// NewCollector creates a new counter collector.
func NewCollector(reg *Registry, source CounterSource, logger *logging.Logger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		registry: reg,
		source:   source,
		logger:   logger,
		interval: interval,
		clock:    clock.Real{},
		stopCh:   make(chan struct{}),
		started:  clock.Now(),
	}
}

// SetClock replaces the time source and restarts the uptime count from
// its current time. Call it before Start.
func (c *Collector) SetClock(clk clock.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clk
	c.started = clk.Now()
}

func (c *Collector) timeBase() (clock.Clock, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock, c.started
}

// Start runs the collection loop until Stop is called.
func (c *Collector) Start() {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	clk, _ := c.timeBase()
	ticker := clk.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.Collect()
		case <-c.stopCh:
			c.logger.Info("Stopping metrics collector")
			return
		}
	}
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect performs a single collection pass.
func (c *Collector) Collect() {
	samples := c.source.CounterSamples()

	// Counters may have been deleted since the last pass.
	c.registry.CounterPackets.Reset()
	c.registry.CounterBytes.Reset()

	for _, s := range samples {
		labels := []string{s.Interface, s.Direction, s.Group, s.Counter}
		if s.HasPackets {
			c.registry.CounterPackets.WithLabelValues(labels...).Set(float64(s.Packets))
		}
		if s.HasBytes {
			c.registry.CounterBytes.WithLabelValues(labels...).Set(float64(s.Bytes))
		}
	}
	clk, started := c.timeBase()
	c.registry.Uptime.Set(clk.Since(started).Seconds())

	c.mu.Lock()
	c.lastUpdate = clk.Now()
	c.lastCount = len(samples)
	c.mu.Unlock()
}

// GetLastUpdate returns the time of the last collection pass.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// GetLastCount returns the number of samples seen in the last pass.
func (c *Collector) GetLastCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCount
}
