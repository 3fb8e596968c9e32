//go:build linux
// +build linux

package fal

import (
	"sync"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a mock implementation of NFTablesConn for testing.
// Besides recording expectations it keeps the flushed table state so tests
// can inspect what the backend would have programmed.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	tables   map[string]*nftables.Table
	chains   map[string]*nftables.Chain
	rules    map[string][]*nftables.Rule
	counters map[string]*nftables.CounterObj
	flushes  int
}

// NewMockNFTablesConn creates a new mock nftables connection.
func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{
		tables:   make(map[string]*nftables.Table),
		chains:   make(map[string]*nftables.Chain),
		rules:    make(map[string][]*nftables.Rule),
		counters: make(map[string]*nftables.CounterObj),
	}
}

// Permissive registers catch-all expectations for every method.
func (m *MockNFTablesConn) Permissive() *MockNFTablesConn {
	for _, name := range []string{"AddTable", "DelTable", "AddChain", "DelChain", "FlushChain", "AddRule", "AddObj", "DeleteObject"} {
		m.On(name, mock.Anything).Maybe()
	}
	m.On("GetObj", mock.Anything).Return(nil, nil).Maybe()
	m.On("GetObjReset", mock.Anything).Return(nil, nil).Maybe()
	m.On("Flush").Return(nil).Maybe()
	return m
}

func (m *MockNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	m.tables[t.Name] = t
	return t
}

func (m *MockNFTablesConn) DelTable(t *nftables.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	delete(m.tables, t.Name)
}

func (m *MockNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	m.chains[c.Name] = c
	return c
}

func (m *MockNFTablesConn) DelChain(c *nftables.Chain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	delete(m.chains, c.Name)
	delete(m.rules, c.Name)
}

func (m *MockNFTablesConn) FlushChain(c *nftables.Chain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	delete(m.rules, c.Name)
}

func (m *MockNFTablesConn) AddRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.rules[r.Chain.Name] = append(m.rules[r.Chain.Name], r)
	return r
}

func (m *MockNFTablesConn) AddObj(o nftables.Obj) nftables.Obj {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(o)
	if c, ok := o.(*nftables.CounterObj); ok {
		m.counters[c.Name] = c
	}
	return o
}

func (m *MockNFTablesConn) DeleteObject(o nftables.Obj) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(o)
	if c, ok := o.(*nftables.CounterObj); ok {
		delete(m.counters, c.Name)
	}
}

func (m *MockNFTablesConn) GetObj(o nftables.Obj) ([]nftables.Obj, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(o)
	if args.Get(0) != nil {
		return args.Get(0).([]nftables.Obj), args.Error(1)
	}
	return m.snapshot(false), args.Error(1)
}

func (m *MockNFTablesConn) GetObjReset(o nftables.Obj) ([]nftables.Obj, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(o)
	if args.Get(0) != nil {
		return args.Get(0).([]nftables.Obj), args.Error(1)
	}
	return m.snapshot(true), args.Error(1)
}

func (m *MockNFTablesConn) snapshot(reset bool) []nftables.Obj {
	out := make([]nftables.Obj, 0, len(m.counters))
	for _, c := range m.counters {
		cp := *c
		out = append(out, &cp)
		if reset {
			c.Packets, c.Bytes = 0, 0
		}
	}
	return out
}

func (m *MockNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	m.flushes++
	return args.Error(0)
}

// SetCounter sets the values of a counter object by name.
func (m *MockNFTablesConn) SetCounter(name string, packets, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		c.Packets, c.Bytes = packets, bytes
	}
}

// Rules returns the rules currently programmed in a chain.
func (m *MockNFTablesConn) Rules(chain string) []*nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*nftables.Rule(nil), m.rules[chain]...)
}

// HasChain reports whether a chain exists.
func (m *MockNFTablesConn) HasChain(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chains[name]
	return ok
}

// HasCounter reports whether a counter object exists.
func (m *MockNFTablesConn) HasCounter(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.counters[name]
	return ok
}

// Flushes returns how many times Flush was called.
func (m *MockNFTablesConn) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
