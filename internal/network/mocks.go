package network

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"grimm.is/aclsync/internal/events"
)

// MockPoints is a mock implementation of PointNotifier.
type MockPoints struct {
	mock.Mock
}

func (m *MockPoints) Up(pt events.PointType, name string) error {
	args := m.Called(pt, name)
	return args.Error(0)
}

func (m *MockPoints) Down(pt events.PointType, name string) error {
	args := m.Called(pt, name)
	return args.Error(0)
}

func (m *MockPoints) FeatureModeChange(ifname string, mode events.FeatureMode) error {
	args := m.Called(ifname, mode)
	return args.Error(0)
}

// MockOffload is a mock implementation of OffloadChecker.
type MockOffload struct {
	mock.Mock
}

func (m *MockOffload) Offload(ifname string) (bool, error) {
	args := m.Called(ifname)
	return args.Bool(0), args.Error(1)
}

// MapLinks is a LinkTable backed by a map.
type MapLinks struct {
	mu    sync.Mutex
	Index map[string]int
}

func NewMapLinks() *MapLinks {
	return &MapLinks{Index: make(map[string]int)}
}

func (l *MapLinks) Set(name string, index int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Index[name] = index
}

func (l *MapLinks) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.Index, name)
}
