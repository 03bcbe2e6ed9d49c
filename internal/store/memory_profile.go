package store

import (
	"context"
	"sync"
)

type memoryProfile struct {
	mu   sync.RWMutex
	data map[scopeKey]UserProfile
}

// NewMemoryProfile returns an in-memory ProfileStore.
func NewMemoryProfile() ProfileStore {
	return &memoryProfile{data: make(map[scopeKey]UserProfile)}
}

func (m *memoryProfile) Ping(context.Context) error { return nil }

func (m *memoryProfile) Get(_ context.Context, userID, agentID, runID string) (UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[scopeKey{userID, agentID, runID}]
	return p, ok, nil
}

func (m *memoryProfile) Put(_ context.Context, p UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[scopeKey{p.UserID, p.AgentID, p.RunID}] = p
	return nil
}

func (m *memoryProfile) Delete(_ context.Context, userID, agentID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, scopeKey{userID, agentID, runID})
	return nil
}
