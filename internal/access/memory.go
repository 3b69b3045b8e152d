package access

import (
	"context"
	"sync"
)

// Memory keeps grants in process.
type Memory struct {
	mu    sync.RWMutex
	roles map[string]Grants
}

var _ GrantStore = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{roles: make(map[string]Grants)} }

func (m *Memory) All(context.Context) (map[string]Grants, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Grants, len(m.roles))
	for role, g := range m.roles {
		out[role] = g.clone()
	}
	return out, nil
}

func (m *Memory) Role(_ context.Context, role string) (Grants, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[role].clone(), nil
}

func (m *Memory) Set(_ context.Context, role, module string, actions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.roles[role]
	if g == nil {
		g = Grants{}
		m.roles[role] = g
	}
	g[module] = append([]string(nil), actions...)
	return nil
}

func (m *Memory) Revoke(_ context.Context, role, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.roles[role]; g != nil {
		delete(g, module)
		if len(g) == 0 {
			delete(m.roles, role)
		}
	}
	return nil
}

func (g Grants) clone() Grants {
	out := make(Grants, len(g))
	for k, v := range g {
		out[k] = append([]string(nil), v...)
	}
	return out
}
