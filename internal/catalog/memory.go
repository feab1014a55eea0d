package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// Memory is an in-process configuration repository used by tests and
// embedded deployments.
type Memory struct {
	mu      sync.RWMutex
	configs map[string]domain.Configuration
}

// NewMemory returns a catalog holding configs.
func NewMemory(configs ...domain.Configuration) *Memory {
	m := &Memory{configs: make(map[string]domain.Configuration)}
	for _, c := range configs {
		m.Put(c)
	}
	return m
}

// Put inserts or replaces a configuration.
func (m *Memory) Put(cfg domain.Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Key()] = cfg
}

// Delete removes a configuration.
func (m *Memory) Delete(clientID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, clientID+"/"+id)
}

func (m *Memory) List(ctx context.Context) ([]domain.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Configuration, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	sortConfigurations(out)
	return out, nil
}

func (m *Memory) GetActiveConfigurations(ctx context.Context) ([]domain.Configuration, error) {
	all, _ := m.List(ctx)
	active := all[:0]
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

func (m *Memory) GetByID(ctx context.Context, clientID, id string) (domain.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[clientID+"/"+id]
	if !ok {
		return domain.Configuration{}, fmt.Errorf("configuration %s/%s: %w", clientID, id, domain.ErrConfigurationNotFound)
	}
	return cfg, nil
}
