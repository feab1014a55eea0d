// Package ledger records which remote files have already been announced.
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// ErrDuplicate is returned by Insert when the (configuration, dedup key) pair
// is already recorded.
var ErrDuplicate = errors.New("file already recorded")

// Ledger is the append-only discovery record.
type Ledger interface {
	Exists(ctx context.Context, configurationID, dedupKey string) (bool, error)
	Insert(ctx context.Context, file domain.DiscoveredFile) error
	CountByExecution(ctx context.Context, executionID string) (int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.DiscoveredFile
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]domain.DiscoveredFile)}
}

func key(configurationID, dedupKey string) string {
	return configurationID + "\x00" + dedupKey
}

func (m *Memory) Exists(ctx context.Context, configurationID, dedupKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key(configurationID, dedupKey)]
	return ok, nil
}

func (m *Memory) Insert(ctx context.Context, file domain.DiscoveredFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(file.ConfigurationID, file.DedupKey)
	if _, ok := m.entries[k]; ok {
		return ErrDuplicate
	}
	m.entries[k] = file
	return nil
}

func (m *Memory) CountByExecution(ctx context.Context, executionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.ExecutionID == executionID {
			n++
		}
	}
	return n, nil
}

// Prune removes entries discovered before the cutoff.
func (m *Memory) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.DiscoveredAt.Before(before) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Entries returns a snapshot ordered by discovery time.
func (m *Memory) Entries() []domain.DiscoveredFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.DiscoveredFile, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return out[i].FileURI < out[j].FileURI
	})
	return out
}
