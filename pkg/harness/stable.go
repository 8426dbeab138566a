package harness

import (
	"sync"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

// MemoryStable is an in-memory raft.Stable for tests that do not exercise
// the disk path.
type MemoryStable struct {
	mu       sync.Mutex
	term     uint64
	votedFor string
	snapshot *raft.Snapshot
}

var _ raft.Stable = (*MemoryStable)(nil)

func NewMemoryStable() *MemoryStable {
	return &MemoryStable{}
}

func (m *MemoryStable) SaveState(term uint64, votedFor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	m.votedFor = votedFor
	return nil
}

func (m *MemoryStable) LoadState() (uint64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.term, m.votedFor, nil
}

func (m *MemoryStable) SaveSnapshot(snap *raft.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	cp.Data = make(map[string]string, len(snap.Data))
	for k, v := range snap.Data {
		cp.Data[k] = v
	}
	m.snapshot = &cp
	return nil
}

func (m *MemoryStable) LoadSnapshot() (*raft.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, nil
	}
	cp := *m.snapshot
	return &cp, nil
}
