// Package kv holds the KeyVault: the in-memory string map that serves as
// the replicated state machine. It is mutated only by the applier feeding
// it committed log entries in index order.
package kv

import (
	"fmt"
	"sync"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

// Vault is a map from string keys to string values guarded by its own
// lock, separate from the consensus lock.
type Vault struct {
	mu      sync.RWMutex
	data    map[string]string
	applied uint64
}

func NewVault() *Vault {
	return &Vault{data: make(map[string]string)}
}

// Apply executes one committed command. Applying an index at or below the
// high-water mark is a no-op, which makes replayed entries idempotent.
func (v *Vault) Apply(index uint64, cmd raft.Command) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if index <= v.applied {
		return nil
	}
	v.applied = index

	switch cmd.Type {
	case raft.CommandPut:
		if cmd.Key == "" {
			return fmt.Errorf("put with empty key at index %d", index)
		}
		v.data[cmd.Key] = cmd.Value
	case raft.CommandDelete:
		if cmd.Key == "" {
			return fmt.Errorf("delete with empty key at index %d", index)
		}
		delete(v.data, cmd.Key)
	case raft.CommandNoop:
	default:
		return fmt.Errorf("unknown command type %d at index %d", cmd.Type, index)
	}
	return nil
}

func (v *Vault) Get(key string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.data[key]
	return val, ok
}

// All returns a copy of the full map.
func (v *Vault) All() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.data))
	for k, val := range v.data {
		out[k] = val
	}
	return out
}

// Len returns the number of keys held.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.data)
}

// Clear drops every key. The applied index is kept so the vault still
// refuses entries it has already seen.
func (v *Vault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = make(map[string]string)
}

// Snapshot returns a copy of the state for snapshotting.
func (v *Vault) Snapshot() map[string]string {
	return v.All()
}

// Restore replaces the state with a snapshot taken at index.
func (v *Vault) Restore(index uint64, data map[string]string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = make(map[string]string, len(data))
	for k, val := range data {
		v.data[k] = val
	}
	v.applied = index
}

// AppliedIndex returns the index of the last entry folded into the vault.
func (v *Vault) AppliedIndex() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.applied
}
