package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

const (
	snapshotFileName = "snapshot.dat"
	// snapshotBackups is how many superseded snapshot versions are kept
	// for corruption fallback.
	snapshotBackups = 3
)

// SaveSnapshot atomically replaces the current snapshot file, rotating
// the previous versions as backups. The payload is snappy-compressed
// JSON framed with a CRC.
func (s *Store) SaveSnapshot(snap *raft.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	payload := snappy.Encode(nil, raw)

	s.rotateSnapshots()
	return s.writeAtomic(filepath.Join(s.dir, snapshotFileName), frame(payload))
}

// LoadSnapshot returns the newest readable snapshot, falling back through
// the backups when the primary is corrupt. (nil, nil) means no snapshot
// exists; the node then starts empty and catches up via replication.
func (s *Store) LoadSnapshot() (*raft.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for _, name := range s.snapshotCandidates() {
		snap, err := s.readSnapshot(filepath.Join(s.dir, name))
		if err == nil {
			return snap, nil
		}
		if os.IsNotExist(err) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all snapshot versions unreadable: %w", lastErr)
	}
	return nil, nil
}

func (s *Store) readSnapshot(path string) (*raft.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	payload, err := unframe(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	decoded, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: decompress: %w", filepath.Base(path), err)
	}
	var snap raft.Snapshot
	if err := json.Unmarshal(decoded, &snap); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// rotateSnapshots shifts snapshot.dat -> .1 -> .2 -> .3, dropping the
// oldest.
func (s *Store) rotateSnapshots() {
	oldest := fmt.Sprintf("%s.%d", snapshotFileName, snapshotBackups)
	os.Remove(filepath.Join(s.dir, oldest))
	for i := snapshotBackups - 1; i >= 1; i-- {
		from := filepath.Join(s.dir, fmt.Sprintf("%s.%d", snapshotFileName, i))
		to := filepath.Join(s.dir, fmt.Sprintf("%s.%d", snapshotFileName, i+1))
		os.Rename(from, to)
	}
	os.Rename(
		filepath.Join(s.dir, snapshotFileName),
		filepath.Join(s.dir, snapshotFileName+".1"),
	)
}

func (s *Store) snapshotCandidates() []string {
	names := []string{snapshotFileName}
	for i := 1; i <= snapshotBackups; i++ {
		names = append(names, fmt.Sprintf("%s.%d", snapshotFileName, i))
	}
	return names
}
