package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

func TestLoadStateEmpty(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	term, voted, err := s.LoadState()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), term)
	assert.Equal(t, "", voted)
}

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveState(7, "node-2"))

	// A fresh store over the same directory reads the exact pair back.
	s2, err := New(dir)
	require.NoError(t, err)
	term, voted, err := s2.LoadState()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), term)
	assert.Equal(t, "node-2", voted)
}

func TestStateOverwrite(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveState(1, "a"))
	require.NoError(t, s.SaveState(2, ""))

	term, voted, err := s.LoadState()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), term)
	assert.Equal(t, "", voted)
}

func TestStateCorruptionDetected(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveState(3, "x"))

	path := filepath.Join(dir, stateFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = s.LoadState()
	assert.Error(t, err)
}

func testSnapshot() *raft.Snapshot {
	return &raft.Snapshot{
		LastIncludedIndex: 1000,
		LastIncludedTerm:  4,
		TermAtCreation:    5,
		CreatedAt:         time.Now().UTC().Truncate(time.Millisecond),
		Data:              map[string]string{"a": "1", "b": "2", "empty": ""},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	want := testSnapshot()
	require.NoError(t, s.SaveSnapshot(want))

	got, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.LastIncludedIndex, got.LastIncludedIndex)
	assert.Equal(t, want.LastIncludedTerm, got.LastIncludedTerm)
	assert.Equal(t, want.TermAtCreation, got.TermAtCreation)
	assert.Equal(t, want.Data, got.Data)
}

func TestLoadSnapshotNone(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	snap, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshotBackupRotation(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		snap := testSnapshot()
		snap.LastIncludedIndex = i
		require.NoError(t, s.SaveSnapshot(snap))
	}

	// Primary plus at most three backups remain.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var snapFiles int
	for _, e := range entries {
		if e.Name() == stateFileName {
			continue
		}
		snapFiles++
	}
	assert.LessOrEqual(t, snapFiles, snapshotBackups+1)

	got, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.LastIncludedIndex)
}

func TestSnapshotCorruptionFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	first := testSnapshot()
	first.LastIncludedIndex = 100
	require.NoError(t, s.SaveSnapshot(first))

	second := testSnapshot()
	second.LastIncludedIndex = 200
	require.NoError(t, s.SaveSnapshot(second))

	// Corrupt the primary; loading falls back to the previous version.
	path := filepath.Join(dir, snapshotFileName)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	got, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(100), got.LastIncludedIndex)
}

func TestSnapshotAllVersionsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveSnapshot(testSnapshot()))
	path := filepath.Join(dir, snapshotFileName)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err = s.LoadSnapshot()
	assert.Error(t, err)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveState(1, "a"))
	require.NoError(t, s.SaveSnapshot(testSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
