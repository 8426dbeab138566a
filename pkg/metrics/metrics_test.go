package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

func TestRecorderBuffersEvents(t *testing.T) {
	r := NewRecorder(8, prometheus.NewRegistry())

	r.ElectionStarted("n1", 1)
	r.LeaderElected("n1", 1)
	r.CommitAdvanced("n1", 3)

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, KindElectionStarted, events[0].Kind)
	assert.Equal(t, KindLeaderElected, events[1].Kind)
	assert.Equal(t, KindCommitAdvanced, events[2].Kind)
	assert.Equal(t, uint64(3), events[2].Index)
	assert.Equal(t, uint64(3), r.Total())
}

func TestRecorderRingWrapsOldestFirst(t *testing.T) {
	r := NewRecorder(4, prometheus.NewRegistry())

	for i := uint64(1); i <= 10; i++ {
		r.EntryApplied("n1", i)
	}

	events := r.Events()
	require.Len(t, events, 4)
	assert.Equal(t, uint64(7), events[0].Index)
	assert.Equal(t, uint64(10), events[3].Index)
	assert.Equal(t, uint64(10), r.Total())
}

func TestRecorderCSV(t *testing.T) {
	r := NewRecorder(8, prometheus.NewRegistry())
	r.RoleChanged("n1", raft.Leader, 2)
	r.SnapshotTaken("n1", 500)

	csv := r.CSV()
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,node,kind,term,index,detail", lines[0])
	assert.Contains(t, lines[1], "role_change")
	assert.Contains(t, lines[1], "Leader")
	assert.Contains(t, lines[2], "snapshot_taken")
	assert.Contains(t, lines[2], "500")
}

func TestRecorderRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(8, reg)
	r.CommitAdvanced("n1", 9)
	r.EntryApplied("n1", 9)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["keyvault_commit_advances_total"])
	assert.True(t, names["keyvault_entries_applied_total"])
	assert.True(t, names["keyvault_commit_index"])
}

func TestRecorderImplementsObserver(t *testing.T) {
	var _ raft.Observer = NewRecorder(1, nil)
}
