package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(index, term uint64) LogEntry {
	return LogEntry{Index: index, Term: term, Command: Command{Type: CommandNoop}}
}

func TestLogEmpty(t *testing.T) {
	l := newLog()
	assert.Equal(t, uint64(0), l.lastIndex())
	assert.Equal(t, uint64(0), l.lastTerm())
	assert.Equal(t, uint64(1), l.firstIndex())
}

func TestLogAppendAndQuery(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 1), entry(3, 2))

	assert.Equal(t, uint64(3), l.lastIndex())
	assert.Equal(t, uint64(2), l.lastTerm())

	term, err := l.termAt(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), term)

	_, err = l.termAt(4)
	assert.ErrorIs(t, err, ErrNoEntry)

	got, err := l.entryAt(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Index)
}

func TestLogSlice(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 1), entry(3, 1), entry(4, 2))

	entries, err := l.slice(2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(2), entries[0].Index)

	capped, err := l.slice(1, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)

	empty, err := l.slice(5, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLogSliceReturnsCopy(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 1))

	entries, err := l.slice(1, 0)
	require.NoError(t, err)
	entries[0].Term = 99

	term, err := l.termAt(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), term)
}

func TestLogTruncateFrom(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 1), entry(3, 2))

	l.truncateFrom(2)
	assert.Equal(t, uint64(1), l.lastIndex())

	l.append(entry(2, 3))
	term, err := l.termAt(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), term)
}

func TestLogCompact(t *testing.T) {
	l := newLog()
	for i := uint64(1); i <= 10; i++ {
		l.append(entry(i, 1))
	}

	l.compact(6, 1)

	assert.Equal(t, uint64(7), l.firstIndex())
	assert.Equal(t, uint64(10), l.lastIndex())

	_, err := l.termAt(5)
	assert.ErrorIs(t, err, ErrCompacted)

	// The floor itself is still answerable from the metadata.
	term, err := l.termAt(6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), term)

	_, err = l.slice(6, 0)
	assert.ErrorIs(t, err, ErrCompacted)

	entries, err := l.slice(7, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestLogCompactEverything(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 2))

	l.compact(2, 2)
	assert.Equal(t, uint64(2), l.lastIndex())
	assert.Equal(t, uint64(2), l.lastTerm())
	assert.Empty(t, l.all())

	// Appends continue past the floor.
	l.append(entry(3, 3))
	assert.Equal(t, uint64(3), l.lastIndex())
}

func TestLogReset(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 1), entry(3, 1))

	l.reset(100, 7)
	assert.Equal(t, uint64(100), l.lastIndex())
	assert.Equal(t, uint64(7), l.lastTerm())
	assert.Empty(t, l.all())
	assert.Equal(t, uint64(101), l.firstIndex())
}

func TestLogCompactIgnoresStaleFloor(t *testing.T) {
	l := newLog()
	l.append(entry(1, 1), entry(2, 1))
	l.compact(2, 1)

	// A second compaction at or below the floor is a no-op.
	l.compact(1, 1)
	assert.Equal(t, uint64(2), l.snapIndex)
}
