package raft

// raftLog is the in-memory, compaction-aware log. Entries are dense and
// 1-based; after compaction the lowest held index is snapIndex+1. The
// caller (the node) synchronizes access.
type raftLog struct {
	entries   []LogEntry
	snapIndex uint64
	snapTerm  uint64
}

func newLog() *raftLog {
	return &raftLog{entries: make([]LogEntry, 0)}
}

func (l *raftLog) lastIndex() uint64 {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Index
	}
	return l.snapIndex
}

func (l *raftLog) lastTerm() uint64 {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Term
	}
	return l.snapTerm
}

func (l *raftLog) firstIndex() uint64 {
	return l.snapIndex + 1
}

// termAt returns the term of the entry at index. The snapshot floor itself
// is answered from the snapshot metadata.
func (l *raftLog) termAt(index uint64) (uint64, error) {
	if index == l.snapIndex {
		return l.snapTerm, nil
	}
	if index < l.snapIndex {
		return 0, ErrCompacted
	}
	pos := l.position(index)
	if pos < 0 || pos >= len(l.entries) {
		return 0, ErrNoEntry
	}
	return l.entries[pos].Term, nil
}

func (l *raftLog) entryAt(index uint64) (LogEntry, error) {
	if index <= l.snapIndex {
		return LogEntry{}, ErrCompacted
	}
	pos := l.position(index)
	if pos < 0 || pos >= len(l.entries) {
		return LogEntry{}, ErrNoEntry
	}
	return l.entries[pos], nil
}

// slice returns a copy of entries [from, from+max). max <= 0 means no cap.
func (l *raftLog) slice(from uint64, max int) ([]LogEntry, error) {
	if from <= l.snapIndex {
		return nil, ErrCompacted
	}
	pos := l.position(from)
	if pos < 0 || pos > len(l.entries) {
		return nil, ErrNoEntry
	}
	out := l.entries[pos:]
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	cp := make([]LogEntry, len(out))
	copy(cp, out)
	return cp, nil
}

func (l *raftLog) append(entries ...LogEntry) {
	l.entries = append(l.entries, entries...)
}

// truncateFrom drops the entry at index and everything after it.
func (l *raftLog) truncateFrom(index uint64) {
	pos := l.position(index)
	if pos < 0 {
		pos = 0
	}
	if pos < len(l.entries) {
		l.entries = l.entries[:pos]
	}
}

// compact discards every entry at or below upTo and records the snapshot
// floor. upTo must already be covered by a snapshot.
func (l *raftLog) compact(upTo, term uint64) {
	if upTo <= l.snapIndex {
		return
	}
	pos := l.position(upTo)
	if pos >= 0 && pos < len(l.entries) {
		remaining := l.entries[pos+1:]
		l.entries = make([]LogEntry, len(remaining))
		copy(l.entries, remaining)
	} else {
		l.entries = l.entries[:0]
	}
	l.snapIndex = upTo
	l.snapTerm = term
}

// reset clears the log entirely and pins the floor at the snapshot point.
// Used when an installed snapshot supersedes a divergent local log.
func (l *raftLog) reset(snapIndex, snapTerm uint64) {
	l.entries = l.entries[:0]
	l.snapIndex = snapIndex
	l.snapTerm = snapTerm
}

func (l *raftLog) all() []LogEntry {
	cp := make([]LogEntry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

func (l *raftLog) position(index uint64) int {
	if index <= l.snapIndex {
		return -1
	}
	return int(index - l.snapIndex - 1)
}
