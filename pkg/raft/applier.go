package raft

import "errors"

// applyLoop is the single applier: it advances lastApplied toward
// commitIndex in strict index order, waking on commit signals. Running it
// apart from the replication path keeps state-machine work from stalling
// heartbeats.
func (n *Node) applyLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.commitCh:
		}

		for {
			n.mu.RLock()
			if n.lastApplied >= n.commitIndex {
				n.mu.RUnlock()
				break
			}
			next := n.lastApplied + 1
			entry, err := n.log.entryAt(next)
			n.mu.RUnlock()

			if errors.Is(err, ErrCompacted) {
				// An installed snapshot already covers this index.
				n.mu.Lock()
				if n.lastApplied < n.log.snapIndex {
					n.lastApplied = n.log.snapIndex
				}
				n.mu.Unlock()
				continue
			}
			if err != nil {
				// Committed entry not yet present locally; wait for
				// replication to deliver it.
				break
			}

			n.applyEntry(entry)
		}

		n.maybeSnapshot()
	}
}

// applyEntry validates and applies one committed entry. A malformed
// command is logged and skipped, but the index still counts as applied so
// lastApplied keeps advancing.
func (n *Node) applyEntry(entry LogEntry) {
	cmd := entry.Command
	switch cmd.Type {
	case CommandNoop:
		// No state-machine effect.
	case CommandPut, CommandDelete:
		if cmd.Key == "" {
			n.logger.Warn().
				Uint64("index", entry.Index).
				Str("type", cmd.Type.String()).
				Msg("skipping command with empty key")
			break
		}
		if err := n.sm.Apply(entry.Index, cmd); err != nil {
			n.logger.Warn().Err(err).
				Uint64("index", entry.Index).
				Msg("state machine rejected command")
		}
	default:
		n.logger.Warn().
			Uint64("index", entry.Index).
			Int("type", int(cmd.Type)).
			Msg("skipping unknown command type")
	}

	n.mu.Lock()
	if entry.Index > n.lastApplied {
		n.lastApplied = entry.Index
	}
	n.obs.EntryApplied(n.cfg.ID, entry.Index)

	if p, ok := n.pending[entry.Index]; ok {
		res := CommitResult{Index: entry.Index, Term: entry.Term}
		if p.term != entry.Term {
			// The slot was overwritten by a different leader's entry; the
			// original write was lost.
			res.Err = ErrNotLeader
		}
		select {
		case p.resultCh <- res:
		default:
		}
		delete(n.pending, entry.Index)
	}
	n.mu.Unlock()
}
