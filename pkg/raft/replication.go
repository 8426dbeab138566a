package raft

import (
	"context"
	"errors"
	"sort"
	"time"
)

// runLeader drives the heartbeat ticker. Heartbeats are the sole
// replication mechanism: every tick ships each peer whatever suffix of the
// log it is missing, or nothing when it is caught up.
func (n *Node) runLeader() {
	n.broadcast()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if n.Role() != Leader {
				return
			}
			n.broadcast()
			n.mu.Lock()
			n.advanceCommitLocked()
			n.mu.Unlock()
		}
	}
}

func (n *Node) broadcast() {
	n.mu.RLock()
	if n.role != Leader {
		n.mu.RUnlock()
		return
	}
	term := n.currentTerm
	n.mu.RUnlock()

	for _, peer := range n.cfg.Peers {
		go n.replicateTo(peer, term)
	}
}

// replicateTo sends one AppendEntries (or InstallSnapshot) round to a
// single peer and folds the response back into the leader bookkeeping.
func (n *Node) replicateTo(peer string, term uint64) {
	n.mu.RLock()
	if n.role != Leader || n.currentTerm != term {
		n.mu.RUnlock()
		return
	}

	nextIdx := n.nextIndex[peer]
	if nextIdx == 0 {
		nextIdx = n.log.lastIndex() + 1
	}

	// A peer that is behind the compaction floor cannot be repaired from
	// the log; ship the snapshot instead.
	if nextIdx <= n.log.snapIndex {
		n.mu.RUnlock()
		n.sendSnapshot(peer, term)
		return
	}

	prevIndex := nextIdx - 1
	prevTerm, err := n.log.termAt(prevIndex)
	if err != nil {
		n.mu.RUnlock()
		if errors.Is(err, ErrCompacted) {
			n.sendSnapshot(peer, term)
		}
		return
	}

	entries, err := n.log.slice(nextIdx, n.cfg.MaxBatchEntries)
	if err != nil {
		entries = nil
	}

	req := &AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.cfg.ID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	n.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()

	resp, err := n.transport.AppendEntries(ctx, peer, req)
	if err != nil {
		// Transient peer unavailability: no state change, retried on the
		// next tick.
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.currentTerm {
		n.becomeFollowerLocked(resp.Term)
		return
	}
	if n.role != Leader || n.currentTerm != term {
		return
	}
	// Detect replies obsoleted by a later repair round for this peer.
	if n.nextIndex[peer] != nextIdx && n.nextIndex[peer] != 0 && !resp.Success {
		return
	}

	if resp.Success {
		// The follower reports its lastIndex as matchIndex; clamp it to
		// the range this call actually verified so a stale tail on the
		// follower can never count toward a quorum.
		verified := prevIndex + uint64(len(entries))
		match := resp.MatchIndex
		if match > verified {
			match = verified
		}
		if match > n.matchIndex[peer] {
			n.matchIndex[peer] = match
		}
		if match+1 > n.nextIndex[peer] {
			n.nextIndex[peer] = match + 1
		}
		n.advanceCommitLocked()
		return
	}

	// Log repair: back off to the follower's hint, or by one.
	switch {
	case resp.ConflictIndex > 0:
		n.nextIndex[peer] = resp.ConflictIndex
	case n.nextIndex[peer] > 1:
		n.nextIndex[peer]--
	}
	if n.nextIndex[peer] < 1 {
		n.nextIndex[peer] = 1
	}
	if n.nextIndex[peer] > n.log.lastIndex()+1 {
		n.nextIndex[peer] = n.log.lastIndex() + 1
	}
}

// advanceCommitLocked finds the largest N > commitIndex replicated on a
// strict majority with log[N].term == currentTerm. The NoOp appended on
// promotion lets earlier-term entries be covered once it commits.
func (n *Node) advanceCommitLocked() {
	if n.role != Leader {
		return
	}

	indices := make([]uint64, 0, len(n.cfg.Peers)+1)
	indices = append(indices, n.log.lastIndex())
	for _, peer := range n.cfg.Peers {
		indices = append(indices, n.matchIndex[peer])
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] > indices[j] })

	// indices[quorum-1] is the highest index replicated on a majority.
	candidate := indices[n.quorum()-1]
	if candidate <= n.commitIndex {
		return
	}

	term, err := n.log.termAt(candidate)
	if err != nil || term != n.currentTerm {
		return
	}

	n.commitIndex = candidate
	n.obs.CommitAdvanced(n.cfg.ID, candidate)
	n.logger.Debug().Uint64("commitIndex", candidate).Msg("commit advanced")
	n.signalApply()
}

// HandleAppendEntries implements the receiver side of AppendEntries.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := &AppendEntriesResponse{
		Term:         n.currentTerm,
		LastLogIndex: n.log.lastIndex(),
		LastLogTerm:  n.log.lastTerm(),
	}

	if req.Term < n.currentTerm {
		return resp
	}

	// A valid call from a current-or-higher-term leader demotes both
	// candidates and stale leaders.
	if req.Term > n.currentTerm || n.role != Follower {
		n.becomeFollowerLocked(req.Term)
	}
	resp.Term = n.currentTerm

	n.leaderID = req.LeaderID
	n.resetElectionTimer()

	// Consistency check at prevLogIndex. On mismatch, hint the earliest
	// index the leader may retry from.
	if req.PrevLogIndex > 0 {
		prevTerm, err := n.log.termAt(req.PrevLogIndex)
		if err != nil {
			if errors.Is(err, ErrCompacted) {
				// Everything at or below the floor is committed; the
				// leader should resume right after it.
				resp.ConflictIndex = n.log.snapIndex + 1
			} else {
				resp.ConflictIndex = n.log.lastIndex() + 1
			}
			return resp
		}
		if prevTerm != req.PrevLogTerm {
			resp.ConflictIndex = n.firstIndexOfTermLocked(req.PrevLogIndex, prevTerm)
			return resp
		}
	}

	// Resolve the log. An entry matching on (index, term) is kept with its
	// descendants; the first mismatch truncates and the remaining incoming
	// suffix is appended. Stale retries are therefore idempotent.
	for i, entry := range req.Entries {
		existingTerm, err := n.log.termAt(entry.Index)
		if errors.Is(err, ErrCompacted) {
			continue
		}
		if err == nil && existingTerm == entry.Term {
			continue
		}
		if err == nil {
			n.log.truncateFrom(entry.Index)
		}
		n.log.append(req.Entries[i:]...)
		break
	}

	if req.LeaderCommit > n.commitIndex {
		last := n.log.lastIndex()
		if req.LeaderCommit < last {
			n.commitIndex = req.LeaderCommit
		} else {
			n.commitIndex = last
		}
		n.obs.CommitAdvanced(n.cfg.ID, n.commitIndex)
		n.signalApply()
	}

	resp.Success = true
	resp.MatchIndex = n.log.lastIndex()
	resp.LastLogIndex = n.log.lastIndex()
	resp.LastLogTerm = n.log.lastTerm()
	resp.ConflictIndex = 0
	return resp
}

// firstIndexOfTermLocked walks back to the first entry of the conflicting
// term so the leader can skip the whole term in one retry.
func (n *Node) firstIndexOfTermLocked(from, term uint64) uint64 {
	idx := from
	for idx > n.log.firstIndex() {
		t, err := n.log.termAt(idx - 1)
		if err != nil || t != term {
			break
		}
		idx--
	}
	return idx
}

// ConfirmLeadership completes one heartbeat round and reports whether a
// quorum still acknowledges this node as leader. Used to linearize reads.
func (n *Node) ConfirmLeadership(ctx context.Context) bool {
	n.mu.RLock()
	if n.role != Leader {
		n.mu.RUnlock()
		return false
	}
	term := n.currentTerm
	// A pure leadership probe: prevLogIndex 0 skips the consistency check
	// so even a lagging follower acknowledges the term.
	req := &AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.cfg.ID,
		LeaderCommit: n.commitIndex,
	}
	n.mu.RUnlock()

	needed := n.quorum()
	if needed <= 1 {
		return true
	}
	acks := make(chan bool, len(n.cfg.Peers))

	for _, peer := range n.cfg.Peers {
		go func(peer string) {
			callCtx, cancel := context.WithTimeout(ctx, n.cfg.RPCTimeout)
			defer cancel()
			resp, err := n.transport.AppendEntries(callCtx, peer, req)
			if err != nil {
				acks <- false
				return
			}
			if resp.Term > term {
				n.mu.Lock()
				if resp.Term > n.currentTerm {
					n.becomeFollowerLocked(resp.Term)
				}
				n.mu.Unlock()
				acks <- false
				return
			}
			acks <- resp.Success
		}(peer)
	}

	// Self counts.
	got := 1
	for i := 0; i < len(n.cfg.Peers); i++ {
		select {
		case ok := <-acks:
			if ok {
				got++
				if got >= needed {
					return n.Term() == term && n.IsLeader()
				}
			}
		case <-ctx.Done():
			return false
		}
	}
	return false
}
