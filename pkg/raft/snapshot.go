package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
)

// maybeSnapshot takes a snapshot in the background once enough entries
// have been applied past the current floor.
func (n *Node) maybeSnapshot() {
	n.mu.Lock()
	eligible := !n.snapshotting && n.lastApplied-n.log.snapIndex > n.cfg.SnapshotThreshold
	if eligible {
		n.snapshotting = true
	}
	n.mu.Unlock()

	if !eligible {
		return
	}

	go func() {
		defer func() {
			n.mu.Lock()
			n.snapshotting = false
			n.mu.Unlock()
		}()
		if err := n.TakeSnapshot(); err != nil {
			n.logger.Error().Err(err).Msg("background snapshot failed")
		}
	}()
}

// TakeSnapshot captures the state machine at lastApplied, persists it
// durably and compacts the log. Persistence happens outside the node lock
// so replication is blocked only for the atomic compaction step.
func (n *Node) TakeSnapshot() error {
	n.mu.RLock()
	index := n.lastApplied
	if index == 0 || index <= n.log.snapIndex {
		n.mu.RUnlock()
		return nil
	}
	term, err := n.log.termAt(index)
	if err != nil {
		n.mu.RUnlock()
		return fmt.Errorf("resolve snapshot term: %w", err)
	}
	snap := &Snapshot{
		LastIncludedIndex: index,
		LastIncludedTerm:  term,
		TermAtCreation:    n.currentTerm,
		CreatedAt:         time.Now().UTC(),
		Data:              n.sm.Snapshot(),
	}
	n.mu.RUnlock()

	if err := n.stable.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	n.mu.Lock()
	if index > n.log.snapIndex {
		n.log.compact(index, term)
		n.snapshot = snap
		n.obs.SnapshotTaken(n.cfg.ID, index)
	}
	n.mu.Unlock()

	n.logger.Info().
		Uint64("lastIncludedIndex", index).
		Uint64("lastIncludedTerm", term).
		Msg("snapshot taken")
	return nil
}

// SnapshotMeta reports the current snapshot, nil when none exists.
func (n *Node) SnapshotMeta() *Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.snapshot == nil {
		return nil
	}
	meta := *n.snapshot
	meta.Data = nil
	return &meta
}

// sendSnapshot ships the current snapshot to a peer that has fallen
// behind the compaction floor.
func (n *Node) sendSnapshot(peer string, term uint64) {
	n.mu.RLock()
	if n.role != Leader || n.currentTerm != term || n.snapshot == nil {
		n.mu.RUnlock()
		return
	}
	snap := n.snapshot
	data, err := encodeSnapshotData(snap.Data)
	if err != nil {
		n.mu.RUnlock()
		n.logger.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	req := &InstallSnapshotRequest{
		Term:              term,
		LeaderID:          n.cfg.ID,
		LastIncludedIndex: snap.LastIncludedIndex,
		LastIncludedTerm:  snap.LastIncludedTerm,
		Offset:            0,
		Data:              data,
		Done:              true,
	}
	n.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()

	resp, err := n.transport.InstallSnapshot(ctx, peer, req)
	if err != nil {
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
	if req.LastIncludedIndex > n.matchIndex[peer] {
		n.matchIndex[peer] = req.LastIncludedIndex
	}
	if req.LastIncludedIndex+1 > n.nextIndex[peer] {
		n.nextIndex[peer] = req.LastIncludedIndex + 1
	}
}

// HandleInstallSnapshot implements the receiver side. Chunks accumulate in
// order; the final chunk replaces the state machine and resolves the log:
// entries past the snapshot survive only if the local entry at the floor
// carried the matching term.
func (n *Node) HandleInstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := &InstallSnapshotResponse{Term: n.currentTerm}

	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm || n.role != Follower {
		n.becomeFollowerLocked(req.Term)
	}
	resp.Term = n.currentTerm

	n.leaderID = req.LeaderID
	n.resetElectionTimer()

	if req.Offset == 0 {
		n.installBuf = n.installBuf[:0]
	}
	if req.Offset != uint64(len(n.installBuf)) {
		// Out-of-order chunk; drop the transfer and let the leader retry.
		n.installBuf = n.installBuf[:0]
		return resp
	}
	n.installBuf = append(n.installBuf, req.Data...)

	if !req.Done {
		return resp
	}

	data, err := decodeSnapshotData(n.installBuf)
	n.installBuf = n.installBuf[:0]
	if err != nil {
		n.logger.Error().Err(err).Msg("snapshot decode failed")
		return resp
	}

	if req.LastIncludedIndex <= n.log.snapIndex {
		// Already covered by a local snapshot.
		return resp
	}

	localTerm, termErr := n.log.termAt(req.LastIncludedIndex)
	if termErr == nil && localTerm == req.LastIncludedTerm && n.log.lastIndex() > req.LastIncludedIndex {
		// The local log agrees at the floor: keep the strictly greater
		// suffix and just move the floor up.
		n.log.compact(req.LastIncludedIndex, req.LastIncludedTerm)
	} else {
		n.log.reset(req.LastIncludedIndex, req.LastIncludedTerm)
	}

	snap := &Snapshot{
		LastIncludedIndex: req.LastIncludedIndex,
		LastIncludedTerm:  req.LastIncludedTerm,
		TermAtCreation:    req.Term,
		CreatedAt:         time.Now().UTC(),
		Data:              data,
	}

	n.sm.Restore(req.LastIncludedIndex, data)
	if req.LastIncludedIndex > n.commitIndex {
		n.commitIndex = req.LastIncludedIndex
	}
	if req.LastIncludedIndex > n.lastApplied {
		n.lastApplied = req.LastIncludedIndex
	}
	n.snapshot = snap

	if err := n.stable.SaveSnapshot(snap); err != nil {
		n.logger.Fatal().Err(err).Msg("failed to persist installed snapshot")
	}

	n.obs.SnapshotInstalled(n.cfg.ID, req.LastIncludedIndex)
	n.signalApply()
	n.logger.Info().
		Uint64("lastIncludedIndex", req.LastIncludedIndex).
		Str("leader", req.LeaderID).
		Msg("snapshot installed")
	return resp
}

func encodeSnapshotData(data map[string]string) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeSnapshotData(buf []byte) (map[string]string, error) {
	raw, err := snappy.Decode(nil, buf)
	if err != nil {
		return nil, err
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
