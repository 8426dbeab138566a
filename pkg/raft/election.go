package raft

import (
	"context"
	"sync/atomic"
	"time"
)

// runCandidate drives one election round: raise the term, vote for self,
// solicit the peers in parallel and wait for a majority, a valid leader,
// or the next timeout.
func (n *Node) runCandidate() {
	n.mu.Lock()
	if n.role != Candidate {
		n.mu.Unlock()
		return
	}
	n.currentTerm++
	n.votedFor = n.cfg.ID
	n.persistLocked()

	term := n.currentTerm
	lastLogIndex := n.log.lastIndex()
	lastLogTerm := n.log.lastTerm()
	n.obs.ElectionStarted(n.cfg.ID, term)
	n.mu.Unlock()

	// Push the deadline without signalling: a token here would cut this
	// round's own wait short.
	n.electionMu.Lock()
	n.electionDeadline = time.Now().Add(n.randomElectionTimeout())
	n.electionMu.Unlock()
	select {
	case <-n.electionResetCh:
	default:
	}

	n.logger.Info().Uint64("term", term).Msg("election started")

	// Self-vote counts toward the strict majority of the configured
	// cluster size. A single-node cluster wins immediately.
	votes := int32(1)
	needed := int32(n.quorum())
	if votes >= needed {
		n.mu.Lock()
		n.becomeLeaderLocked()
		n.mu.Unlock()
		return
	}

	req := &RequestVoteRequest{
		Term:         term,
		CandidateID:  n.cfg.ID,
		LastLogIndex: lastLogIndex,
		LastLogTerm:  lastLogTerm,
	}

	for _, peer := range n.cfg.Peers {
		go func(peer string) {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ElectionTimeoutMin)
			defer cancel()

			resp, err := n.transport.RequestVote(ctx, peer, req)
			if err != nil {
				return
			}

			n.mu.Lock()
			defer n.mu.Unlock()

			if resp.Term > n.currentTerm {
				n.becomeFollowerLocked(resp.Term)
				return
			}
			// Discard stale responses: the node may have moved on to a
			// later term or already won or lost this election.
			if n.role != Candidate || n.currentTerm != term {
				return
			}
			if resp.VoteGranted {
				if atomic.AddInt32(&votes, 1) >= needed {
					n.becomeLeaderLocked()
				}
			}
		}(peer)
	}

	timer := time.NewTimer(n.randomElectionTimeout())
	defer timer.Stop()

	select {
	case <-n.stopCh:
	case <-timer.C:
		// Split vote or unreachable quorum: run() re-enters runCandidate
		// with a fresh randomized timeout.
	case <-n.electionResetCh:
		// A valid AppendEntries arrived and the handler demoted us.
	}
}

// becomeLeaderLocked promotes a winning candidate: replication bookkeeping
// is reinitialized and a NoOp entry at the new term is appended so that
// earlier-term entries become committable. Caller holds the write lock.
func (n *Node) becomeLeaderLocked() {
	if n.role != Candidate {
		return
	}
	n.role = Leader
	n.leaderID = n.cfg.ID

	last := n.log.lastIndex()
	for _, peer := range n.cfg.Peers {
		n.nextIndex[peer] = last + 1
		n.matchIndex[peer] = 0
	}

	n.log.append(LogEntry{
		Index:     last + 1,
		Term:      n.currentTerm,
		Command:   Command{Type: CommandNoop},
		CreatedAt: time.Now().UTC(),
	})

	n.obs.RoleChanged(n.cfg.ID, Leader, n.currentTerm)
	n.obs.LeaderElected(n.cfg.ID, n.currentTerm)
	n.logger.Info().Uint64("term", n.currentTerm).Msg("became leader")

	select {
	case n.electionResetCh <- struct{}{}:
	default:
	}
}

// HandleRequestVote implements the receiver side of RequestVote. A vote is
// granted at most once per term, and only to a candidate whose log is at
// least as up-to-date as ours.
func (n *Node) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := &RequestVoteResponse{Term: n.currentTerm}

	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm {
		n.becomeFollowerLocked(req.Term)
	}
	resp.Term = n.currentTerm

	if (n.votedFor == "" || n.votedFor == req.CandidateID) &&
		n.logUpToDateLocked(req.LastLogIndex, req.LastLogTerm) {
		n.votedFor = req.CandidateID
		n.persistLocked()
		resp.VoteGranted = true
		n.resetElectionTimer()
		n.logger.Info().
			Str("candidate", req.CandidateID).
			Uint64("term", req.Term).
			Msg("vote granted")
	}

	return resp
}

// logUpToDateLocked orders logs by (lastLogTerm, lastLogIndex).
func (n *Node) logUpToDateLocked(lastLogIndex, lastLogTerm uint64) bool {
	myTerm := n.log.lastTerm()
	myIndex := n.log.lastIndex()
	if lastLogTerm != myTerm {
		return lastLogTerm > myTerm
	}
	return lastLogIndex >= myIndex
}
