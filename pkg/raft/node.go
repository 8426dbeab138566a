package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Node is the consensus coordinator. All role transitions, term changes
// and commit-index advancement happen under the node-wide mutex; a role
// loop goroutine (running the election timer, or the heartbeat ticker
// while leader) and the applier goroutine call back into the locked
// sections.
type Node struct {
	mu sync.RWMutex

	cfg    NodeConfig
	logger zerolog.Logger

	// Persistent state. currentTerm and votedFor are saved through the
	// stable store before any RPC response that depends on them.
	currentTerm uint64
	votedFor    string
	log         *raftLog

	// Volatile state.
	role        Role
	commitIndex uint64
	lastApplied uint64
	leaderID    string

	// Leader-only replication bookkeeping. Reinitialized on every
	// promotion, discarded on demotion, never persisted.
	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	// Pending client writes keyed by log index.
	pending map[uint64]*pendingCommand

	// Current snapshot metadata, if any.
	snapshot     *Snapshot
	snapshotting bool

	// Buffer for chunked InstallSnapshot transfers.
	installBuf []byte

	transport Transport
	stable    Stable
	sm        StateMachine
	obs       Observer

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	// commitCh wakes the applier; electionResetCh interrupts the follower
	// and candidate waits.
	commitCh        chan struct{}
	electionResetCh chan struct{}

	electionMu       sync.Mutex
	electionDeadline time.Time
}

// NewNode wires a node from its collaborators. Call Start to recover the
// persisted state and begin participating in the cluster.
func NewNode(cfg NodeConfig, transport Transport, stable Stable, sm StateMachine, logger zerolog.Logger) *Node {
	cfg.withDefaults()

	n := &Node{
		cfg:             cfg,
		logger:          logger.With().Str("node", cfg.ID).Logger(),
		log:             newLog(),
		role:            Follower,
		nextIndex:       make(map[string]uint64),
		matchIndex:      make(map[string]uint64),
		pending:         make(map[uint64]*pendingCommand),
		transport:       transport,
		stable:          stable,
		sm:              sm,
		obs:             nopObserver{},
		stopCh:          make(chan struct{}),
		commitCh:        make(chan struct{}, 1),
		electionResetCh: make(chan struct{}, 1),
	}
	n.electionDeadline = time.Now().Add(n.randomElectionTimeout())
	return n
}

// SetObserver installs an event sink. Must be called before Start.
func (n *Node) SetObserver(obs Observer) {
	if obs != nil {
		n.obs = obs
	}
}

// Start recovers persisted state and launches the role loop and the
// applier. The node always enters as a Follower.
func (n *Node) Start() error {
	if err := n.restore(); err != nil {
		return err
	}

	n.wg.Add(2)
	go n.run()
	go n.applyLoop()

	n.logger.Info().
		Uint64("term", n.currentTerm).
		Uint64("commitIndex", n.commitIndex).
		Msg("node started")
	return nil
}

// Stop terminates the node's goroutines. Pending client waits fail with
// ErrStopped.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	for idx, p := range n.pending {
		select {
		case p.resultCh <- CommitResult{Index: idx, Err: ErrStopped}:
		default:
		}
		delete(n.pending, idx)
	}
	n.mu.Unlock()

	close(n.stopCh)
	n.wg.Wait()
	n.logger.Info().Msg("node stopped")
}

func (n *Node) run() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		switch n.Role() {
		case Follower:
			n.runFollower()
		case Candidate:
			n.runCandidate()
		case Leader:
			n.runLeader()
		}
	}
}

// runFollower waits out the election deadline; any accepted heartbeat or
// granted vote pushes the deadline forward through electionResetCh.
func (n *Node) runFollower() {
	for {
		n.electionMu.Lock()
		deadline := n.electionDeadline
		n.electionMu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			n.mu.Lock()
			if n.role == Follower {
				n.role = Candidate
				n.obs.RoleChanged(n.cfg.ID, Candidate, n.currentTerm)
			}
			n.mu.Unlock()
			return
		}

		select {
		case <-n.stopCh:
			return
		case <-n.electionResetCh:
			// deadline was pushed, re-read it
		case <-time.After(wait):
		}
	}
}

// restore loads (term, votedFor) and the latest snapshot. The log itself
// is in-memory: entries beyond the snapshot are recovered from peers via
// normal replication.
func (n *Node) restore() error {
	term, votedFor, err := n.stable.LoadState()
	if err != nil {
		return err
	}
	n.currentTerm = term
	n.votedFor = votedFor

	snap, err := n.stable.LoadSnapshot()
	if err != nil {
		n.logger.Warn().Err(err).Msg("snapshot load failed, starting empty")
		return nil
	}
	if snap != nil {
		n.snapshot = snap
		n.sm.Restore(snap.LastIncludedIndex, snap.Data)
		n.log.reset(snap.LastIncludedIndex, snap.LastIncludedTerm)
		n.commitIndex = snap.LastIncludedIndex
		n.lastApplied = snap.LastIncludedIndex
		n.logger.Info().
			Uint64("lastIncludedIndex", snap.LastIncludedIndex).
			Uint64("lastIncludedTerm", snap.LastIncludedTerm).
			Msg("restored from snapshot")
	}
	return nil
}

// Submit appends a client command to the leader's log and returns its
// index and term. The caller observes commitment separately.
func (n *Node) Submit(cmd Command) (uint64, uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return 0, 0, ErrStopped
	}
	if n.role != Leader {
		return 0, 0, ErrNotLeader
	}

	entry := LogEntry{
		Index:     n.log.lastIndex() + 1,
		Term:      n.currentTerm,
		Command:   cmd,
		CreatedAt: time.Now().UTC(),
	}
	n.log.append(entry)

	n.logger.Debug().
		Uint64("index", entry.Index).
		Str("type", cmd.Type.String()).
		Str("key", cmd.Key).
		Msg("entry appended")

	return entry.Index, entry.Term, nil
}

// SubmitAndWait appends a command and blocks until it is applied, the
// context expires, or leadership is lost.
func (n *Node) SubmitAndWait(ctx context.Context, cmd Command) (CommitResult, error) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return CommitResult{}, ErrStopped
	}
	if n.role != Leader {
		n.mu.Unlock()
		return CommitResult{}, ErrNotLeader
	}

	entry := LogEntry{
		Index:     n.log.lastIndex() + 1,
		Term:      n.currentTerm,
		Command:   cmd,
		CreatedAt: time.Now().UTC(),
	}
	n.log.append(entry)

	resultCh := make(chan CommitResult, 1)
	n.pending[entry.Index] = &pendingCommand{term: entry.Term, resultCh: resultCh}
	n.mu.Unlock()

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return res, res.Err
		}
		return res, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.pending, entry.Index)
		n.mu.Unlock()
		return CommitResult{}, ctx.Err()
	case <-n.stopCh:
		return CommitResult{}, ErrStopped
	}
}

// becomeFollowerLocked demotes the node after observing term and resets
// the election timer. The vote is cleared only when the term advances:
// releasing it mid-term could hand out a second vote and break election
// safety. Fails all pending client waits. Caller holds the write lock.
func (n *Node) becomeFollowerLocked(term uint64) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = ""
		n.persistLocked()
	}
	if n.role != Follower {
		n.logger.Info().Uint64("term", term).Str("was", n.role.String()).Msg("stepping down")
	}
	n.role = Follower
	n.leaderID = ""
	n.nextIndex = make(map[string]uint64)
	n.matchIndex = make(map[string]uint64)

	for idx, p := range n.pending {
		select {
		case p.resultCh <- CommitResult{Index: idx, Err: ErrNotLeader}:
		default:
		}
		delete(n.pending, idx)
	}

	n.resetElectionTimer()
	n.obs.RoleChanged(n.cfg.ID, Follower, n.currentTerm)
}

// persistLocked saves (currentTerm, votedFor). A durable-write failure is
// fatal: the node must not keep serving as if the state had been saved.
func (n *Node) persistLocked() {
	if err := n.stable.SaveState(n.currentTerm, n.votedFor); err != nil {
		n.logger.Fatal().Err(err).Msg("failed to persist term and vote")
	}
}

func (n *Node) randomElectionTimeout() time.Duration {
	min := int64(n.cfg.ElectionTimeoutMin)
	max := int64(n.cfg.ElectionTimeoutMax)
	return time.Duration(min + rand.Int63n(max-min))
}

// resetElectionTimer pushes the deadline and interrupts the current wait.
func (n *Node) resetElectionTimer() {
	n.electionMu.Lock()
	n.electionDeadline = time.Now().Add(n.randomElectionTimeout())
	n.electionMu.Unlock()

	select {
	case n.electionResetCh <- struct{}{}:
	default:
	}
}

func (n *Node) signalApply() {
	select {
	case n.commitCh <- struct{}{}:
	default:
	}
}

// Accessors.

func (n *Node) ID() string { return n.cfg.ID }

func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

func (n *Node) Term() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.currentTerm
}

func (n *Node) IsLeader() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role == Leader
}

// LeaderID returns the node's best guess at the current leader; empty when
// unknown.
func (n *Node) LeaderID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.role == Leader {
		return n.cfg.ID
	}
	return n.leaderID
}

func (n *Node) CommitIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.commitIndex
}

func (n *Node) LastApplied() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastApplied
}

// Entries returns a copy of the uncompacted log, for inspection and tests.
func (n *Node) Entries() []LogEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.log.all()
}

func (n *Node) LastLogIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.log.lastIndex()
}

func (n *Node) quorum() int {
	return (len(n.cfg.Peers)+1)/2 + 1
}
