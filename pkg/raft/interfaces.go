package raft

import "context"

// Transport carries the three peer RPCs. Targets are node ids; resolving
// an id to an address is the transport's concern. Every call must respect
// the context deadline.
type Transport interface {
	RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, target string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

// StateMachine is the deterministic map the applier drives. Apply carries
// the log index so a re-applied entry is a no-op.
type StateMachine interface {
	Apply(index uint64, cmd Command) error
	Get(key string) (string, bool)
	Snapshot() map[string]string
	Restore(index uint64, data map[string]string)
	AppliedIndex() uint64
}

// Stable persists the state that must survive crashes. SaveState must be
// durable (fsynced) before it returns; the caller responds to RPCs only
// after a successful save.
type Stable interface {
	SaveState(term uint64, votedFor string) error
	LoadState() (term uint64, votedFor string, err error)
	SaveSnapshot(snap *Snapshot) error
	LoadSnapshot() (*Snapshot, error)
}

// Observer receives consensus lifecycle events. All methods are called
// with the node lock held and must not block.
type Observer interface {
	RoleChanged(nodeID string, role Role, term uint64)
	ElectionStarted(nodeID string, term uint64)
	LeaderElected(nodeID string, term uint64)
	CommitAdvanced(nodeID string, index uint64)
	EntryApplied(nodeID string, index uint64)
	SnapshotTaken(nodeID string, index uint64)
	SnapshotInstalled(nodeID string, index uint64)
}

type nopObserver struct{}

func (nopObserver) RoleChanged(string, Role, uint64) {}
func (nopObserver) ElectionStarted(string, uint64) {}
func (nopObserver) LeaderElected(string, uint64) {}
func (nopObserver) CommitAdvanced(string, uint64) {}
func (nopObserver) EntryApplied(string, uint64) {}
func (nopObserver) SnapshotTaken(string, uint64) {}
func (nopObserver) SnapshotInstalled(string, uint64) {}
