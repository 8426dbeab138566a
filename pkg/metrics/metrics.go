// Package metrics records consensus lifecycle events into a fixed-size
// ring buffer for export and mirrors the hot counters into Prometheus.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

// Event is one recorded consensus occurrence.
type Event struct {
	Time   time.Time `json:"time"`
	Node   string    `json:"node"`
	Kind   string    `json:"kind"`
	Term   uint64    `json:"term,omitempty"`
	Index  uint64    `json:"index,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

const (
	KindRoleChange        = "role_change"
	KindElectionStarted   = "election_started"
	KindLeaderElected     = "leader_elected"
	KindCommitAdvanced    = "commit_advanced"
	KindEntryApplied      = "entry_applied"
	KindSnapshotTaken     = "snapshot_taken"
	KindSnapshotInstalled = "snapshot_installed"
)

// Recorder implements raft.Observer. Events land in a ring buffer of
// fixed capacity; Prometheus metrics are updated in the same call.
type Recorder struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	total uint64

	elections   prometheus.Counter
	commits     prometheus.Counter
	applies     prometheus.Counter
	snapshots   prometheus.Counter
	currentTerm prometheus.Gauge
	currentRole prometheus.Gauge
	commitIndex prometheus.Gauge
}

var _ raft.Observer = (*Recorder)(nil)

// NewRecorder builds a recorder with the given ring capacity and
// registers its collectors.
func NewRecorder(capacity int, reg prometheus.Registerer) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	r := &Recorder{
		ring: make([]Event, capacity),
		elections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyvault_elections_total",
			Help: "Elections started by this node.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyvault_commit_advances_total",
			Help: "Times the commit index advanced.",
		}),
		applies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyvault_entries_applied_total",
			Help: "Log entries applied to the state machine.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyvault_snapshots_total",
			Help: "Snapshots taken or installed.",
		}),
		currentTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyvault_current_term",
			Help: "Current consensus term.",
		}),
		currentRole: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyvault_role",
			Help: "Current role: 0 follower, 1 candidate, 2 leader.",
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyvault_commit_index",
			Help: "Highest committed log index.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.elections, r.commits, r.applies, r.snapshots,
			r.currentTerm, r.currentRole, r.commitIndex)
	}
	return r
}

func (r *Recorder) record(ev Event) {
	ev.Time = time.Now().UTC()
	r.mu.Lock()
	r.ring[r.next] = ev
	r.next = (r.next + 1) % len(r.ring)
	r.total++
	r.mu.Unlock()
}

// Events returns the buffered events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, len(r.ring))
	n := len(r.ring)
	start := r.next
	if r.total < uint64(n) {
		start = 0
		n = int(r.total)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

// Total returns how many events have been recorded over the recorder's
// lifetime, including those evicted from the ring.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// CSV renders the buffered events as a CSV document.
func (r *Recorder) CSV() string {
	events := r.Events()
	var b []byte
	b = append(b, "time,node,kind,term,index,detail\n"...)
	for _, ev := range events {
		b = append(b, ev.Time.Format(time.RFC3339Nano)...)
		b = append(b, ',')
		b = append(b, ev.Node...)
		b = append(b, ',')
		b = append(b, ev.Kind...)
		b = append(b, ',')
		b = strconv.AppendUint(b, ev.Term, 10)
		b = append(b, ',')
		b = strconv.AppendUint(b, ev.Index, 10)
		b = append(b, ',')
		b = append(b, ev.Detail...)
		b = append(b, '\n')
	}
	return string(b)
}

// raft.Observer implementation.

func (r *Recorder) RoleChanged(nodeID string, role raft.Role, term uint64) {
	r.currentRole.Set(float64(role))
	r.currentTerm.Set(float64(term))
	r.record(Event{Node: nodeID, Kind: KindRoleChange, Term: term, Detail: role.String()})
}

func (r *Recorder) ElectionStarted(nodeID string, term uint64) {
	r.elections.Inc()
	r.currentTerm.Set(float64(term))
	r.record(Event{Node: nodeID, Kind: KindElectionStarted, Term: term})
}

func (r *Recorder) LeaderElected(nodeID string, term uint64) {
	r.record(Event{Node: nodeID, Kind: KindLeaderElected, Term: term})
}

func (r *Recorder) CommitAdvanced(nodeID string, index uint64) {
	r.commits.Inc()
	r.commitIndex.Set(float64(index))
	r.record(Event{Node: nodeID, Kind: KindCommitAdvanced, Index: index})
}

func (r *Recorder) EntryApplied(nodeID string, index uint64) {
	r.applies.Inc()
	r.record(Event{Node: nodeID, Kind: KindEntryApplied, Index: index})
}

func (r *Recorder) SnapshotTaken(nodeID string, index uint64) {
	r.snapshots.Inc()
	r.record(Event{Node: nodeID, Kind: KindSnapshotTaken, Index: index})
}

func (r *Recorder) SnapshotInstalled(nodeID string, index uint64) {
	r.snapshots.Inc()
	r.record(Event{Node: nodeID, Kind: KindSnapshotInstalled, Index: index})
}
