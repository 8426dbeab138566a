package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

// LocalTransport delivers RPCs between in-process nodes without a
// network. It backs the multi-node test harness: links can be cut,
// nodes partitioned, and artificial latency injected.
type LocalTransport struct {
	mu       sync.RWMutex
	nodes    map[string]*raft.Node
	disabled map[string]map[string]bool
	latency  time.Duration
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		nodes:    make(map[string]*raft.Node),
		disabled: make(map[string]map[string]bool),
	}
}

// Register adds a node to the in-memory fabric.
func (t *LocalTransport) Register(node *raft.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[node.ID()] = node
	if t.disabled[node.ID()] == nil {
		t.disabled[node.ID()] = make(map[string]bool)
	}
}

// SetLatency applies a fixed delay to every delivered RPC.
func (t *LocalTransport) SetLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latency = d
}

// Disconnect cuts the directed link from -> to.
func (t *LocalTransport) Disconnect(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled[from] == nil {
		t.disabled[from] = make(map[string]bool)
	}
	t.disabled[from][to] = true
}

// Connect restores the directed link from -> to.
func (t *LocalTransport) Connect(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled[from] != nil {
		delete(t.disabled[from], to)
	}
}

// Partition isolates a node from every other registered node, both
// directions.
func (t *LocalTransport) Partition(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.nodes {
		if id == nodeID {
			continue
		}
		if t.disabled[nodeID] == nil {
			t.disabled[nodeID] = make(map[string]bool)
		}
		if t.disabled[id] == nil {
			t.disabled[id] = make(map[string]bool)
		}
		t.disabled[nodeID][id] = true
		t.disabled[id][nodeID] = true
	}
}

// Heal restores all links touching a node.
func (t *LocalTransport) Heal(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled[nodeID] = make(map[string]bool)
	for id := range t.disabled {
		delete(t.disabled[id], nodeID)
	}
}

// Bound returns a per-node view of the fabric that stamps the sender id
// on outbound calls, so link cuts apply to the right direction.
func (t *LocalTransport) Bound(from string) raft.Transport {
	return &boundTransport{fabric: t, from: from}
}

type boundTransport struct {
	fabric *LocalTransport
	from   string
}

func (b *boundTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	node, err := b.fabric.deliver(ctx, b.from, target)
	if err != nil {
		return nil, err
	}
	return node.HandleRequestVote(req), nil
}

func (b *boundTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	node, err := b.fabric.deliver(ctx, b.from, target)
	if err != nil {
		return nil, err
	}
	return node.HandleAppendEntries(req), nil
}

func (b *boundTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	node, err := b.fabric.deliver(ctx, b.from, target)
	if err != nil {
		return nil, err
	}
	return node.HandleInstallSnapshot(req), nil
}

func (t *LocalTransport) deliver(ctx context.Context, from, to string) (*raft.Node, error) {
	t.mu.RLock()
	node, ok := t.nodes[to]
	cut := t.disabled[from][to]
	latency := t.latency
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown peer %s", to)
	}
	if cut {
		return nil, fmt.Errorf("link %s -> %s is down", from, to)
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return node, nil
}
