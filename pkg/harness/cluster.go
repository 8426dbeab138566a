// Package harness spins up multi-node clusters over the in-memory
// transport for tests: leader discovery helpers, link control, and a
// safety invariant checker.
package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/kv"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/rpc"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/wal"
)

// Cluster is an in-process cluster of consensus nodes.
type Cluster struct {
	Nodes     []*raft.Node
	Vaults    []*kv.Vault
	Transport *rpc.LocalTransport

	ids     []string
	stopped map[string]bool
}

// Options tunes cluster construction.
type Options struct {
	Size int
	// Dir enables real durable storage under the given directory; when
	// empty each node gets an in-memory stable store.
	Dir string
	// SnapshotThreshold overrides the compaction threshold; 0 keeps the
	// harness default of 100 entries.
	SnapshotThreshold uint64
}

// NewCluster builds (but does not start) a cluster of the given size.
func NewCluster(opts Options) (*Cluster, error) {
	if opts.Size <= 0 {
		opts.Size = 3
	}
	threshold := opts.SnapshotThreshold
	if threshold == 0 {
		threshold = 100
	}

	transport := rpc.NewLocalTransport()
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	c := &Cluster{
		Transport: transport,
		stopped:   make(map[string]bool),
	}

	for i := 0; i < opts.Size; i++ {
		c.ids = append(c.ids, fmt.Sprintf("node-%d", i))
	}

	for _, id := range c.ids {
		peers := make([]string, 0, opts.Size-1)
		for _, other := range c.ids {
			if other != id {
				peers = append(peers, other)
			}
		}

		var stable raft.Stable
		if opts.Dir != "" {
			store, err := wal.New(fmt.Sprintf("%s/%s", opts.Dir, id))
			if err != nil {
				return nil, err
			}
			stable = store
		} else {
			stable = NewMemoryStable()
		}

		vault := kv.NewVault()
		cfg := raft.NodeConfig{
			ID:                 id,
			Peers:              peers,
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  25 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
			SnapshotThreshold:  threshold,
		}

		node := raft.NewNode(cfg, transport.Bound(id), stable, vault, logger)
		transport.Register(node)

		c.Nodes = append(c.Nodes, node)
		c.Vaults = append(c.Vaults, vault)
	}

	return c, nil
}

// Start launches every node.
func (c *Cluster) Start() error {
	for _, n := range c.Nodes {
		if err := n.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down every node still running.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		if !c.stopped[n.ID()] {
			n.Stop()
			c.stopped[n.ID()] = true
		}
	}
}

// StopNode stops a single node and cuts it from the fabric, simulating a
// crash.
func (c *Cluster) StopNode(id string) {
	for _, n := range c.Nodes {
		if n.ID() == id && !c.stopped[id] {
			c.Transport.Partition(id)
			n.Stop()
			c.stopped[id] = true
		}
	}
}

// Leader returns the current leader if exactly one node holds the role.
func (c *Cluster) Leader() *raft.Node {
	var leader *raft.Node
	for _, n := range c.Nodes {
		if c.stopped[n.ID()] {
			continue
		}
		if n.Role() == raft.Leader {
			if leader != nil {
				return nil
			}
			leader = n
		}
	}
	return leader
}

// WaitForLeader blocks until a single leader emerges.
func (c *Cluster) WaitForLeader(timeout time.Duration) (*raft.Node, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leader := c.Leader(); leader != nil {
			return leader, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("no leader within %v", timeout)
}

// Submit proposes a command on the current leader and waits for it to be
// applied.
func (c *Cluster) Submit(cmd raft.Command, timeout time.Duration) (raft.CommitResult, error) {
	leader, err := c.WaitForLeader(timeout)
	if err != nil {
		return raft.CommitResult{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return leader.SubmitAndWait(ctx, cmd)
}

// WaitForApplied blocks until every running node has applied at least
// index.
func (c *Cluster) WaitForApplied(index uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		done := true
		for _, n := range c.Nodes {
			if c.stopped[n.ID()] {
				continue
			}
			if n.LastApplied() < index {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("nodes did not apply index %d within %v", index, timeout)
}

// Node returns the node with the given id.
func (c *Cluster) Node(id string) *raft.Node {
	for _, n := range c.Nodes {
		if n.ID() == id {
			return n
		}
	}
	return nil
}

// Vault returns the vault backing the node with the given id.
func (c *Cluster) Vault(id string) *kv.Vault {
	for i, n := range c.Nodes {
		if n.ID() == id {
			return c.Vaults[i]
		}
	}
	return nil
}

// IDs lists the node ids in order.
func (c *Cluster) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}
