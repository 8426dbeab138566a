package rpc_test

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/harness"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/kv"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/rpc"
)

func newTestNode(id string) *raft.Node {
	cfg := raft.NodeConfig{
		ID:                 id,
		Peers:              []string{"peer-a", "peer-b"},
		ElectionTimeoutMin: time.Second,
		ElectionTimeoutMax: 2 * time.Second,
	}
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return raft.NewNode(cfg, nil, harness.NewMemoryStable(), kv.NewVault(), logger)
}

func newPeerServer(t *testing.T, node *raft.Node) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	rpc.RegisterRoutes(r, node)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransportRequestVote(t *testing.T) {
	node := newTestNode("n2")
	srv := newPeerServer(t, node)

	transport := rpc.NewHTTPTransport(map[string]string{"n2": srv.URL}, time.Second)

	resp, err := transport.RequestVote(context.Background(), "n2", &raft.RequestVoteRequest{
		Term:        1,
		CandidateID: "n1",
	})
	require.NoError(t, err)
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, uint64(1), resp.Term)
}

func TestHTTPTransportAppendEntries(t *testing.T) {
	node := newTestNode("n2")
	srv := newPeerServer(t, node)

	transport := rpc.NewHTTPTransport(map[string]string{"n2": srv.URL}, time.Second)

	resp, err := transport.AppendEntries(context.Background(), "n2", &raft.AppendEntriesRequest{
		Term:     1,
		LeaderID: "n1",
		Entries: []raft.LogEntry{
			{Index: 1, Term: 1, Command: raft.Command{Type: raft.CommandPut, Key: "a", Value: "1"}},
		},
		LeaderCommit: 1,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.MatchIndex)
	assert.Equal(t, uint64(1), node.CommitIndex())
}

func TestHTTPTransportInstallSnapshot(t *testing.T) {
	node := newTestNode("n2")
	srv := newPeerServer(t, node)

	transport := rpc.NewHTTPTransport(map[string]string{"n2": srv.URL}, time.Second)

	resp, err := transport.InstallSnapshot(context.Background(), "n2", &raft.InstallSnapshotRequest{
		Term:              3,
		LeaderID:          "n1",
		LastIncludedIndex: 0,
		LastIncludedTerm:  0,
		Done:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), resp.Term)
	assert.Equal(t, uint64(3), node.Term())
}

func TestHTTPTransportUnknownPeer(t *testing.T) {
	transport := rpc.NewHTTPTransport(map[string]string{}, time.Second)
	_, err := transport.RequestVote(context.Background(), "ghost", &raft.RequestVoteRequest{Term: 1})
	assert.Error(t, err)
}

func TestHTTPTransportHonorsContext(t *testing.T) {
	node := newTestNode("n2")
	srv := newPeerServer(t, node)

	transport := rpc.NewHTTPTransport(map[string]string{"n2": srv.URL}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transport.AppendEntries(ctx, "n2", &raft.AppendEntriesRequest{Term: 1, LeaderID: "n1"})
	assert.Error(t, err)
}

func TestLocalTransportLinkControl(t *testing.T) {
	fabric := rpc.NewLocalTransport()
	target := newTestNode("n2")
	fabric.Register(target)

	bound := fabric.Bound("n1")

	_, err := bound.RequestVote(context.Background(), "n2", &raft.RequestVoteRequest{Term: 1, CandidateID: "n1"})
	require.NoError(t, err)

	fabric.Disconnect("n1", "n2")
	_, err = bound.RequestVote(context.Background(), "n2", &raft.RequestVoteRequest{Term: 1, CandidateID: "n1"})
	assert.Error(t, err)

	fabric.Connect("n1", "n2")
	_, err = bound.RequestVote(context.Background(), "n2", &raft.RequestVoteRequest{Term: 1, CandidateID: "n1"})
	assert.NoError(t, err)
}

func TestLocalTransportPartitionAndHeal(t *testing.T) {
	fabric := rpc.NewLocalTransport()
	a := newTestNode("a")
	b := newTestNode("b")
	fabric.Register(a)
	fabric.Register(b)

	fabric.Partition("b")
	_, err := fabric.Bound("a").AppendEntries(context.Background(), "b", &raft.AppendEntriesRequest{Term: 1, LeaderID: "a"})
	require.Error(t, err)
	_, err = fabric.Bound("b").AppendEntries(context.Background(), "a", &raft.AppendEntriesRequest{Term: 1, LeaderID: "b"})
	require.Error(t, err)

	fabric.Heal("b")
	_, err = fabric.Bound("a").AppendEntries(context.Background(), "b", &raft.AppendEntriesRequest{Term: 1, LeaderID: "a"})
	assert.NoError(t, err)
}

func TestLocalTransportUnknownPeer(t *testing.T) {
	fabric := rpc.NewLocalTransport()
	_, err := fabric.Bound("a").RequestVote(context.Background(), "missing", &raft.RequestVoteRequest{Term: 1})
	assert.Error(t, err)
}
