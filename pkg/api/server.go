// Package api exposes the node's uniform HTTP surface: the leader-only
// /vault key-value API, the /raft peer RPCs, and the operational
// endpoints for health, state, metrics and snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/kv"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/metrics"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/rpc"
)

// Write submission statuses.
const (
	StatusPending       = "PENDING"
	StatusReplicated    = "REPLICATED"
	StatusNotReplicated = "NOT_REPLICATED"
)

// WriteTimeout bounds a blocking (?wait=true) write submission.
const WriteTimeout = 10 * time.Second

// Server binds one node's HTTP surface.
type Server struct {
	node     *raft.Node
	vault    *kv.Vault
	recorder *metrics.Recorder
	registry *prometheus.Registry
	logger   zerolog.Logger
	extra    []func(gin.IRoutes)
}

// Mount registers an additional route group (e.g. the chaos controller in
// development deployments) before Handler is built.
func (s *Server) Mount(fn func(gin.IRoutes)) {
	s.extra = append(s.extra, fn)
}

func NewServer(node *raft.Node, vault *kv.Vault, recorder *metrics.Recorder, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	return &Server{
		node:     node,
		vault:    vault,
		recorder: recorder,
		registry: registry,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the full route tree and wraps it with CORS.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	rpc.RegisterRoutes(r, s.node)

	r.PUT("/vault/key", s.handlePut)
	r.GET("/vault/key/:key", s.handleGet)
	r.DELETE("/vault/key/:key", s.handleDelete)
	r.GET("/vault/all", s.handleAll)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/raft/state", s.handleState)

	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	if s.recorder != nil {
		r.GET("/metrics/events", s.handleEvents)
		r.GET("/metrics/events.csv", s.handleEventsCSV)
	}

	r.POST("/snapshots/create", s.handleSnapshotCreate)
	r.GET("/snapshots/status", s.handleSnapshotStatus)

	for _, fn := range s.extra {
		fn(r)
	}

	return cors.Default().Handler(r)
}

type writeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type writeResponse struct {
	LeaderID string `json:"leaderId"`
	Term     uint64 `json:"term"`
	LogIndex uint64 `json:"logIndex"`
	Status   string `json:"status"`
}

type notLeaderResponse struct {
	LeaderID string `json:"leaderId"`
	Term     uint64 `json:"term"`
	Message  string `json:"message"`
}

func (s *Server) handlePut(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body: " + err.Error()})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "key must not be empty"})
		return
	}
	s.submit(c, raft.Command{Type: raft.CommandPut, Key: req.Key, Value: req.Value})
}

func (s *Server) handleDelete(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "key must not be empty"})
		return
	}
	s.submit(c, raft.Command{Type: raft.CommandDelete, Key: key})
}

// submit appends the command and answers 202 with the assigned index.
// With ?wait=true the response is held until the entry is applied or the
// wait times out.
func (s *Server) submit(c *gin.Context, cmd raft.Command) {
	if c.Query("wait") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), WriteTimeout)
		defer cancel()

		res, err := s.node.SubmitAndWait(ctx, cmd)
		switch {
		case errors.Is(err, raft.ErrNotLeader):
			s.respondNotLeader(c)
			return
		case err == nil:
			c.JSON(http.StatusAccepted, writeResponse{
				LeaderID: s.node.LeaderID(),
				Term:     res.Term,
				LogIndex: res.Index,
				Status:   StatusReplicated,
			})
			return
		default:
			// Accepted into the log but not confirmed within the wait
			// window; it may still commit later.
			c.JSON(http.StatusAccepted, writeResponse{
				LeaderID: s.node.LeaderID(),
				Term:     s.node.Term(),
				Status:   StatusNotReplicated,
			})
			return
		}
	}

	index, term, err := s.node.Submit(cmd)
	if err != nil {
		s.respondNotLeader(c)
		return
	}
	c.JSON(http.StatusAccepted, writeResponse{
		LeaderID: s.node.ID(),
		Term:     term,
		LogIndex: index,
		Status:   StatusPending,
	})
}

type readResponse struct {
	Value            string `json:"value"`
	Found            bool   `json:"found"`
	Term             uint64 `json:"term"`
	LeaderID         string `json:"leaderId"`
	CommitIndex      uint64 `json:"commitIndex"`
	LastAppliedIndex uint64 `json:"lastAppliedIndex"`
}

// handleGet serves reads from the leader's state machine. The default is
// read-your-writes from the leader; with ?linearizable=true the node
// first confirms leadership with a heartbeat round.
func (s *Server) handleGet(c *gin.Context) {
	if !s.node.IsLeader() {
		s.respondNotLeader(c)
		return
	}

	if c.Query("linearizable") == "true" {
		if !s.node.ConfirmLeadership(c.Request.Context()) {
			s.respondNotLeader(c)
			return
		}
	}

	key := c.Param("key")
	value, found := s.vault.Get(key)
	resp := readResponse{
		Value:            value,
		Found:            found,
		Term:             s.node.Term(),
		LeaderID:         s.node.LeaderID(),
		CommitIndex:      s.node.CommitIndex(),
		LastAppliedIndex: s.node.LastApplied(),
	}
	if !found {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAll(c *gin.Context) {
	if !s.node.IsLeader() {
		s.respondNotLeader(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"values":      s.vault.All(),
		"term":        s.node.Term(),
		"leaderId":    s.node.LeaderID(),
		"commitIndex": s.node.CommitIndex(),
	})
}

func (s *Server) respondNotLeader(c *gin.Context) {
	c.JSON(http.StatusForbidden, notLeaderResponse{
		LeaderID: s.node.LeaderID(),
		Term:     s.node.Term(),
		Message:  "not leader",
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"nodeId":           s.node.ID(),
		"role":             s.node.Role().String(),
		"term":             s.node.Term(),
		"leaderId":         s.node.LeaderID(),
		"commitIndex":      s.node.CommitIndex(),
		"lastAppliedIndex": s.node.LastApplied(),
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total":  s.recorder.Total(),
		"events": s.recorder.Events(),
	})
}

func (s *Server) handleEventsCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.String(http.StatusOK, s.recorder.CSV())
}

func (s *Server) handleSnapshotCreate(c *gin.Context) {
	if err := s.node.TakeSnapshot(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.snapshotStatus(c, http.StatusCreated)
}

func (s *Server) handleSnapshotStatus(c *gin.Context) {
	s.snapshotStatus(c, http.StatusOK)
}

func (s *Server) snapshotStatus(c *gin.Context, code int) {
	meta := s.node.SnapshotMeta()
	if meta == nil {
		c.JSON(code, gin.H{"exists": false})
		return
	}
	c.JSON(code, gin.H{
		"exists":            true,
		"lastIncludedIndex": meta.LastIncludedIndex,
		"lastIncludedTerm":  meta.LastIncludedTerm,
		"termAtCreation":    meta.TermAtCreation,
		"createdAt":         meta.CreatedAt,
	})
}
