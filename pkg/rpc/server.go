package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

// RegisterRoutes mounts the inbound peer RPC surface on a gin router.
// The handlers are thin JSON shims around the node's RPC receivers.
func RegisterRoutes(r gin.IRoutes, node *raft.Node) {
	r.POST(pathRequestVote, func(c *gin.Context) {
		var req raft.RequestVoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, node.HandleRequestVote(&req))
	})

	r.POST(pathAppendEntries, func(c *gin.Context) {
		var req raft.AppendEntriesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, node.HandleAppendEntries(&req))
	})

	r.POST(pathInstallSnapshot, func(c *gin.Context) {
		var req raft.InstallSnapshotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, node.HandleInstallSnapshot(&req))
	})
}
