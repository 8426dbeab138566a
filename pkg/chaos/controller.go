package chaos

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the fault-injection controls. Only test and
// development deployments install these; production wiring leaves the
// chaos transport out entirely.
func RegisterRoutes(r gin.IRoutes, t *Transport) {
	r.POST("/chaos/drop", func(c *gin.Context) {
		var req struct {
			Rate float64 `json:"rate"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t.SetDropRate(req.Rate)
		c.JSON(http.StatusOK, gin.H{"dropRate": req.Rate})
	})

	r.POST("/chaos/delay", func(c *gin.Context) {
		var req struct {
			Millis int64 `json:"millis"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t.SetDelay(time.Duration(req.Millis) * time.Millisecond)
		c.JSON(http.StatusOK, gin.H{"delayMillis": req.Millis})
	})

	r.POST("/chaos/block", func(c *gin.Context) {
		var req struct {
			Peer string `json:"peer"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Peer == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "peer required"})
			return
		}
		t.Block(req.Peer)
		c.JSON(http.StatusOK, gin.H{"blocked": req.Peer})
	})

	r.POST("/chaos/heal", func(c *gin.Context) {
		t.Heal()
		c.JSON(http.StatusOK, gin.H{"healed": true})
	})
}
