package bench

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the benchmark controller. POST /bench/run executes
// a workload against the cluster and answers with the summary; an empty
// body runs the defaults.
func RegisterRoutes(r gin.IRoutes, runner *Runner, targets []string) {
	r.POST("/bench/run", func(c *gin.Context) {
		var req struct {
			Writes      int  `json:"writes"`
			Reads       int  `json:"reads"`
			Concurrency int  `json:"concurrency"`
			Keys        int  `json:"keys"`
			CSV         bool `json:"csv"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		summary, err := runner.Run(c.Request.Context(), Options{
			Targets:     targets,
			Writes:      req.Writes,
			Reads:       req.Reads,
			Concurrency: req.Concurrency,
			KeySpace:    req.Keys,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if req.CSV {
			c.Header("Content-Type", "text/csv")
			c.String(http.StatusOK, summary.CSV())
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
