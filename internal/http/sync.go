package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/syncer"
)

// SyncController exposes the sync manager.
type SyncController struct {
	sync  SyncService
	queue ActionQueue
}

func NewSyncController(sync SyncService, q ActionQueue) *SyncController {
	return &SyncController{sync: sync, queue: q}
}

// SyncNow handles POST /api/sync
// Runs a pass, or joins the one in flight, and returns its result.
// Pass ?async=true to only request a pass.
func (sc *SyncController) SyncNow(c *gin.Context) {
	if c.Query("async") == "true" {
		sc.sync.Trigger(syncer.ReasonManual)
		respondAccepted(c, "sync requested", nil)
		return
	}

	result, err := sc.sync.SyncNow(c.Request.Context())
	if err != nil {
		respondErr(c, err, "sync now")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Status handles GET /api/sync/status
func (sc *SyncController) Status(c *gin.Context) {
	resp := gin.H{"sync": sc.sync.Status()}
	if sc.queue != nil {
		stats, err := sc.queue.Stats(c.Request.Context())
		if err != nil {
			respondErr(c, err, "queue stats")
			return
		}
		resp["queue"] = stats
	}
	c.JSON(http.StatusOK, resp)
}
