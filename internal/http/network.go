package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/syncer"
)

// NetworkController exposes the network monitor.
type NetworkController struct {
	network NetworkService
	sync    SyncService
}

// NewNetworkController creates the controller. sync may be nil.
func NewNetworkController(network NetworkService, sync SyncService) *NetworkController {
	return &NetworkController{network: network, sync: sync}
}

// ConnectivityReport is the body of POST /api/network.
type ConnectivityReport struct {
	Online *bool `json:"online" binding:"required"`
}

// State handles GET /api/network
func (nc *NetworkController) State(c *gin.Context) {
	c.JSON(http.StatusOK, nc.network.State())
}

// Report handles POST /api/network
// The host reports a platform connectivity change. Offline applies at
// once; online is confirmed with a probe before the state flips.
func (nc *NetworkController) Report(c *gin.Context) {
	var req ConnectivityReport
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "online is required")
		return
	}
	nc.network.ReportConnectivity(c.Request.Context(), *req.Online)
	c.JSON(http.StatusOK, nc.network.State())
}

// Resume handles POST /api/network/resume
// Called when the host returns to the foreground. A reachable remote
// starts a pass even when the state did not change.
func (nc *NetworkController) Resume(c *gin.Context) {
	if nc.network.Resume(c.Request.Context()) && nc.sync != nil {
		nc.sync.Trigger(syncer.ReasonResume)
	}
	c.JSON(http.StatusOK, nc.network.State())
}

// Test handles POST /api/network/test
func (nc *NetworkController) Test(c *gin.Context) {
	online := nc.network.TestConnectivity(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"online": online,
		"state":  nc.network.State(),
	})
}
