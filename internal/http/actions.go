package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/queue"
	"github.com/mrlokans/shelfsync/internal/syncer"
)

// ActionsController exposes the action queue.
type ActionsController struct {
	queue ActionQueue
	sync  SyncService
}

func NewActionsController(q ActionQueue, sync SyncService) *ActionsController {
	return &ActionsController{queue: q, sync: sync}
}

// EnqueueRequest is the body of POST /api/actions.
type EnqueueRequest struct {
	Type       entities.ActionType `json:"type" binding:"required"`
	Payload    json.RawMessage     `json:"payload" binding:"required"`
	Priority   int                 `json:"priority"`
	MaxRetries *int                `json:"max_retries"`
	// Sync asks for a pass right away instead of waiting for the next
	// trigger.
	Sync bool `json:"sync"`
}

// Enqueue handles POST /api/actions
func (ac *ActionsController) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	opts := queue.Options{Priority: req.Priority}
	if req.MaxRetries != nil {
		opts.MaxRetries = *req.MaxRetries
		if opts.MaxRetries == 0 {
			respondBadRequest(c, "max_retries must be at least 1")
			return
		}
	}

	action, err := ac.queue.Enqueue(c.Request.Context(), req.Type, req.Payload, opts)
	if err != nil {
		respondErr(c, err, "enqueue action")
		return
	}

	if req.Sync && ac.sync != nil {
		ac.sync.Trigger(syncer.ReasonManual)
	}
	c.JSON(http.StatusCreated, action)
}

// List handles GET /api/actions?status=
func (ac *ActionsController) List(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := ac.queue.List(ctx, entities.ActionStatus(c.Query("status")))
	if err != nil {
		respondErr(c, err, "list actions")
		return
	}
	stats, err := ac.queue.Stats(ctx)
	if err != nil {
		respondErr(c, err, "queue stats")
		return
	}
	if list == nil {
		list = []entities.QueuedAction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"actions": list,
		"total":   len(list),
		"stats":   stats,
	})
}

// Get handles GET /api/actions/:id
func (ac *ActionsController) Get(c *gin.Context) {
	action, err := ac.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err, "get action")
		return
	}
	c.JSON(http.StatusOK, action)
}

// Retry handles POST /api/actions/:id/retry
func (ac *ActionsController) Retry(c *gin.Context) {
	action, err := ac.queue.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err, "retry action")
		return
	}
	if ac.sync != nil {
		ac.sync.Trigger(syncer.ReasonManual)
	}
	c.JSON(http.StatusOK, action)
}

// Dismiss handles DELETE /api/actions/:id
func (ac *ActionsController) Dismiss(c *gin.Context) {
	id := c.Param("id")
	if err := ac.queue.Dismiss(c.Request.Context(), id); err != nil {
		respondErr(c, err, "dismiss action")
		return
	}
	respondSuccess(c, "action dismissed", gin.H{"id": id})
}
