package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/shelfsync/internal/logging"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Components left nil in cfg have their routes omitted.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.Network, cfg.Version)

	// Health endpoints
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := router.Group("/api")

	// Action queue endpoints
	if cfg.Queue != nil {
		actions := NewActionsController(cfg.Queue, cfg.Sync)
		api.POST("/actions", actions.Enqueue)
		api.GET("/actions", actions.List)
		api.GET("/actions/:id", actions.Get)
		api.POST("/actions/:id/retry", actions.Retry)
		api.DELETE("/actions/:id", actions.Dismiss)
	}

	// Sync endpoints
	if cfg.Sync != nil {
		sync := NewSyncController(cfg.Sync, cfg.Queue)
		api.POST("/sync", sync.SyncNow)
		api.GET("/sync/status", sync.Status)
	}
	if cfg.Events != nil {
		api.GET("/sync/events", cfg.Events.Serve)
	}

	// Network endpoints
	if cfg.Network != nil {
		network := NewNetworkController(cfg.Network, cfg.Sync)
		api.GET("/network", network.State)
		api.POST("/network", network.Report)
		api.POST("/network/resume", network.Resume)
		api.POST("/network/test", network.Test)
	}

	// Content cache endpoints
	if cfg.Cache != nil {
		books := NewBooksController(cfg.Cache, cfg.Tasks)
		api.GET("/books", books.List)
		api.POST("/books/cleanup", books.Cleanup)
		api.GET("/books/:id", books.Get)
		api.GET("/books/:id/content", books.Content)
		api.PUT("/books/:id/cache", books.Cache)
		api.DELETE("/books/:id/cache", books.Uncache)
	}

	// Task status endpoint
	if cfg.TaskStatus != nil {
		tasksController := NewTasksController(cfg.TaskStatus)
		api.GET("/tasks/:id", tasksController.GetTaskStatus)
	}

	return router
}

// requestLogger logs each request through the http module logger.
func requestLogger() gin.HandlerFunc {
	log := logging.Get("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
