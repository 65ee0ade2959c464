package api

import (
	"github.com/labstack/echo/v4"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	// API v1 group
	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	s.setupSearchRoutes(api)
	s.setupIndexerRoutes(api)
	s.setupDownloadRoutes(api)
	s.setupQueueRoutes(api)
	s.setupHistoryRoutes(api)
	s.setupLogRoutes(api)

	// WebSocket endpoint for progress and state change events
	s.echo.GET("/ws", s.hub.HandleWebSocket)
}

func (s *Server) setupSearchRoutes(api *echo.Group) {
	api.GET("/search", s.search)
	api.POST("/grab", s.grabRelease)
}

func (s *Server) setupIndexerRoutes(api *echo.Group) {
	indexers := api.Group("/indexers")
	indexers.GET("", s.listIndexers)
	indexers.POST("", s.addIndexer)
	indexers.GET("/:id", s.getIndexer)
	indexers.PUT("/:id", s.updateIndexer)
	indexers.DELETE("/:id", s.deleteIndexer)
	indexers.POST("/:id/test", s.testIndexer)
	indexers.POST("/test", s.testNewIndexer)
}

func (s *Server) setupDownloadRoutes(api *echo.Group) {
	clients := api.Group("/downloadclients")
	clients.GET("", s.listDownloadClients)
	clients.POST("", s.addDownloadClient)
	clients.GET("/:id", s.getDownloadClient)
	clients.PUT("/:id", s.updateDownloadClient)
	clients.DELETE("/:id", s.deleteDownloadClient)
	clients.POST("/:id/test", s.testDownloadClient)
	clients.POST("/test", s.testNewDownloadClient)
}

func (s *Server) setupQueueRoutes(api *echo.Group) {
	queue := api.Group("/queue")
	queue.GET("", s.getQueue)
	queue.GET("/:id", s.getQueueItem)
	queue.GET("/:id/events", s.getQueueItemEvents)
	queue.DELETE("/:id", s.removeFromQueue)
}

func (s *Server) setupHistoryRoutes(api *echo.Group) {
	api.GET("/history", s.getHistory)

	bl := api.Group("/blocklist")
	bl.GET("", s.listBlocklist)
	bl.DELETE("/:id", s.removeFromBlocklist)
}

func (s *Server) setupLogRoutes(api *echo.Group) {
	logs := NewLogsHandlers(s)
	logs.RegisterRoutes(api.Group("/logs"))
}
