package indexing

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the indexing endpoints under /indexing.
func RegisterRoutes(e *echo.Echo, idx Indexer) {
	h := &handler{indexer: idx}

	g := e.Group("/indexing")
	g.POST("/start", h.start)
	g.GET("/status", h.status)
	g.GET("/history", h.history)
	g.GET("/batches/:id", h.retrieve)
	g.POST("/batches/:id/cancel", h.cancel)
}
