package server

import (
	"github.com/OFFIS-RIT/folio/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/folio/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")
	apiRoutes.POST("/ask", routes.AskHandler)
	apiRoutes.GET("/graph/stats", routes.GraphStatsHandler)

	// Admin routes
	admin := []echo.MiddlewareFunc{middleware.AuthMiddleware, middleware.RequirePermission(middleware.PermissionIngest)}
	apiRoutes.POST("/ingest", routes.IngestHandler, admin...)
	apiRoutes.POST("/ingest/items", routes.IngestItemsHandler, admin...)
	apiRoutes.POST("/ingest/async", routes.IngestAsyncHandler, admin...)
}
