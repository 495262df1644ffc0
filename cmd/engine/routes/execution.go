package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/cmd/engine/container"
	"github.com/lumenflow/orchestrator/cmd/engine/handlers"
	"github.com/lumenflow/orchestrator/cmd/engine/middleware"
)

// RegisterExecutionRoutes registers execution lifecycle routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c.ExecutionService)

	ex := e.Group("/v1/executions")
	ex.Use(middleware.ExtractUserID())
	{
		ex.GET("/:id", h.Get)
		ex.POST("/:id/cancel", h.Cancel)
		ex.POST("/:id/resume", h.Resume)
		ex.GET("/:id/events", h.Stream)
	}
}
