package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/cmd/engine/container"
	"github.com/lumenflow/orchestrator/cmd/engine/handlers"
	"github.com/lumenflow/orchestrator/cmd/engine/middleware"
)

// RegisterWorkflowRoutes registers workflow definition and execution-start routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	workflowHandler := handlers.NewWorkflowHandler(c.WorkflowService, c.ExecutionService)
	executionHandler := handlers.NewExecutionHandler(c.ExecutionService)

	wf := e.Group("/v1/workflows")
	wf.Use(middleware.ExtractUserID())
	{
		wf.POST("", workflowHandler.Create)
		wf.GET("", workflowHandler.List)
		wf.GET("/:id", workflowHandler.Get)
		wf.PUT("/:id", workflowHandler.Update)
		wf.PATCH("/:id", workflowHandler.Patch)
		wf.DELETE("/:id", workflowHandler.Delete)
		wf.GET("/:id/history", workflowHandler.History)
		wf.POST("/:id/execute", executionHandler.Execute)
	}
}
