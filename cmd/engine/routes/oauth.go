package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/cmd/engine/container"
	"github.com/lumenflow/orchestrator/cmd/engine/handlers"
	"github.com/lumenflow/orchestrator/cmd/engine/middleware"
)

// RegisterOAuthRoutes registers the authorization flow and credential routes
func RegisterOAuthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewOAuthHandler(c.OAuthService, c.CredentialStore)

	api := e.Group("/api/app/external-apis")
	api.Use(middleware.ExtractUserID())
	{
		api.POST("/auth/authorize", h.Authorize)
		// callback is reached by redirect from the provider; state carries identity
		api.GET("/auth/callback", h.Callback)
		api.GET("/credentials", h.ListCredentials)
		api.DELETE("/credentials/:provider", h.RevokeCredential)
	}
}
