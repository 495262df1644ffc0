package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/cmd/engine/credential"
	"github.com/lumenflow/orchestrator/cmd/engine/middleware"
	"github.com/lumenflow/orchestrator/cmd/engine/oauth"
	"github.com/lumenflow/orchestrator/common/errs"
)

// OAuthHandler handles the OAuth2 authorization flow and stored credentials
type OAuthHandler struct {
	oauth       *oauth.Service
	credentials *credential.Store
}

// NewOAuthHandler creates a new oauth handler
func NewOAuthHandler(oauthService *oauth.Service, credentials *credential.Store) *OAuthHandler {
	return &OAuthHandler{oauth: oauthService, credentials: credentials}
}

// AuthorizeRequest starts the authorization code flow for one provider
type AuthorizeRequest struct {
	Provider    string   `json:"provider"`
	Scopes      []string `json:"scopes,omitempty"`
	RedirectURL string   `json:"redirect_url"`
}

// Authorize starts the authorization code flow. The response carries the
// provider auth URL; the client redirects the user there, and the callback
// later sends them on to redirect_url.
// POST /api/app/external-apis/auth/authorize
func (h *OAuthHandler) Authorize(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}

	var req AuthorizeRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.New(errs.KindInvalidInput, "invalid request body"))
	}
	if req.Provider == "" {
		return respondError(c, errs.New(errs.KindInvalidInput, "provider is required"))
	}
	if req.RedirectURL == "" {
		return respondError(c, errs.New(errs.KindInvalidInput, "redirect_url is required"))
	}

	auth, err := h.oauth.BeginAuthorization(c.Request().Context(), userID, req.Provider, req.RedirectURL, req.Scopes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, auth)
}

// Callback completes the authorization code flow and redirects the user to
// the destination recorded at authorize time. State identifies the user and
// provider; it is single-use and expires.
// GET /api/app/external-apis/auth/callback?code=...&state=...&provider=...
func (h *OAuthHandler) Callback(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return respondError(c, errs.New(errs.KindInvalidInput, "state and code are required"))
	}

	cred, redirectURL, err := h.oauth.CompleteAuthorization(c.Request().Context(), state, code)
	if err != nil {
		return respondError(c, err)
	}
	if redirectURL != "" {
		return c.Redirect(http.StatusFound, redirectURL)
	}
	// no destination recorded; token material never leaves the server, so
	// return only the credential header
	return c.JSON(http.StatusOK, map[string]any{
		"provider":   cred.Provider,
		"user_id":    cred.UserID,
		"scopes":     cred.Scopes,
		"expires_at": cred.ExpiresAt,
	})
}

// ListCredentials lists the caller's stored credentials, without secrets
// GET /api/app/external-apis/credentials
func (h *OAuthHandler) ListCredentials(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}

	creds, err := h.credentials.List(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	out := make([]map[string]any, 0, len(creds))
	for _, cred := range creds {
		out = append(out, map[string]any{
			"provider":     cred.Provider,
			"scopes":       cred.Scopes,
			"valid":        cred.Valid,
			"expires_at":   cred.ExpiresAt,
			"last_used_at": cred.LastUsedAt,
			"created_at":   cred.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"credentials": out})
}

// RevokeCredential deletes a stored credential
// DELETE /api/app/external-apis/credentials/:provider
func (h *OAuthHandler) RevokeCredential(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	provider := c.Param("provider")

	if err := h.credentials.Revoke(c.Request().Context(), userID, provider); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
