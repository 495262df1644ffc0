package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/cmd/engine/middleware"
	"github.com/lumenflow/orchestrator/cmd/engine/service"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// WorkflowHandler handles workflow definition requests
type WorkflowHandler struct {
	workflows  *service.WorkflowService
	executions *service.ExecutionService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows *service.WorkflowService, executions *service.ExecutionService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, executions: executions}
}

// Create creates a workflow
// POST /v1/workflows
func (h *WorkflowHandler) Create(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}

	var wf models.Workflow
	if err := c.Bind(&wf); err != nil {
		return respondError(c, errs.Wrap(errs.KindInvalidInput, err, "workflow payload does not parse"))
	}
	wf.OwnerID = userID

	created, err := h.workflows.Create(c.Request().Context(), &wf)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// Get retrieves a workflow with its full graph
// GET /v1/workflows/:id
func (h *WorkflowHandler) Get(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	wf, err := h.workflows.Get(c.Request().Context(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// Update replaces a workflow definition
// PUT /v1/workflows/:id
func (h *WorkflowHandler) Update(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	var wf models.Workflow
	if err := c.Bind(&wf); err != nil {
		return respondError(c, errs.Wrap(errs.KindInvalidInput, err, "workflow payload does not parse"))
	}

	updated, err := h.workflows.Update(c.Request().Context(), userID, id, &wf)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Patch applies a JSON merge patch to a workflow
// PATCH /v1/workflows/:id
func (h *WorkflowHandler) Patch(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondError(c, errs.Wrap(errs.KindInvalidInput, err, "failed to read patch body"))
	}

	updated, err := h.workflows.Patch(c.Request().Context(), userID, id, patch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Delete removes a workflow
// DELETE /v1/workflows/:id
func (h *WorkflowHandler) Delete(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	if err := h.workflows.Delete(c.Request().Context(), userID, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// List lists the caller's workflows
// GET /v1/workflows?limit=50&offset=0
func (h *WorkflowHandler) List(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	list, err := h.workflows.List(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": list, "limit": limit, "offset": offset})
}

// History lists executions of a workflow
// GET /v1/workflows/:id/history?limit=20&offset=0
func (h *WorkflowHandler) History(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	execs, err := h.executions.History(c.Request().Context(), userID, id, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": execs, "limit": limit, "offset": offset})
}
