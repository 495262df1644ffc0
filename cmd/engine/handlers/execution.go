package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/cmd/engine/middleware"
	"github.com/lumenflow/orchestrator/cmd/engine/service"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// ExecutionHandler handles execution lifecycle requests
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// Execute starts a workflow run
// POST /v1/workflows/:id/execute
func (h *ExecutionHandler) Execute(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	workflowID, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	var req models.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Wrap(errs.KindInvalidInput, err, "execute payload does not parse"))
	}

	exec, err := h.executions.Execute(c.Request().Context(), userID, workflowID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// Get returns an execution with its node records
// GET /v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	detail, err := h.executions.Get(c.Request().Context(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// Cancel requests cooperative cancellation of a running execution
// POST /v1/executions/:id/cancel
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	if err := h.executions.Cancel(c.Request().Context(), userID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"execution_id": id, "status": "canceling"})
}

// ResumeRequest is the external callback payload for waiting executions
type ResumeRequest struct {
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Resume delivers an external callback to a waiting execution
// POST /v1/executions/:id/resume
func (h *ExecutionHandler) Resume(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Wrap(errs.KindInvalidInput, err, "resume payload does not parse"))
	}

	if err := h.executions.Resume(c.Request().Context(), userID, id, req.CorrelationID, req.Payload); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_id": id, "status": "resumed"})
}

// Stream serves the execution's event stream as server-sent events. The
// replay portion covers everything already published, so reconnecting
// clients never miss events.
// GET /v1/executions/:id/events
func (h *ExecutionHandler) Stream(c echo.Context) error {
	userID, err := middleware.RequireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return respondError(c, err)
	}

	replay, live, cancel, err := h.executions.Subscribe(c.Request().Context(), userID, id)
	if err != nil {
		return respondError(c, err)
	}
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	for _, ev := range replay {
		if err := writeEvent(res, ev); err != nil {
			return nil
		}
	}
	res.Flush()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if err := writeEvent(res, ev); err != nil {
				return nil
			}
			res.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func writeEvent(res *echo.Response, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Type, payload)
	return err
}
