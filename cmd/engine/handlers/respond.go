package handlers

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lumenflow/orchestrator/common/errs"
)

// respondError maps a classified error onto an HTTP response. Messages come
// from the error itself; internals are never leaked beyond that.
func respondError(c echo.Context, err error) error {
	kind := errs.KindOf(err)
	return c.JSON(errs.HTTPStatus(kind), map[string]any{
		"error": map[string]any{
			"kind":    string(kind),
			"message": err.Error(),
		},
	})
}

// pathUUID parses a uuid path parameter
func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errs.Wrap(errs.KindInvalidInput, err, "%s is not a valid uuid", name)
	}
	return id, nil
}

// queryInt parses an integer query parameter with a default
func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
