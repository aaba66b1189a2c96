package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chaoschain/gateway/workflow"
)

// StatsResponse counts records per state.
type StatsResponse struct {
	Workflows map[workflow.State]int `json:"workflows"`
	Total     int                    `json:"total"`
}

func (a *API) stats(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatsResponse{Workflows: make(map[workflow.State]int)}

	for _, state := range []workflow.State{
		workflow.StateCreated, workflow.StateRunning, workflow.StateStalled,
		workflow.StateCompleted, workflow.StateFailed,
	} {
		recs, err := a.eng.List(ctx, workflow.ListOpts{State: state})
		if err != nil {
			return fmt.Errorf("count %s workflows: %w", state, err)
		}
		resp.Workflows[state] = len(recs)
		resp.Total += len(recs)
	}
	return c.JSON(http.StatusOK, resp)
}
