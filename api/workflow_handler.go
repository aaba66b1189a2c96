package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	gateway "github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/worker"
	"github.com/chaoschain/gateway/workflow"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 4 << 20
)

func (a *API) createWorkflow(t workflow.Type) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
		if err != nil {
			return badRequest(fmt.Sprintf("read body: %v", err))
		}
		if len(body) > maxBodyBytes {
			return &echo.HTTPError{Code: http.StatusRequestEntityTooLarge, Message: ErrorResponse{Error: "request body too large"}}
		}
		if len(body) == 0 || !json.Valid(body) {
			return badRequest("request body must be a JSON object")
		}

		ctx := c.Request().Context()
		rec, err := a.eng.CreateWorkflow(ctx, t, json.RawMessage(body))
		if err != nil {
			return err
		}
		a.schedule(c, rec.ID)
		return c.JSON(http.StatusCreated, rec)
	}
}

// schedule hands wfID to the scheduler. A full or stopped pool leaves the
// record CREATED for the next sweep, so the request still succeeds.
func (a *API) schedule(c echo.Context, wfID id.WorkflowID) {
	if a.sched == nil {
		return
	}
	if err := a.sched.Submit(wfID); err != nil {
		a.logger.Warn("workflow not scheduled",
			slog.String("workflow_id", wfID.String()),
			slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			slog.String("error", err.Error()),
		)
	}
}

func (a *API) getWorkflow(c echo.Context) error {
	wfID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return notFound(fmt.Sprintf("workflow %q not found", c.Param("id")))
	}
	rec, err := a.eng.Get(c.Request().Context(), wfID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (a *API) listWorkflows(c echo.Context) error {
	opts := workflow.ListOpts{
		State:          workflow.State(c.QueryParam("state")),
		Type:           workflow.Type(c.QueryParam("type")),
		Signer:         c.QueryParam("signer"),
		CorrelationKey: c.QueryParam("correlation_key"),
	}
	if opts.State != "" && !opts.State.Valid() {
		return badRequest(fmt.Sprintf("unknown state %q", opts.State))
	}
	switch opts.Type {
	case "", workflow.TypeWorkSubmission, workflow.TypeScoreSubmission, workflow.TypeCloseEpoch:
	default:
		return badRequest(fmt.Sprintf("unknown type %q", opts.Type))
	}

	var err error
	if opts.Limit, err = intParam(c, "limit", defaultListLimit); err != nil {
		return err
	}
	if opts.Offset, err = intParam(c, "offset", 0); err != nil {
		return err
	}
	opts.Limit = min(opts.Limit, maxListLimit)

	recs, err := a.eng.List(c.Request().Context(), opts)
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}
	if recs == nil {
		recs = []*workflow.Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (a *API) resumeWorkflow(c echo.Context) error {
	wfID, err := id.ParseWorkflowID(c.Param("id"))
	if err != nil {
		return notFound(fmt.Sprintf("workflow %q not found", c.Param("id")))
	}
	rec, err := a.eng.Get(c.Request().Context(), wfID)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", gateway.ErrTerminal, wfID, rec.State)
	}
	if a.sched == nil {
		return &echo.HTTPError{Code: http.StatusServiceUnavailable, Message: ErrorResponse{Error: "no worker pool is running"}}
	}
	if err := a.sched.Submit(wfID); err != nil {
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolStopped) {
			return &echo.HTTPError{Code: http.StatusServiceUnavailable, Message: ErrorResponse{Error: err.Error()}, Internal: err}
		}
		return err
	}
	return c.JSON(http.StatusAccepted, rec)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest(fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}
