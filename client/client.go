// Package client is a Go client for a remote gatewayd.
//
// Usage:
//
//	c := client.New("http://localhost:8080")
//
//	rec, err := c.CloseEpoch(ctx, workflow.CloseEpochInput{...})
//
//	// Follow the record until it settles.
//	w, err := c.Watch(ctx, stream.WorkflowTopic(rec.ID.String()))
//	defer w.Close()
//	for evt := range w.Events() {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/api"
	"github.com/chaoschain/gateway/dkg"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

// Client talks to the gateway's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: %d: %s", e.Status, e.Message)
}

// Is lets callers test remote errors against the gateway sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case gateway.ErrNotFound:
		return e.Status == http.StatusNotFound
	case gateway.ErrTerminal:
		return e.Status == http.StatusConflict
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er api.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message, apiErr.Code = er.Error, er.Code
		}
		c.logger.Debug("gateway request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("gateway: unhealthy: %q", out.Status)
	}
	return nil
}

// SubmitWork creates a WorkSubmission workflow.
func (c *Client) SubmitWork(ctx context.Context, in workflow.WorkSubmissionInput) (*workflow.Record, error) {
	return c.create(ctx, "/workflows/work-submission", in)
}

// SubmitScore creates a ScoreSubmission workflow.
func (c *Client) SubmitScore(ctx context.Context, in workflow.ScoreSubmissionInput) (*workflow.Record, error) {
	return c.create(ctx, "/workflows/score-submission", in)
}

// CloseEpoch creates a CloseEpoch workflow.
func (c *Client) CloseEpoch(ctx context.Context, in workflow.CloseEpochInput) (*workflow.Record, error) {
	return c.create(ctx, "/workflows/close-epoch", in)
}

func (c *Client) create(ctx context.Context, path string, in any) (*workflow.Record, error) {
	var rec workflow.Record
	if err := c.do(ctx, http.MethodPost, path, in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	var rec workflow.Record
	if err := c.do(ctx, http.MethodGet, "/workflows/"+wfID.String(), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List queries records. Zero fields of opts are not sent.
func (c *Client) List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Record, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Type != "" {
		q.Set("type", string(opts.Type))
	}
	if opts.Signer != "" {
		q.Set("signer", opts.Signer)
	}
	if opts.CorrelationKey != "" {
		q.Set("correlation_key", opts.CorrelationKey)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/workflows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var recs []*workflow.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Resume asks the gateway to drive a STALLED or RUNNING record again.
func (c *Client) Resume(ctx context.Context, wfID id.WorkflowID) (*workflow.Record, error) {
	var rec workflow.Record
	if err := c.do(ctx, http.MethodPost, "/workflows/"+wfID.String()+"/resume", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Stats returns record counts per state.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var out api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ComputeDKG runs the evidence DAG computation remotely. cfg may be nil.
func (c *Client) ComputeDKG(ctx context.Context, evidence []dkg.EvidencePackage, cfg *dkg.Config) (*api.ComputeDKGResponse, error) {
	var out api.ComputeDKGResponse
	if err := c.do(ctx, http.MethodPost, "/dkg/compute", api.ComputeDKGRequest{Evidence: evidence, Config: cfg}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool { return errors.Is(err, gateway.ErrNotFound) }
