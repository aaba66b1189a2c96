// Package irys implements archive.Store against an Irys uploader node.
//
// Data items are signed by the uploader, not by the gateway: Upload posts
// raw bytes to {base}/upload and Status reads {base}/tx/{id}/status.
package irys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/archive"
)

var _ archive.Store = (*Client)(nil)

// Client is an HTTP Irys client.
type Client struct {
	base string
	http *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client for the uploader at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: baseURL,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Upload implements archive.Store. Tags are sent as X-Tag-<name> headers.
func (c *Client) Upload(ctx context.Context, data []byte, tags map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("irys: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range tags {
		req.Header.Set("X-Tag-"+k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", gateway.Operational(gateway.CodeNetwork, "irys upload", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "upload"); err != nil {
		return "", err
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", gateway.Operational(gateway.CodeUnavailable, "irys upload: decode response", err)
	}
	if out.ID == "" {
		return "", gateway.Operational(gateway.CodeUnavailable, "irys upload: empty id", nil)
	}
	return out.ID, nil
}

// Status implements archive.Store.
func (c *Client) Status(ctx context.Context, uploadID string) (archive.Status, error) {
	u := c.base + "/tx/" + url.PathEscape(uploadID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("irys: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", gateway.Operational(gateway.CodeNetwork, "irys status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", archive.ErrUnknownUpload
	}
	if err := checkStatus(resp, "status"); err != nil {
		return "", err
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", gateway.Operational(gateway.CodeUnavailable, "irys status: decode response", err)
	}
	switch out.Status {
	case "CONFIRMED", "FINALIZED":
		return archive.StatusConfirmed, nil
	case "FAILED", "DROPPED":
		return archive.StatusFailed, nil
	default:
		return archive.StatusPending, nil
	}
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("irys %s: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return gateway.Operational(gateway.CodeInsufficientFunds, msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return gateway.Operational(gateway.CodeRateLimited, msg, nil)
	case resp.StatusCode >= 500:
		return gateway.Operational(gateway.CodeUnavailable, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gateway.BusinessRule(gateway.CodeUnauthorized, msg, nil)
	default:
		return gateway.BusinessRule(gateway.CodeInvalidInput, msg, nil)
	}
}
