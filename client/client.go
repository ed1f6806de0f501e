// Package client provides a Go client for a remote slate instance over
// its HTTP API.
//
// A Client is constructed explicitly and carries its own HTTP client
// and configuration; there is no process-global instance.
//
//	c := client.New("https://slate.internal",
//	    client.WithToken("st_..."),
//	)
//
//	r, err := c.Trigger(ctx, "item-42", nil)
//	r, err = c.GetRun(ctx, r.Key)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mo-hossam-stack/slate/journal"
	"github.com/mo-hossam-stack/slate/run"
)

// Client talks to a remote slate server.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithTimeout sets the request timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpc.Timeout = d }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slate client: %d: %s", e.Status, e.Message)
}

// triggerRequest mirrors the server's trigger body.
type triggerRequest struct {
	ItemID      string     `json:"item_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Trigger requests a publication run for an item. Redelivery of a
// trigger for an in-flight run returns the existing run; a completed
// run returns an *APIError with status 409.
func (c *Client) Trigger(ctx context.Context, itemID string, scheduledAt *time.Time) (*run.Run, error) {
	body, err := json.Marshal(triggerRequest{ItemID: itemID, ScheduledAt: scheduledAt})
	if err != nil {
		return nil, fmt.Errorf("slate client: marshal trigger: %w", err)
	}

	var r run.Run
	if err := c.do(ctx, http.MethodPost, "/v1/triggers", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun fetches one run by key.
func (c *Client) GetRun(ctx context.Context, key string) (*run.Run, error) {
	var r run.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(key), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns lists runs matching the given filters.
func (c *Client) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.OwnerID != "" {
		q.Set("owner_id", opts.OwnerID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var body struct {
		Runs []*run.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Runs, nil
}

// ListSteps fetches a run's step ledger.
func (c *Client) ListSteps(ctx context.Context, key string) ([]*run.StepRecord, error) {
	var body struct {
		Steps []*run.StepRecord `json:"steps"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(key)+"/steps", nil, &body); err != nil {
		return nil, err
	}
	return body.Steps, nil
}

// History fetches a run's journal entries.
func (c *Client) History(ctx context.Context, key string) ([]*journal.Entry, error) {
	var body struct {
		Entries []*journal.Entry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(key)+"/history", nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

// do performs one request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("slate client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("slate client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slate client: decode response: %w", err)
	}
	return nil
}
