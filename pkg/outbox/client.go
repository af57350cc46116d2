// Package outbox is a read-only client for the agent backend's outbox API.
// The backend owns the queue; this client lists, exports, imports and purges
// entries for operational tooling.
package outbox

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
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("outbox request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("outbox %s %s: %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// List fetches one page of outbox items, optionally filtered by job ids and
// statuses.
func (c *Client) List(ctx context.Context, page, limit int, jobIDs []string, statuses []ItemStatus) (ListResult, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	for _, id := range jobIDs {
		query.Add("job_id", id)
	}
	for _, s := range statuses {
		query.Add("status", string(s))
	}

	var result ListResult
	if err := c.do(ctx, http.MethodGet, "/outbox/items", query, nil, &result); err != nil {
		return ListResult{}, err
	}
	return result, nil
}

// Export retrieves every outbox item for backup or migration.
func (c *Client) Export(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := c.do(ctx, http.MethodGet, "/outbox/export", nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Import uploads items to the backend. When purge is set, existing entries
// are dropped first.
func (c *Client) Import(ctx context.Context, items []Item, purge bool) error {
	payload := map[string]interface{}{
		"items": items,
		"purge": purge,
	}
	return c.do(ctx, http.MethodPost, "/outbox/import", nil, payload, nil)
}

// Purge removes all items belonging to a job.
func (c *Client) Purge(ctx context.Context, jobID string) error {
	query := url.Values{}
	query.Set("job_id", jobID)
	return c.do(ctx, http.MethodDelete, "/outbox/purge", query, nil, nil)
}
