// Package controller is the HTTP client for the remote process manager that
// runs one block-sync worker per explorer.
package controller

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
	"time"
)

// Process statuses reported by the process manager.
const (
	StatusOnline  = "online"
	StatusStopped = "stopped"
)

// ErrNotFound is returned when the process manager has no process for a slug.
var ErrNotFound = errors.New("process not found")

// Config holds the process manager connection settings.
type Config struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// Process is the state of one sync worker.
type Process struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Stopped reports whether the process exists but is not running.
func (p *Process) Stopped() bool {
	return p != nil && p.Status != StatusOnline
}

// Client calls the process manager API. Every request carries the shared
// secret as a query parameter.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a process manager client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
		log:        slog.Default().With("component", "controller"),
	}
}

type processRequest struct {
	Slug        string `json:"slug"`
	WorkspaceID int64  `json:"workspaceId"`
}

// Start launches a sync worker for slug.
func (c *Client) Start(ctx context.Context, slug string, workspaceID int64) (*Process, error) {
	var p Process
	if err := c.do(ctx, http.MethodPost, "/processes", processRequest{Slug: slug, WorkspaceID: workspaceID}, &p); err != nil {
		return nil, fmt.Errorf("failed to start process %s: %w", slug, err)
	}
	return &p, nil
}

// Find returns the process for slug, or nil when there is none.
func (c *Client) Find(ctx context.Context, slug string) (*Process, error) {
	var p Process
	err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(slug), nil, &p)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find process %s: %w", slug, err)
	}
	return &p, nil
}

// Delete stops and removes the process for slug.
func (c *Client) Delete(ctx context.Context, slug string) error {
	if err := c.do(ctx, http.MethodDelete, "/processes/"+url.PathEscape(slug), nil, nil); err != nil {
		return fmt.Errorf("failed to delete process %s: %w", slug, err)
	}
	return nil
}

// Resume restarts a stopped process.
func (c *Client) Resume(ctx context.Context, slug string, workspaceID int64) (*Process, error) {
	var p Process
	path := "/processes/" + url.PathEscape(slug) + "/resume"
	if err := c.do(ctx, http.MethodPost, path, processRequest{Slug: slug, WorkspaceID: workspaceID}, &p); err != nil {
		return nil, fmt.Errorf("failed to resume process %s: %w", slug, err)
	}
	return &p, nil
}

// Reset deletes and recreates the process for slug.
func (c *Client) Reset(ctx context.Context, slug string, workspaceID int64) (*Process, error) {
	var p Process
	path := "/processes/" + url.PathEscape(slug) + "/reset"
	if err := c.do(ctx, http.MethodPost, path, processRequest{Slug: slug, WorkspaceID: workspaceID}, &p); err != nil {
		return nil, fmt.Errorf("failed to reset process %s: %w", slug, err)
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	c.log.Debug("Process manager call", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}
