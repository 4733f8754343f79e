// Package httpclient is the small JSON-over-HTTP helper shared by outbound
// service clients.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Doer is the subset of *http.Client the helper needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client sends requests to one base URL with fixed headers.
type Client struct {
	baseURL string
	doer    Doer
	header  http.Header
}

// New builds a client. A nil doer gets an *http.Client with timeout.
func New(baseURL string, doer Doer, timeout time.Duration) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
		header:  http.Header{},
	}
}

// WithHeader adds a header sent on every request.
func (c *Client) WithHeader(key, value string) *Client {
	c.header.Set(key, value)
	return c
}

// Do executes the request and returns status and at most 1 MiB of body.
// A non-nil body is sent as JSON.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	for key, values := range c.header {
		req.Header[key] = append([]string(nil), values...)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
