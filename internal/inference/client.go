// Package inference talks to the streaming chat endpoint of the backend.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultFunction  = "chat"
	streamingTimeout = 300 * time.Second
	maxErrorBody     = 512
)

// Client calls the chat-stream action of the backend function.
type Client struct {
	anonKey    string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the function named function (DefaultFunction
// when empty) served under baseURL/functions/v1/.
func NewClient(baseURL, anonKey, function string) *Client {
	if function == "" {
		function = DefaultFunction
	}
	return &Client{
		anonKey:  anonKey,
		endpoint: strings.TrimRight(baseURL, "/") + "/functions/v1/" + function,
		// Streams are bounded by the request context, not a client timeout.
		httpClient: &http.Client{},
	}
}

// NewClientWithEndpoint creates a client posting to an exact URL (for
// testing).
func NewClientWithEndpoint(anonKey, endpoint string) *Client {
	return &Client{anonKey: anonKey, endpoint: endpoint, httpClient: &http.Client{}}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// ChatStream posts req and returns the SSE response body. The caller must
// close it. There is no retry: a failed request is reported once.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	req.Action = ActionChatStream
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
}
