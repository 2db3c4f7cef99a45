// Package client talks to a talehopper server over HTTP. Client satisfies
// session.Generator, so a terminal or other front end can drive a
// session.Controller against a remote story service.
package client

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talehopper/pkg/schema"
)

const DefaultBaseURL = "http://localhost:8000"

// TransportError reports a request that did not produce a usable response.
// StatusCode is zero when the server was never reached.
type TransportError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cmp.Or(baseURL, DefaultBaseURL), "/"),
		http:    &http.Client{Timeout: cmp.Or(timeout, 60*time.Second)},
	}
}

// Generate posts req to /story/generate.
func (c *Client) Generate(ctx context.Context, req schema.StoryRequest) (schema.StoryResponse, error) {
	var resp schema.StoryResponse
	if err := c.post(ctx, "generate story", "/story/generate", req, &resp); err != nil {
		return schema.StoryResponse{}, err
	}
	if resp.History == nil {
		resp.History = []string{}
	}
	if resp.Choices == nil {
		resp.Choices = []string{}
	}
	return resp, nil
}

func (c *Client) SendFeedback(ctx context.Context, fb schema.Feedback) (schema.FeedbackResponse, error) {
	var resp schema.FeedbackResponse
	err := c.post(ctx, "send feedback", "/feedback", fb, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Detail: detail(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// detail extracts the error message of a JSON error body, either
// {"detail": "..."} or echo's {"message": "..."}.
func detail(data []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) != nil {
		return strings.TrimSpace(string(data))
	}
	if s, ok := body.Detail.(string); ok && s != "" {
		return s
	}
	if body.Message != "" {
		return body.Message
	}
	if body.Detail != nil {
		b, _ := json.Marshal(body.Detail)
		return string(b)
	}
	return ""
}
