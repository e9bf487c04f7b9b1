package extract

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chartdesk/chartdesk/internal/chart"
)

// MockClient is a Client for testing. Responses are served from Queue in
// call order, falling back to Rows when the queue is exhausted.
type MockClient struct {
	Rows  []chart.Row
	Queue [][]chart.Row
	Err   error
	// FailAfter fails every call after N successful ones (0 = never).
	FailAfter int

	mu       sync.Mutex
	calls    int
	requests []Request
}

var (
	_ Client = (*MockClient)(nil)
	_ Client = (*OpenRouterClient)(nil)
)

// Name returns the client identifier.
func (c *MockClient) Name() string { return "mock" }

// Extract returns the next configured response.
func (c *MockClient) Extract(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	call := c.calls
	c.calls++
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	if c.Err != nil && (c.FailAfter == 0 || call >= c.FailAfter) {
		return nil, c.Err
	}

	rows := c.Rows
	if call < len(c.Queue) {
		rows = c.Queue[call]
	}

	raw, _ := json.Marshal(map[string]any{"rows": rows})
	return &Result{
		Rows:    rows,
		Model:   req.Model,
		RawJSON: raw,
	}, nil
}

// Calls returns how many times Extract was invoked.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Requests returns a copy of every request seen so far.
func (c *MockClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}
