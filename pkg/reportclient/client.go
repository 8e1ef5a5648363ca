// Package reportclient is a Go client for the pharmadb report API. It pages
// through distinct data, debounces filter changes and funnels requests
// through a FIFO queue that coalesces identical pending calls.
package reportclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pharmadb/pharmadb/pkg/reportdef"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pharmadb: %d %s", e.StatusCode, e.Message)
}

// Report is a saved report as returned by GET /reports/:uid.
type Report struct {
	UID         string               `json:"uid"`
	Name        string               `json:"name"`
	Description *string              `json:"description,omitempty"`
	Definition  reportdef.Definition `json:"definition"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	queue      *Queue
}

type Option func(*Client)

// WithToken sends token as a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8000/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		queue:      NewQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Queue returns the request queue shared by all calls of this client.
func (c *Client) Queue() *Queue { return c.queue }

// do queues one request. Identical method, path and body share a single
// round trip while pending; out is decoded once per caller.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	key := method + " " + path + " " + string(payload)
	v, err := c.queue.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(v.([]byte), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
			apiErr.Message = msg.Message
		}
		return nil, apiErr
	}
	return data, nil
}

// DistinctPage fetches one page of distinct data.
func (c *Client) DistinctPage(ctx context.Context, req reportdef.DistinctDataRequest) (*reportdef.DistinctDataResponse, error) {
	var resp reportdef.DistinctDataResponse
	if err := c.do(ctx, http.MethodPost, "/reports/distinct-data", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ColumnValues lists the distinct values of one column for filter pickers.
func (c *Client) ColumnValues(ctx context.Context, req reportdef.ColumnValuesRequest) ([]interface{}, error) {
	var resp reportdef.ColumnValuesResponse
	if err := c.do(ctx, http.MethodPost, "/reports/column-values", req, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) GetReport(ctx context.Context, uid string) (*Report, error) {
	var r Report
	if err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(uid), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReportData loads a saved report and returns a loader over its first page.
func (c *Client) ReportData(ctx context.Context, uid string, opts ...LoaderOption) (*DistinctData, error) {
	r, err := c.GetReport(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := r.Definition.Validate(); err != nil {
		return nil, err
	}
	d := NewDistinctData(c, reportdef.BuildDistinctDataRequest(r.Definition, 0), opts...)
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}
