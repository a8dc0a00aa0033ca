package client

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

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/pkg/rpc"
)

// maxResponseSize bounds the body read from the node
const maxResponseSize = 32 << 20

// Request is a GraphQL request body
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
}

// response is the GraphQL response envelope. Data stays raw so large
// integers reach the caller untouched.
type response struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Client executes GraphQL requests against a node over HTTP
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// Config holds client configuration
type Config struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient creates a new GraphQL client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		http:   httpClient,
		logger: logger,
	}, nil
}

// ApplicationURL returns the endpoint of an application on a microchain.
// An empty applicationID addresses the node service itself.
func ApplicationURL(endpoint, chainID, applicationID string) string {
	if applicationID == "" {
		return endpoint
	}
	return strings.TrimRight(endpoint, "/") +
		"/chains/" + url.PathEscape(chainID) +
		"/applications/" + url.PathEscape(applicationID)
}

// Do posts req to endpoint and returns the raw data object.
// GraphQL errors are returned as *rpc.UpstreamError.
func (c *Client) Do(ctx context.Context, endpoint string, req *Request) (json.RawMessage, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: invalid graphql endpoint", rpc.ErrUpstream)
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build graphql request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read graphql response: %w", err)
	}

	c.logger.Debug("graphql request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: http status %d", rpc.ErrUpstream, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: malformed response: %v", rpc.ErrUpstream, err)
	}

	if hasErrors(out.Errors) {
		return nil, &rpc.UpstreamError{Errors: out.Errors}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: http status %d", rpc.ErrUpstream, resp.StatusCode)
	}

	return out.Data, nil
}

// Execute posts req and returns the data entry under the operation's result key
func (c *Client) Execute(ctx context.Context, endpoint string, req *Request) (json.RawMessage, error) {
	op, err := ParseOperation(req.Query, req.OperationName)
	if err != nil {
		return nil, err
	}

	data, err := c.Do(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	return Field(data, op.ResultKey())
}

// Field returns data[key], or JSON null when the key is absent
func Field(data json.RawMessage, key string) (json.RawMessage, error) {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("null"), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: data is not an object: %v", rpc.ErrUpstream, err)
	}
	v, ok := fields[key]
	if !ok {
		return json.RawMessage("null"), nil
	}
	return v, nil
}

func hasErrors(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "[]"
}
