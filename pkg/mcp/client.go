// Package mcp implements a minimal JSON-RPC 2.0 client for the rule
// execution bridge. The bridge exposes machine-readable law lists as
// resources and eligibility checks as tools.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kletsmajoor/klets/pkg/httpclient"
)

const defaultTimeout = 30 * time.Second

// Config configures the bridge client.
type Config struct {
	// URL is the JSON-RPC endpoint. Empty means no bridge is configured.
	URL string `yaml:"url"`

	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

// Client speaks JSON-RPC 2.0 over HTTP to the bridge.
type Client struct {
	url    string
	client *httpclient.Client
	nextID atomic.Int64
}

// NewClient creates a bridge client. Returns nil if no URL is configured;
// callers treat a nil client as "bridge not available".
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	cfg.SetDefaults()
	return &Client{
		url: cfg.URL,
		client: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithRetryStrategy(func(int) httpclient.RetryStrategy {
				return httpclient.NoRetry
			}),
		),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// ContentBlock is one piece of a bridge result. Text blocks carry text,
// blob blocks carry base64 payloads we render as-is.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type resourceResult struct {
	Contents []ContentBlock `json:"contents"`
}

type toolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	// The HTTP client can return both a response and an error for non-2xx
	// status codes; close the body in every case.
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read bridge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode bridge result: %w", err)
		}
	}
	return nil
}

// ReadResource fetches a resource by URI and returns its flattened text.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	slog.Debug("reading bridge resource", "uri", uri)

	var result resourceResult
	if err := c.call(ctx, "resources/read", map[string]any{"uri": uri}, &result); err != nil {
		return "", err
	}
	return flattenBlocks(result.Contents), nil
}

// CallTool invokes a bridge tool and returns its flattened text output.
// A result marked isError is returned as an error so callers degrade the
// same way they do for transport failures.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	slog.Debug("calling bridge tool", "tool", name)

	var result toolResult
	if err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": arguments}, &result); err != nil {
		return "", err
	}
	text := flattenBlocks(result.Content)
	if result.IsError {
		return "", fmt.Errorf("bridge tool %s failed: %s", name, text)
	}
	return text, nil
}

func flattenBlocks(blocks []ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		switch {
		case block.Text != "":
			parts = append(parts, block.Text)
		case block.Blob != "":
			parts = append(parts, fmt.Sprintf("[binary content: %s]", block.MimeType))
		}
	}
	return strings.Join(parts, "\n")
}
