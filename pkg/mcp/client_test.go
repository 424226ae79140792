package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bridgeServer(t *testing.T, handler func(method string, params map[string]any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string         `json:"jsonrpc"`
			ID      int64          `json:"id"`
			Method  string         `json:"method"`
			Params  map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)

		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClientNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewClient(Config{}))
	assert.Nil(t, NewClient(Config{URL: "   "}))
}

func TestReadResource(t *testing.T) {
	server := bridgeServer(t, func(method string, params map[string]any) (any, *rpcError) {
		assert.Equal(t, "resources/read", method)
		assert.Equal(t, LawsListURI, params["uri"])
		return resourceResult{Contents: []ContentBlock{
			{Type: "text", Text: "zorgtoeslagwet"},
			{Type: "text", Text: "participatiewet"},
		}}, nil
	})
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	require.NotNil(t, client)

	text, err := ListLaws(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "zorgtoeslagwet\nparticipatiewet", text)
}

func TestCallTool(t *testing.T) {
	server := bridgeServer(t, func(method string, params map[string]any) (any, *rpcError) {
		assert.Equal(t, "tools/call", method)
		assert.Equal(t, EligibilityTool, params["name"])
		args := params["arguments"].(map[string]any)
		assert.Equal(t, "zorgtoeslag", args["service"])
		return toolResult{Content: []ContentBlock{{Type: "text", Text: `{"eligible": true}`}}}, nil
	})
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	text, err := CheckEligibility(context.Background(), client, "zorgtoeslag", "zorgtoeslagwet", map[string]any{"BSN": "123456782"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"eligible": true}`, text)
}

func TestCallToolIsError(t *testing.T) {
	server := bridgeServer(t, func(method string, params map[string]any) (any, *rpcError) {
		return toolResult{
			Content: []ContentBlock{{Type: "text", Text: "unknown service"}},
			IsError: true,
		}, nil
	})
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	_, err := client.CallTool(context.Background(), EligibilityTool, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestRPCError(t *testing.T) {
	server := bridgeServer(t, func(method string, params map[string]any) (any, *rpcError) {
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	})
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	_, err := client.ReadResource(context.Background(), LawsListURI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestBlobFlattening(t *testing.T) {
	text := flattenBlocks([]ContentBlock{
		{Type: "text", Text: "hello"},
		{Type: "blob", Blob: "AAAA", MimeType: "application/pdf"},
	})
	assert.Equal(t, "hello\n[binary content: application/pdf]", text)
}

func TestServerErrorNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "kapot", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	require.NotNil(t, client)

	_, err := ListLaws(context.Background(), client)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "bridge calls are fire-once")
}
