package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kletsmajoor/klets/pkg/httpclient"
)

// HTTPService talks to the document-retrieval service over JSON/HTTP.
type HTTPService struct {
	baseURL string
	client  *httpclient.Client
}

type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for retrieval service")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPService{
		baseURL: cfg.BaseURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
	}, nil
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Document `json:"results"`
}

func (s *HTTPService) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	payload, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	// The HTTP client can return both a response and an error for non-2xx
	// status codes; close the body in every case.
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return parsed.Results, nil
}
