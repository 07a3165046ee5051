// Package firecrawl implements the search and extract clients on top of
// the Firecrawl v1 HTTP API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"scout.app/research/common/logger"
	"scout.app/research/internal/research"
)

const (
	defaultBaseURL = "https://api.firecrawl.dev"
	searchLimit    = 5
)

type Config struct {
	APIKey  string
	BaseURL string
}

// Client talks to Firecrawl. It is stateless and safe for concurrent use;
// failures surface structurally on the response types, never as panics.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"data"`
}

// Search queries the search endpoint. Provider and transport failures come
// back as Success=false; the research loop owns retry policy.
func (c *Client) Search(ctx context.Context, query string) research.SearchResponse {
	var resp searchResponse
	if err := c.post(ctx, "/v1/search", searchRequest{Query: query, Limit: searchLimit}, &resp); err != nil {
		slog.WarnContext(ctx, "firecrawl search failed", "error", err)
		return research.SearchResponse{Error: err.Error()}
	}
	if !resp.Success {
		return research.SearchResponse{Error: resp.Error}
	}

	results := make([]research.SearchResult, 0, len(resp.Data))
	for _, d := range resp.Data {
		results = append(results, research.SearchResult{
			URL:         d.URL,
			Title:       d.Title,
			Description: d.Description,
		})
	}
	return research.SearchResponse{Success: true, Results: results}
}

type extractRequest struct {
	URLs   []string `json:"urls"`
	Prompt string   `json:"prompt"`
}

type extractResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// Extract runs the extraction prompt against one URL. The service returns
// either a single object or a list under data; both are normalized to a
// findings slice, and the requested URL is stamped as every finding's
// source regardless of what the service claims.
func (c *Client) Extract(ctx context.Context, url, prompt string) research.ExtractResponse {
	if url == "" {
		return research.ExtractResponse{Error: "empty url"}
	}

	var resp extractResponse
	if err := c.post(ctx, "/v1/extract", extractRequest{URLs: []string{url}, Prompt: prompt}, &resp); err != nil {
		slog.WarnContext(ctx, "firecrawl extract failed", "url", url, "error", err)
		return research.ExtractResponse{Error: err.Error()}
	}
	if !resp.Success {
		return research.ExtractResponse{Error: resp.Error}
	}

	findings, err := normalizeFindings(resp.Data, url)
	if err != nil {
		return research.ExtractResponse{Error: err.Error()}
	}
	return research.ExtractResponse{Success: true, Findings: findings}
}

// normalizeFindings accepts object-or-array data shapes.
func normalizeFindings(data json.RawMessage, source string) ([]research.Finding, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var one research.Finding
	if err := json.Unmarshal(data, &one); err == nil && one.Text != "" {
		one.Source = source
		return []research.Finding{one}, nil
	}

	var many []research.Finding
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("unexpected data shape: %w", err)
	}
	for i := range many {
		many[i].Source = source
	}
	return many, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("firecrawl request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("firecrawl %s returned %d: %s", path, resp.StatusCode, logger.Truncate(string(raw), 200))
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
