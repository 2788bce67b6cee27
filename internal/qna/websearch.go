package qna

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/notemesh/realtime-core/internal/domain"
)

// WebSearchClient implements [WebSearch] against an external search HTTP
// endpoint. It is only invoked after a human has explicitly approved a
// Tier-2 [domain.ToolCallProposal] (§4.9).
type WebSearchClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewWebSearchClient creates a WebSearchClient targeting url, authenticating
// with apiKey as a bearer token when non-empty.
func NewWebSearchClient(url, apiKey string, timeout time.Duration, httpClient *http.Client) *WebSearchClient {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &WebSearchClient{url: url, apiKey: apiKey, httpClient: httpClient}
}

// Compile-time interface assertion.
var _ WebSearch = (*WebSearchClient)(nil)

type searchRequest struct {
	Query string `json:"q"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Search submits query to the configured endpoint and returns each hit as a
// "web" [domain.Citation].
func (c *WebSearchClient) Search(ctx context.Context, query string) ([]domain.Citation, error) {
	body, err := json.Marshal(searchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("qna: encode web search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("qna: build web search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qna: web search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qna: web search endpoint returned status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("qna: decode web search response: %w", err)
	}

	citations := make([]domain.Citation, 0, len(out.Results))
	for _, r := range out.Results {
		citations = append(citations, domain.Citation{
			Type:    "web",
			URI:     r.URL,
			Source:  r.Title,
			Snippet: r.Snippet,
		})
	}
	return citations, nil
}
