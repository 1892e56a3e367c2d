// Package search queries the web-search endpoint that the voiceprint
// service also hosts. Results feed the pipeline's context assembly; a failed
// search degrades to answering without context.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/shared/httpclient"
)

// MaxResults caps how many hits a query returns.
const MaxResults = 5

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Client struct {
	cfg    config.SpeakerIDConfig
	client *http.Client
}

// NewClient builds a search client. The endpoint shares the voiceprint
// service's base URL and credentials.
func NewClient(cfg config.SpeakerIDConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: httpclient.NewShort(),
	}
}

// Search runs a query and returns up to MaxResults hits.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	ctx, span := otel.Tracer("clara").Start(ctx, "search.query",
		trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	endpoint := c.cfg.URL + "/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(MaxResults)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search error (status %d): %s", resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, "search service error")
		return nil, err
	}

	var result struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Results) > MaxResults {
		result.Results = result.Results[:MaxResults]
	}
	span.SetAttributes(attribute.Int("search.results", len(result.Results)))
	return result.Results, nil
}
