package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const serpapiWebSearchEndpoint = "https://serpapi.com/search"

type serpapiResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func (c *Client) serpapiSearch(ctx context.Context, req SearchRequest) (SearchResult, error) {
	base := c.serpapiEndpoint
	if base == "" {
		base = serpapiWebSearchEndpoint
	}
	endpoint, err := url.Parse(base)
	if err != nil || endpoint == nil {
		return SearchResult{}, errors.New("invalid serpapi endpoint")
	}
	q := endpoint.Query()
	q.Set("engine", "google")
	q.Set("q", req.Query)
	q.Set("num", strconv.Itoa(req.Count))
	q.Set("api_key", c.apiKey)
	endpoint.RawQuery = q.Encode()

	status, body, err := c.fetchJSON(ctx, endpoint.String(), nil)
	if err != nil {
		return SearchResult{}, err
	}
	if status < 200 || status >= 300 {
		return SearchResult{}, fmt.Errorf("serpapi search failed (status %d)", status)
	}

	results, err := decodeSerpAPIResponse(body)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{
		Provider: ProviderSerpAPI,
		Query:    req.Query,
		Results:  results,
	}, nil
}

func decodeSerpAPIResponse(body []byte) ([]ResultItem, error) {
	var decoded serpapiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.New("invalid serpapi response")
	}

	results := make([]ResultItem, 0, len(decoded.OrganicResults))
	for _, item := range decoded.OrganicResults {
		u := strings.TrimSpace(item.Link)
		if u == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = u
		}
		results = append(results, ResultItem{
			Title:   title,
			URL:     u,
			Snippet: strings.TrimSpace(item.Snippet),
		})
	}
	return results, nil
}
