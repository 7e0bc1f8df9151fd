package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const braveWebSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

type braveWebSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (c *Client) braveSearch(ctx context.Context, req SearchRequest) (SearchResult, error) {
	base := c.braveEndpoint
	if base == "" {
		base = braveWebSearchEndpoint
	}
	endpoint, err := url.Parse(base)
	if err != nil || endpoint == nil {
		return SearchResult{}, errors.New("invalid brave search endpoint")
	}
	q := endpoint.Query()
	q.Set("q", req.Query)
	q.Set("count", strconv.Itoa(req.Count))
	endpoint.RawQuery = q.Encode()

	status, body, err := c.fetchJSON(ctx, endpoint.String(), http.Header{
		"X-Subscription-Token": {c.apiKey},
	})
	if err != nil {
		return SearchResult{}, err
	}
	if status < 200 || status >= 300 {
		// Brave returns a readable error body; surface it when present.
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("brave web search failed (status %d)", status)
		}
		return SearchResult{}, errors.New(msg)
	}

	results, err := decodeBraveResponse(body)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{
		Provider: ProviderBrave,
		Query:    req.Query,
		Results:  results,
	}, nil
}

func decodeBraveResponse(body []byte) ([]ResultItem, error) {
	var decoded braveWebSearchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.New("invalid brave web search response")
	}

	results := make([]ResultItem, 0, len(decoded.Web.Results))
	for _, item := range decoded.Web.Results {
		u := strings.TrimSpace(item.URL)
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
			Snippet: strings.TrimSpace(item.Description),
		})
	}
	return results, nil
}
