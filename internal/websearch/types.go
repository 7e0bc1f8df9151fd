package websearch

import "strings"

const (
	ProviderBrave   = "brave"
	ProviderSerpAPI = "serpapi"
)

type SearchRequest struct {
	Query string
	Count int
}

func (r SearchRequest) Normalize() SearchRequest {
	out := r
	out.Query = strings.TrimSpace(out.Query)
	if out.Count <= 0 {
		out.Count = 10
	}
	if out.Count > 20 {
		out.Count = 20
	}
	return out
}

type ResultItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type SearchResult struct {
	Provider string       `json:"provider"`
	Query    string       `json:"query"`
	Results  []ResultItem `json:"results"`
}
