package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultCacheTTL    = time.Hour
	searchMaxBodyBytes = 2 << 20 // 2 MiB (defensive)
)

// Client issues web searches against a configured provider and keeps a
// short-lived result cache so that repeated step queries within a session do
// not burn provider quota. A cache miss simply re-issues the request.
type Client struct {
	provider string
	apiKey   string
	cache    *resultCache
	http     *http.Client
	log      *slog.Logger

	// Endpoint overrides for tests; empty means the provider default.
	braveEndpoint   string
	serpapiEndpoint string
}

func NewClient(provider, apiKey string, cacheTTL time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		provider = ProviderBrave
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Client{
		provider: provider,
		apiKey:   strings.TrimSpace(apiKey),
		cache:    newResultCache(cacheTTL),
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if c == nil {
		return SearchResult{}, errors.New("nil websearch client")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.apiKey == "" {
		return SearchResult{}, errors.New("missing web search api key")
	}

	req = req.Normalize()
	if req.Query == "" {
		return SearchResult{}, errors.New("missing query")
	}

	if cached, ok := c.cache.get(req.Query); ok {
		c.log.Debug("websearch cache hit", "query", req.Query)
		return cached, nil
	}

	var (
		res SearchResult
		err error
	)
	switch c.provider {
	case ProviderBrave:
		res, err = c.braveSearch(ctx, req)
	case ProviderSerpAPI:
		res, err = c.serpapiSearch(ctx, req)
	default:
		return SearchResult{}, fmt.Errorf("unsupported web search provider %q", c.provider)
	}
	if err != nil {
		return SearchResult{}, err
	}

	c.cache.put(req.Query, res)
	c.log.Debug("websearch completed", "provider", c.provider, "query", req.Query, "results", len(res.Results))
	return res, nil
}

// fetchJSON issues one provider GET and returns the status plus a bounded
// read of the body. Status interpretation stays with the caller because the
// providers phrase their failures differently.
func (c *Client) fetchJSON(ctx context.Context, endpoint string, header http.Header) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchMaxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
