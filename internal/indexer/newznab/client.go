// Package newznab implements the Newznab indexer protocol for usenet
// indexers. The wire format is the same RSS dialect as Torznab with
// NZB-specific attribute names.
package newznab

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/indexer/types"
)

const defaultTimeout = 30 * time.Second

// Client talks to a single Newznab endpoint.
type Client struct {
	def        types.IndexerDefinition
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Newznab client for the given indexer definition.
func NewClient(def types.IndexerDefinition, logger zerolog.Logger) (*Client, error) {
	if def.URL == "" {
		return nil, fmt.Errorf("newznab URL is required")
	}
	if def.APIKey == "" {
		return nil, fmt.Errorf("newznab API key is required")
	}

	return &Client{
		def:        def,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger: logger.With().
			Str("component", "newznab").
			Str("indexer", def.Name).
			Logger(),
	}, nil
}

// Test verifies connectivity by requesting capabilities.
func (c *Client) Test(ctx context.Context) error {
	if _, err := c.Capabilities(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// Capabilities fetches and translates the t=caps document.
func (c *Client) Capabilities(ctx context.Context) (*types.Capabilities, error) {
	params := url.Values{}
	params.Set("t", "caps")
	params.Set("apikey", c.def.APIKey)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var caps types.CapsResponse
	if err := xml.Unmarshal(body, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse caps response: %w", err)
	}

	result := &types.Capabilities{
		SupportsSearch:    caps.Searching.Search.Available == "yes",
		SupportsTV:        caps.Searching.TVSearch.Available == "yes",
		SupportsMovies:    caps.Searching.MovieSearch.Available == "yes",
		SupportsRSS:       true,
		SearchParams:      splitParams(caps.Searching.Search.SupportedParams),
		TvSearchParams:    splitParams(caps.Searching.TVSearch.SupportedParams),
		MovieSearchParams: splitParams(caps.Searching.MovieSearch.SupportedParams),
	}
	for _, cat := range caps.Categories.Categories {
		result.Categories = append(result.Categories, types.CategoryMapping{
			ID:   cat.ID,
			Name: cat.Name,
		})
	}
	return result, nil
}

// Search runs a query and maps the feed to search results.
func (c *Client) Search(ctx context.Context, criteria types.SearchCriteria) ([]types.SearchResult, error) {
	params := c.searchParams(criteria)

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var feed types.Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]types.SearchResult, 0, len(feed.Channel.Items))
	for i := range feed.Channel.Items {
		results = append(results, c.itemToResult(&feed.Channel.Items[i]))
	}

	c.logger.Debug().
		Str("query", criteria.Query).
		Int("results", len(results)).
		Msg("search completed")

	return results, nil
}

// RSS fetches the latest releases without a query.
func (c *Client) RSS(ctx context.Context) ([]types.SearchResult, error) {
	return c.Search(ctx, types.SearchCriteria{Type: "search"})
}

func (c *Client) searchParams(criteria types.SearchCriteria) url.Values {
	params := url.Values{}

	switch criteria.Type {
	case "tvsearch":
		params.Set("t", "tvsearch")
	case "movie":
		params.Set("t", "movie")
	default:
		params.Set("t", "search")
	}

	params.Set("apikey", c.def.APIKey)
	if criteria.Query != "" {
		params.Set("q", criteria.Query)
	}

	cats := criteria.Categories
	if len(cats) == 0 {
		cats = c.def.Categories
	}
	if len(cats) > 0 {
		strs := make([]string, len(cats))
		for i, cat := range cats {
			strs[i] = strconv.Itoa(cat)
		}
		params.Set("cat", strings.Join(strs, ","))
	}

	if criteria.ImdbID != "" {
		params.Set("imdbid", strings.TrimPrefix(criteria.ImdbID, "tt"))
	}
	if criteria.TvdbID > 0 {
		params.Set("tvdbid", strconv.Itoa(criteria.TvdbID))
	}
	if criteria.Season > 0 {
		params.Set("season", strconv.Itoa(criteria.Season))
	}
	if criteria.Episode > 0 {
		params.Set("ep", strconv.Itoa(criteria.Episode))
	}
	if criteria.Limit > 0 {
		params.Set("limit", strconv.Itoa(criteria.Limit))
	}
	if criteria.Offset > 0 {
		params.Set("offset", strconv.Itoa(criteria.Offset))
	}

	// Newznab extended output includes the attr elements.
	params.Set("extended", "1")

	return params
}

func (c *Client) itemToResult(item *types.FeedItem) types.SearchResult {
	result := types.SearchResult{
		Title:       item.Title,
		GUID:        item.GUID,
		Link:        item.Link,
		Size:        item.Size,
		IndexerID:   c.def.ID,
		IndexerName: c.def.Name,
		IndexerType: types.IndexerTypeNewznab,
		Protocol:    types.ProtocolUsenet,
		PublishDate: types.ParsePubDate(item.PubDate),
	}

	if result.Link == "" && item.Enclosure != nil {
		result.Link = item.Enclosure.URL
	}
	if result.Size == 0 {
		if v, err := strconv.ParseInt(item.Attr("size"), 10, 64); err == nil {
			result.Size = v
		} else if item.Enclosure != nil {
			result.Size = item.Enclosure.Length
		}
	}
	if result.GUID == "" {
		result.GUID = item.Attr("guid")
	}

	for _, cat := range item.Attrs {
		if cat.Name == "category" {
			if v, err := strconv.Atoi(cat.Value); err == nil {
				result.Categories = append(result.Categories, v)
			}
		}
	}

	return result
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	reqURL := strings.TrimSuffix(c.def.URL, "/") + "/api?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

func splitParams(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
