// Package prowlarr implements the indexer contract against a Prowlarr
// server, which proxies many indexers behind one JSON API.
package prowlarr

import (
	"context"
	"encoding/json"
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

const (
	defaultTimeout = 30 * time.Second
	apiKeyHeader   = "X-Api-Key"
)

// Client talks to a Prowlarr server's v1 REST API.
type Client struct {
	def        types.IndexerDefinition
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Prowlarr client for the given indexer definition.
func NewClient(def types.IndexerDefinition, logger zerolog.Logger) (*Client, error) {
	if def.URL == "" {
		return nil, fmt.Errorf("prowlarr URL is required")
	}
	if def.APIKey == "" {
		return nil, fmt.Errorf("prowlarr API key is required")
	}

	return &Client{
		def:        def,
		baseURL:    strings.TrimSuffix(def.URL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger: logger.With().
			Str("component", "prowlarr").
			Str("indexer", def.Name).
			Logger(),
	}, nil
}

// Test verifies connectivity by fetching system status.
func (c *Client) Test(ctx context.Context) error {
	var status struct {
		Version string `json:"version"`
	}
	if err := c.doJSON(ctx, "/api/v1/system/status", &status); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	c.logger.Debug().Str("version", status.Version).Msg("connection test successful")
	return nil
}

// Capabilities constructs capabilities from known Prowlarr features.
// The REST API has no aggregated caps endpoint.
func (c *Client) Capabilities(ctx context.Context) (*types.Capabilities, error) {
	if err := c.Test(ctx); err != nil {
		return nil, err
	}

	return &types.Capabilities{
		SupportsMovies:    true,
		SupportsTV:        true,
		SupportsSearch:    true,
		SupportsRSS:       false,
		SearchParams:      []string{"q"},
		TvSearchParams:    []string{"q", "season", "ep", "tvdbid"},
		MovieSearchParams: []string{"q", "imdbid", "tmdbid"},
		Categories: []types.CategoryMapping{
			{ID: 2000, Name: "Movies"},
			{ID: 5000, Name: "TV"},
		},
	}, nil
}

// searchResult is the wire shape of one Prowlarr search hit.
type searchResult struct {
	GUID        string `json:"guid"`
	Title       string `json:"title"`
	Size        int64  `json:"size"`
	IndexerID   int    `json:"indexerId"`
	Indexer     string `json:"indexer"`
	PublishDate string `json:"publishDate"`
	DownloadURL string `json:"downloadUrl"`
	MagnetURL   string `json:"magnetUrl"`
	InfoHash    string `json:"infoHash"`
	Seeders     int    `json:"seeders"`
	Leechers    int    `json:"leechers"`
	Protocol    string `json:"protocol"`
	Categories  []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
}

// Search executes a search through Prowlarr's REST API.
func (c *Client) Search(ctx context.Context, criteria types.SearchCriteria) ([]types.SearchResult, error) {
	path := "/api/v1/search?" + buildSearchParams(criteria).Encode()

	var hits []searchResult
	if err := c.doJSON(ctx, path, &hits); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]types.SearchResult, 0, len(hits))
	for i := range hits {
		results = append(results, c.hitToResult(&hits[i]))
	}

	c.logger.Debug().
		Str("query", criteria.Query).
		Int("results", len(results)).
		Msg("search completed")

	return results, nil
}

func (c *Client) hitToResult(hit *searchResult) types.SearchResult {
	protocol := types.ProtocolTorrent
	if hit.Protocol == "usenet" {
		protocol = types.ProtocolUsenet
	}

	result := types.SearchResult{
		Title:       hit.Title,
		GUID:        hit.GUID,
		Link:        hit.DownloadURL,
		MagnetLink:  hit.MagnetURL,
		InfoHash:    hit.InfoHash,
		Size:        hit.Size,
		Seeders:     hit.Seeders,
		Leechers:    hit.Leechers,
		IndexerID:   c.def.ID,
		IndexerName: hit.Indexer,
		IndexerType: types.IndexerTypeProwlarr,
		Protocol:    protocol,
	}
	if result.IndexerName == "" {
		result.IndexerName = c.def.Name
	}
	if t, err := time.Parse(time.RFC3339, hit.PublishDate); err == nil {
		result.PublishDate = t
	}
	for _, cat := range hit.Categories {
		result.Categories = append(result.Categories, cat.ID)
	}
	return result
}

func buildSearchParams(criteria types.SearchCriteria) url.Values {
	params := url.Values{}
	if criteria.Query != "" {
		params.Set("query", criteria.Query)
	}
	switch criteria.Type {
	case "movie":
		params.Set("type", "movie")
	case "tvsearch":
		params.Set("type", "tv")
	default:
		params.Set("type", "search")
	}
	for _, cat := range criteria.Categories {
		params.Add("categories", strconv.Itoa(cat))
	}
	if criteria.Limit > 0 {
		params.Set("limit", strconv.Itoa(criteria.Limit))
	}
	if criteria.Offset > 0 {
		params.Set("offset", strconv.Itoa(criteria.Offset))
	}
	return params
}

func (c *Client) doJSON(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.def.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
