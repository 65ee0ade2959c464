// Package types contains shared type definitions for indexer packages.
package types

import (
	"context"
	"time"
)

// Protocol represents the download protocol a release travels over.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// IndexerType represents the type of indexer API.
type IndexerType string

const (
	IndexerTypeTorznab  IndexerType = "torznab"
	IndexerTypeNewznab  IndexerType = "newznab"
	IndexerTypeProwlarr IndexerType = "prowlarr"
)

// Protocol returns the download protocol served by this indexer type.
// Prowlarr proxies both; its results carry their own protocol.
func (t IndexerType) Protocol() Protocol {
	if t == IndexerTypeNewznab {
		return ProtocolUsenet
	}
	return ProtocolTorrent
}

// IndexerDefinition represents a configured indexer.
type IndexerDefinition struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	Type           IndexerType `json:"type"`
	URL            string      `json:"url"`
	APIKey         string      `json:"apiKey,omitempty"`
	Categories     []int       `json:"categories"`
	Priority       int         `json:"priority"`
	Enabled        bool        `json:"enabled"`
	SupportsMovies bool        `json:"supportsMovies"`
	SupportsTV     bool        `json:"supportsTV"`
	SupportsSearch bool        `json:"supportsSearch"`
	SupportsRSS    bool        `json:"supportsRss"`
	CreatedAt      time.Time   `json:"createdAt,omitempty"`
	UpdatedAt      time.Time   `json:"updatedAt,omitempty"`
}

// SearchCriteria defines search parameters.
type SearchCriteria struct {
	Query      string `json:"query,omitempty"`
	Type       string `json:"type"` // search, tvsearch, movie
	Categories []int  `json:"categories,omitempty"`

	// Movie-specific
	ImdbID string `json:"imdbId,omitempty"`
	TmdbID int    `json:"tmdbId,omitempty"`
	Year   int    `json:"year,omitempty"`

	// TV-specific
	TvdbID  int `json:"tvdbId,omitempty"`
	Season  int `json:"season,omitempty"`
	Episode int `json:"episode,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// SearchResult represents a single release returned by an indexer.
// (IndexerID, GUID) is the merge key used during aggregation.
type SearchResult struct {
	Title       string      `json:"title"`
	GUID        string      `json:"guid"`
	Link        string      `json:"link"`
	MagnetLink  string      `json:"magnetLink,omitempty"`
	InfoHash    string      `json:"infoHash,omitempty"`
	Size        int64       `json:"size"`
	Seeders     int         `json:"seeders"`
	Leechers    int         `json:"leechers"`
	IndexerID   int64       `json:"indexerId"`
	IndexerName string      `json:"indexer"`
	IndexerType IndexerType `json:"indexerType"`
	Protocol    Protocol    `json:"protocol"`
	Categories  []int       `json:"categories,omitempty"`
	PublishDate time.Time   `json:"publishDate"`
}

// Capabilities describes what an indexer supports.
type Capabilities struct {
	SupportsMovies    bool              `json:"supportsMovies"`
	SupportsTV        bool              `json:"supportsTV"`
	SupportsSearch    bool              `json:"supportsSearch"`
	SupportsRSS       bool              `json:"supportsRss"`
	SearchParams      []string          `json:"searchParams"`
	TvSearchParams    []string          `json:"tvSearchParams"`
	MovieSearchParams []string          `json:"movieSearchParams"`
	Categories        []CategoryMapping `json:"categories"`
}

// CategoryMapping maps indexer categories to standard Newznab categories.
type CategoryMapping struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Indexer is the unified adapter contract. Adapters are stateless per
// call; every method honors the context deadline.
type Indexer interface {
	Test(ctx context.Context) error
	Capabilities(ctx context.Context) (*Capabilities, error)
	Search(ctx context.Context, criteria SearchCriteria) ([]SearchResult, error)
}

// RSSProvider is implemented by adapters that can fetch the latest
// releases without a query.
type RSSProvider interface {
	RSS(ctx context.Context) ([]SearchResult, error)
}
