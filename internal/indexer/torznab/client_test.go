package torznab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/indexer/types"
)

const searchFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>Test Indexer</title>
    <item>
      <title>Movie.2024.1080p.BluRay.x264-GRP</title>
      <guid>https://indexer.test/details/123</guid>
      <link>https://indexer.test/dl/123.torrent</link>
      <size>8589934592</size>
      <pubDate>Sat, 15 Jun 2024 10:22:01 +0000</pubDate>
      <torznab:attr name="seeders" value="42"/>
      <torznab:attr name="peers" value="50"/>
      <torznab:attr name="infohash" value="abc123def456"/>
      <torznab:attr name="category" value="2000"/>
    </item>
    <item>
      <title>Movie.2024.720p.WEB-DL-OTHER</title>
      <guid>https://indexer.test/details/124</guid>
      <enclosure url="https://indexer.test/dl/124.torrent" length="4294967296" type="application/x-bittorrent"/>
      <pubDate>Fri, 14 Jun 2024 08:00:00 +0000</pubDate>
      <torznab:attr name="seeders" value="5"/>
      <torznab:attr name="peers" value="7"/>
    </item>
  </channel>
</rss>`

const capsDoc = `<?xml version="1.0" encoding="UTF-8"?>
<caps>
  <searching>
    <search available="yes" supportedParams="q"/>
    <tv-search available="yes" supportedParams="q,season,ep,tvdbid"/>
    <movie-search available="no" supportedParams=""/>
  </searching>
  <categories>
    <category id="2000" name="Movies"/>
    <category id="5000" name="TV"/>
  </categories>
</caps>`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(types.IndexerDefinition{
		ID:     7,
		Name:   "test",
		Type:   types.IndexerTypeTorznab,
		URL:    server.URL,
		APIKey: "secret",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestSearch(t *testing.T) {
	var gotQuery map[string][]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(searchFeed))
	})

	results, err := client.Search(context.Background(), types.SearchCriteria{
		Query:      "Movie",
		Type:       "movie",
		Categories: []int{2000},
		Limit:      100,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotQuery["t"][0] != "movie" {
		t.Errorf("t param = %q, want movie", gotQuery["t"][0])
	}
	if gotQuery["apikey"][0] != "secret" {
		t.Error("apikey not forwarded")
	}
	if gotQuery["cat"][0] != "2000" {
		t.Errorf("cat param = %q", gotQuery["cat"][0])
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	first := results[0]
	if first.Title != "Movie.2024.1080p.BluRay.x264-GRP" {
		t.Errorf("unexpected title %q", first.Title)
	}
	if first.Size != 8589934592 {
		t.Errorf("size = %d", first.Size)
	}
	if first.Seeders != 42 || first.Leechers != 8 {
		t.Errorf("seeders/leechers = %d/%d, want 42/8", first.Seeders, first.Leechers)
	}
	if first.InfoHash != "abc123def456" {
		t.Errorf("infohash = %q", first.InfoHash)
	}
	if first.Protocol != types.ProtocolTorrent {
		t.Errorf("protocol = %q", first.Protocol)
	}
	if first.IndexerID != 7 || first.IndexerName != "test" {
		t.Errorf("indexer binding = %d/%q", first.IndexerID, first.IndexerName)
	}
	if first.PublishDate.IsZero() {
		t.Error("pubDate not parsed")
	}
	if len(first.Categories) != 1 || first.Categories[0] != 2000 {
		t.Errorf("categories = %v", first.Categories)
	}

	// Second item has no size element; enclosure length is the fallback.
	second := results[1]
	if second.Size != 4294967296 {
		t.Errorf("enclosure size fallback = %d", second.Size)
	}
	if second.Link != "https://indexer.test/dl/124.torrent" {
		t.Errorf("enclosure link fallback = %q", second.Link)
	}
}

func TestCapabilities(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("t") != "caps" {
			http.Error(w, "wrong mode", http.StatusBadRequest)
			return
		}
		w.Write([]byte(capsDoc))
	})

	caps, err := client.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}

	if !caps.SupportsSearch || !caps.SupportsTV {
		t.Error("search/tv support should be true")
	}
	if caps.SupportsMovies {
		t.Error("movie support should be false")
	}
	if len(caps.TvSearchParams) != 4 {
		t.Errorf("tv params = %v", caps.TvSearchParams)
	}
	if len(caps.Categories) != 2 || caps.Categories[0].ID != 2000 {
		t.Errorf("categories = %v", caps.Categories)
	}
}

func TestSearchServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.Search(context.Background(), types.SearchCriteria{Query: "x"}); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(types.IndexerDefinition{Name: "x"}, zerolog.Nop()); err == nil {
		t.Error("expected error for missing URL")
	}
}
