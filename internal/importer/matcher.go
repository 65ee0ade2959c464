package importer

import (
	"path/filepath"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/halyard/halyard/internal/parser"
)

// Match confidences and the fuzzy-title acceptance threshold.
const (
	positionConfidence  = 0.95
	titleConfidence     = 0.70
	similarityThreshold = 0.70
)

// Episode is the candidate record the matcher resolves files against.
type Episode struct {
	ID            int64
	SeasonNumber  int
	EpisodeNumber int
	Title         string
}

// EpisodeMatch binds one file to one episode record.
type EpisodeMatch struct {
	File          string  `json:"file"`
	EpisodeID     int64   `json:"episodeId"`
	SeasonNumber  int     `json:"seasonNumber"`
	EpisodeNumber int     `json:"episodeNumber"`
	Confidence    float64 `json:"confidence"`
}

// MatchResult separates matched files from those the caller must
// surface for manual handling.
type MatchResult struct {
	Matches   []EpisodeMatch `json:"matches"`
	Unmatched []string       `json:"unmatched"`
}

// MatchEpisodes assigns each file to an episode. seasonHint restricts
// the candidate pool when the files came from a declared season pack;
// pass 0 for no restriction.
//
// Position matches (SxxEyy parsed from the filename, exactly one
// episode at that position) win with confidence 0.95. Otherwise a
// non-empty episode title appearing in the filename, or fuzzy-matching
// it, gives confidence 0.70.
func MatchEpisodes(files []string, episodes []Episode, seasonHint int) MatchResult {
	pool := episodes
	if seasonHint > 0 {
		pool = nil
		for _, ep := range episodes {
			if ep.SeasonNumber == seasonHint {
				pool = append(pool, ep)
			}
		}
	}

	var result MatchResult
	for _, file := range files {
		if m, ok := matchFile(file, pool); ok {
			result.Matches = append(result.Matches, m)
		} else {
			result.Unmatched = append(result.Unmatched, file)
		}
	}
	return result
}

func matchFile(file string, pool []Episode) (EpisodeMatch, bool) {
	parsed := parser.Parse(filepath.Base(file))

	if parsed.Season > 0 && parsed.Episode > 0 {
		var found *Episode
		count := 0
		for i := range pool {
			ep := &pool[i]
			if ep.SeasonNumber == parsed.Season && ep.EpisodeNumber == parsed.Episode {
				found = ep
				count++
			}
		}
		if count == 1 {
			return EpisodeMatch{
				File:          file,
				EpisodeID:     found.ID,
				SeasonNumber:  found.SeasonNumber,
				EpisodeNumber: found.EpisodeNumber,
				Confidence:    positionConfidence,
			}, true
		}
	}

	name := normalizeForMatch(filepath.Base(file))
	for i := range pool {
		ep := &pool[i]
		if ep.Title == "" {
			continue
		}
		title := normalizeForMatch(ep.Title)
		if strings.Contains(name, title) || titleSimilarity(name, title) >= similarityThreshold {
			return EpisodeMatch{
				File:          file,
				EpisodeID:     ep.ID,
				SeasonNumber:  ep.SeasonNumber,
				EpisodeNumber: ep.EpisodeNumber,
				Confidence:    titleConfidence,
			}, true
		}
	}
	return EpisodeMatch{}, false
}

// titleSimilarity compares an episode title against the filename's
// parsed title portion.
func titleSimilarity(name, title string) float64 {
	parsedTitle := normalizeForMatch(parser.Parse(name).Title)
	if parsedTitle == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(parsedTitle, title, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}

func normalizeForMatch(s string) string {
	s = strings.TrimSuffix(s, filepath.Ext(s))
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
