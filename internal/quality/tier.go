// Package quality scores parsed releases against user-defined quality
// profiles and decides whether a release is acceptable.
package quality

import (
	"github.com/halyard/halyard/internal/parser"
)

// Tier is a totally ordered resolution bucket. Higher is better.
type Tier int

const (
	TierUnknown Tier = iota
	TierSD
	Tier480p
	Tier720p
	Tier1080p
	Tier2160p
)

// String returns the canonical token for the tier.
func (t Tier) String() string {
	switch t {
	case TierSD:
		return "sd"
	case Tier480p:
		return "480p"
	case Tier720p:
		return "720p"
	case Tier1080p:
		return "1080p"
	case Tier2160p:
		return "2160p"
	default:
		return "unknown"
	}
}

// ParseTier maps a canonical token back to a Tier.
func ParseTier(s string) Tier {
	switch s {
	case "sd":
		return TierSD
	case "480p":
		return Tier480p
	case "720p":
		return Tier720p
	case "1080p":
		return Tier1080p
	case "2160p":
		return Tier2160p
	default:
		return TierUnknown
	}
}

// TierFor buckets a parsed release into a Tier. A release with no
// recognized resolution but a known source is standard definition;
// with neither it stays unknown.
func TierFor(p parser.ParsedRelease) Tier {
	switch p.Resolution {
	case parser.Resolution480p:
		return Tier480p
	case parser.Resolution720p:
		return Tier720p
	case parser.Resolution1080p:
		return Tier1080p
	case parser.Resolution2160p:
		return Tier2160p
	}
	if p.Source != parser.SourceUnknown {
		return TierSD
	}
	return TierUnknown
}

// AudioRank orders audio formats as a secondary quality key.
// Unrecognized formats rank zero.
func AudioRank(format string) int {
	switch format {
	case "mp3":
		return 1
	case "aac":
		return 2
	case "ac3":
		return 3
	case "eac3":
		return 4
	case "flac":
		return 5
	case "dts":
		return 6
	case "dtshd":
		return 7
	case "atmos":
		return 8
	case "truehd":
		return 9
	default:
		return 0
	}
}

// SourceRank orders sources within a tier. The parser's Source values
// are already declared in priority order.
func SourceRank(s parser.Source) int {
	return int(s)
}
