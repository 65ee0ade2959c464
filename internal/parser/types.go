// Package parser extracts structured attributes from release title strings.
package parser

// Resolution is the video resolution bucket of a release.
type Resolution int

const (
	ResolutionUnknown Resolution = iota
	Resolution480p
	Resolution720p
	Resolution1080p
	Resolution2160p
)

// String returns the canonical token for the resolution.
func (r Resolution) String() string {
	switch r {
	case Resolution480p:
		return "480p"
	case Resolution720p:
		return "720p"
	case Resolution1080p:
		return "1080p"
	case Resolution2160p:
		return "2160p"
	default:
		return "unknown"
	}
}

// ParseResolution maps a canonical token back to a Resolution.
func ParseResolution(s string) Resolution {
	switch s {
	case "480p":
		return Resolution480p
	case "720p":
		return Resolution720p
	case "1080p":
		return Resolution1080p
	case "2160p":
		return Resolution2160p
	default:
		return ResolutionUnknown
	}
}

// Source is the origin medium of a release.
type Source int

const (
	SourceUnknown Source = iota
	SourceCam
	SourceTelesync
	SourceDVD
	SourceHDTV
	SourceWebRip
	SourceWebDL
	SourceBluray
	SourceRemux
)

// String returns the canonical token for the source.
func (s Source) String() string {
	switch s {
	case SourceCam:
		return "cam"
	case SourceTelesync:
		return "telesync"
	case SourceDVD:
		return "dvd"
	case SourceHDTV:
		return "hdtv"
	case SourceWebRip:
		return "webrip"
	case SourceWebDL:
		return "webdl"
	case SourceBluray:
		return "bluray"
	case SourceRemux:
		return "remux"
	default:
		return "unknown"
	}
}

// ParseSource maps a canonical token back to a Source.
func ParseSource(s string) Source {
	switch s {
	case "cam":
		return SourceCam
	case "telesync":
		return SourceTelesync
	case "dvd":
		return SourceDVD
	case "hdtv":
		return SourceHDTV
	case "webrip":
		return SourceWebRip
	case "webdl":
		return SourceWebDL
	case "bluray":
		return SourceBluray
	case "remux":
		return SourceRemux
	default:
		return SourceUnknown
	}
}

// HDR is the high-dynamic-range format of a release.
type HDR int

const (
	HDRNone HDR = iota
	HDR10
	HDR10Plus
	HDRDolbyVision
)

// String returns the canonical token for the HDR format.
func (h HDR) String() string {
	switch h {
	case HDR10:
		return "hdr10"
	case HDR10Plus:
		return "hdr10+"
	case HDRDolbyVision:
		return "dolby_vision"
	default:
		return "none"
	}
}

// ParseHDR maps a canonical token back to an HDR format.
func ParseHDR(s string) HDR {
	switch s {
	case "hdr10":
		return HDR10
	case "hdr10+":
		return HDR10Plus
	case "dolby_vision":
		return HDRDolbyVision
	default:
		return HDRNone
	}
}

// ParsedRelease contains the attributes extracted from a release title.
// Missing attributes hold their neutral zero values; parsing never fails.
type ParsedRelease struct {
	Title        string     `json:"title"`
	Year         int        `json:"year,omitempty"`
	Season       int        `json:"season,omitempty"`
	Episode      int        `json:"episode,omitempty"`
	EndEpisode   int        `json:"endEpisode,omitempty"` // last episode of a multi-episode release
	IsSeasonPack bool       `json:"isSeasonPack,omitempty"`
	Resolution   Resolution `json:"resolution"`
	Source       Source     `json:"source"`
	Codec        string     `json:"codec,omitempty"`
	AudioFormat  string     `json:"audioFormat,omitempty"`
	HDR          HDR        `json:"hdr"`
	ReleaseGroup string     `json:"releaseGroup,omitempty"`
	Edition      string     `json:"edition,omitempty"`
	IsProper     bool       `json:"isProper,omitempty"`
	IsRepack     bool       `json:"isRepack,omitempty"`
}

// IsTV reports whether the release carries TV numbering.
func (p *ParsedRelease) IsTV() bool {
	return p.Season > 0 || p.IsSeasonPack
}
