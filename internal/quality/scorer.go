package quality

import (
	"github.com/halyard/halyard/internal/parser"
)

// Rejection reasons form a closed vocabulary used in API responses and
// event logs.
const (
	RejectTierNotAllowed   = "tier_not_allowed"
	RejectSourceNotAllowed = "source_not_allowed"
	RejectCodecNotAllowed  = "codec_not_allowed"
	RejectGroupDenied      = "release_group_denied"
	RejectSizeBelowMinimum = "size_below_minimum"
	RejectSizeAboveMaximum = "size_above_maximum"
)

// Result is the outcome of scoring one release against a profile.
// A rejected release carries zero scores plus the reasons.
type Result struct {
	Accepted          bool     `json:"accepted"`
	RejectionReasons  []string `json:"rejectionReasons,omitempty"`
	BaseScore         int      `json:"baseScore"`
	CustomFormatScore int      `json:"customFormatScore"`
	TotalScore        int      `json:"totalScore"`
}

// Score evaluates a parsed release against a profile. sizeBytes and
// runtimeMinutes feed the per-minute size constraints; pass zero to
// skip them.
func Score(p parser.ParsedRelease, profile *Profile, sizeBytes int64, runtimeMinutes int) Result {
	tier := TierFor(p)

	var reasons []string
	if !profile.TierAllowed(tier) {
		reasons = append(reasons, RejectTierNotAllowed)
	}
	if !profile.SourceAllowed(p.Source) {
		reasons = append(reasons, RejectSourceNotAllowed)
	}
	if !profile.CodecAllowed(p.Codec) {
		reasons = append(reasons, RejectCodecNotAllowed)
	}
	if profile.GroupDenied(p.ReleaseGroup) {
		reasons = append(reasons, RejectGroupDenied)
	}
	if sizeBytes > 0 && runtimeMinutes > 0 {
		if profile.MinSizePerMinute > 0 && sizeBytes < profile.MinSizePerMinute*int64(runtimeMinutes) {
			reasons = append(reasons, RejectSizeBelowMinimum)
		}
		if profile.MaxSizePerMinute > 0 && sizeBytes > profile.MaxSizePerMinute*int64(runtimeMinutes) {
			reasons = append(reasons, RejectSizeAboveMaximum)
		}
	}
	if len(reasons) > 0 {
		return Result{RejectionReasons: reasons}
	}

	base := int(tier)*1000 + AudioRank(p.AudioFormat)*10
	if p.IsProper {
		base += 5
	}
	if p.IsRepack {
		base += 3
	}
	if profile.GroupAllowed(p.ReleaseGroup) {
		base += 2
	}

	var formats int
	for i := range profile.CustomFormats {
		if profile.CustomFormats[i].Matches(p) {
			formats += profile.CustomFormats[i].Score
		}
	}

	return Result{
		Accepted:          true,
		BaseScore:         base,
		CustomFormatScore: formats,
		TotalScore:        base + formats,
	}
}
