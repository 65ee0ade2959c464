package quality

import (
	"strings"

	"github.com/halyard/halyard/internal/parser"
)

// Profile is a user-defined quality policy. Empty allow-lists mean
// everything is allowed for that attribute.
type Profile struct {
	ID               int64           `yaml:"-" json:"id"`
	Name             string          `yaml:"name" json:"name"`
	AllowedTiers     []Tier          `yaml:"allowed_tiers" json:"allowedTiers"`
	CutoffTier       Tier            `yaml:"cutoff_tier" json:"cutoffTier"`
	AllowedSources   []parser.Source `yaml:"allowed_sources" json:"allowedSources"`
	AllowedCodecs    []string        `yaml:"allowed_codecs" json:"allowedCodecs"`
	MinSizePerMinute int64           `yaml:"min_size_per_minute" json:"minSizePerMinute"`
	MaxSizePerMinute int64           `yaml:"max_size_per_minute" json:"maxSizePerMinute"`
	GroupAllowList   []string        `yaml:"group_allow_list" json:"groupAllowList"`
	GroupDenyList    []string        `yaml:"group_deny_list" json:"groupDenyList"`
	CustomFormats    []CustomFormat  `yaml:"custom_formats" json:"customFormats"`
}

// DefaultProfile allows every tier, source and codec with a 1080p cutoff.
func DefaultProfile() *Profile {
	return &Profile{
		Name:       "default",
		CutoffTier: Tier1080p,
	}
}

// TierAllowed reports whether the tier passes the profile's allow-list.
func (p *Profile) TierAllowed(t Tier) bool {
	if len(p.AllowedTiers) == 0 {
		return true
	}
	for _, allowed := range p.AllowedTiers {
		if allowed == t {
			return true
		}
	}
	return false
}

// SourceAllowed reports whether the source passes the profile's allow-list.
func (p *Profile) SourceAllowed(s parser.Source) bool {
	if len(p.AllowedSources) == 0 {
		return true
	}
	for _, allowed := range p.AllowedSources {
		if allowed == s {
			return true
		}
	}
	return false
}

// CodecAllowed reports whether the codec passes the profile's allow-list.
// Releases without a recognized codec are always allowed.
func (p *Profile) CodecAllowed(codec string) bool {
	if len(p.AllowedCodecs) == 0 || codec == "" {
		return true
	}
	for _, allowed := range p.AllowedCodecs {
		if strings.EqualFold(allowed, codec) {
			return true
		}
	}
	return false
}

// GroupDenied reports whether the release group is on the deny-list.
func (p *Profile) GroupDenied(group string) bool {
	if group == "" {
		return false
	}
	for _, denied := range p.GroupDenyList {
		if strings.EqualFold(denied, group) {
			return true
		}
	}
	return false
}

// GroupAllowed reports whether the release group is on the allow-list.
// Unlike the deny-list this is a bonus, not a filter.
func (p *Profile) GroupAllowed(group string) bool {
	if group == "" {
		return false
	}
	for _, allowed := range p.GroupAllowList {
		if strings.EqualFold(allowed, group) {
			return true
		}
	}
	return false
}
