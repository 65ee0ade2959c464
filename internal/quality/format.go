package quality

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halyard/halyard/internal/parser"
)

// Condition is a single predicate over a parsed release. Field selects
// the attribute, Value the expected token (a case-insensitive regular
// expression for the title field, an exact token otherwise). Negate
// inverts the result.
type Condition struct {
	Field  string `yaml:"field" json:"field"`
	Value  string `yaml:"value" json:"value"`
	Negate bool   `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// CustomFormat is a named conjunction of conditions carrying a signed
// score. A matching format adds its score to the release's total.
type CustomFormat struct {
	Name       string      `yaml:"name" json:"name"`
	Score      int         `yaml:"score" json:"score"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Matches reports whether every condition holds for the parsed release.
// A format with no conditions matches nothing.
func (f *CustomFormat) Matches(p parser.ParsedRelease) bool {
	if len(f.Conditions) == 0 {
		return false
	}
	for _, c := range f.Conditions {
		if !c.matches(p) {
			return false
		}
	}
	return true
}

func (c *Condition) matches(p parser.ParsedRelease) bool {
	var ok bool
	switch c.Field {
	case "title":
		re, err := regexp.Compile("(?i)" + c.Value)
		if err == nil {
			ok = re.MatchString(p.Title)
		}
	case "resolution":
		ok = strings.EqualFold(p.Resolution.String(), c.Value)
	case "source":
		ok = strings.EqualFold(p.Source.String(), c.Value)
	case "codec":
		ok = strings.EqualFold(p.Codec, c.Value)
	case "audio":
		ok = strings.EqualFold(p.AudioFormat, c.Value)
	case "hdr":
		ok = strings.EqualFold(p.HDR.String(), c.Value)
	case "release_group":
		ok = strings.EqualFold(p.ReleaseGroup, c.Value)
	case "edition":
		ok = strings.EqualFold(p.Edition, c.Value)
	case "proper":
		ok = p.IsProper == (c.Value == "true")
	case "repack":
		ok = p.IsRepack == (c.Value == "true")
	}
	if c.Negate {
		return !ok
	}
	return ok
}

type formatsFile struct {
	Formats []CustomFormat `yaml:"formats"`
}

// LoadFormats reads custom format definitions from a YAML file.
func LoadFormats(path string) ([]CustomFormat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formats file: %w", err)
	}

	var file formatsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse formats file: %w", err)
	}

	for i := range file.Formats {
		if file.Formats[i].Name == "" {
			return nil, fmt.Errorf("format at index %d has no name", i)
		}
	}

	return file.Formats, nil
}
