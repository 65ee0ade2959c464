package acquisition

import (
	"time"

	"github.com/halyard/halyard/internal/download"
	"github.com/halyard/halyard/internal/importer"
)

// Config collects the pipeline tunables.
type Config struct {
	PollInterval           time.Duration          `json:"pollInterval"`
	StalledThreshold       time.Duration          `json:"stalledThreshold"`
	Seeding                download.SeedingConfig `json:"seeding"`
	AutoBlockAfter         int                    `json:"autoBlockAfter"`
	DeleteOnFail           bool                   `json:"deleteOnFail"`
	SearchAlternative      bool                   `json:"searchAlternative"`
	SampleThresholdBytes   int64                  `json:"sampleThresholdBytes"`
	ImportTimeout          time.Duration          `json:"importTimeout"`
	RecycleBinPath         string                 `json:"recycleBinPath,omitempty"`
	KeepOldFiles           bool                   `json:"keepOldFiles"`
	SplitMultiEpisodeFiles bool                   `json:"splitMultiEpisodeFiles"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:         5 * time.Second,
		StalledThreshold:     6 * time.Hour,
		Seeding:              download.DefaultSeedingConfig(),
		AutoBlockAfter:       3,
		DeleteOnFail:         true,
		SearchAlternative:    true,
		SampleThresholdBytes: importer.DefaultSampleThreshold,
		ImportTimeout:        time.Hour,
	}
}
