// Package download tracks the lifecycle of grabbed releases from
// queue to import, backed by a durable store and an append-only
// event log.
package download

import (
	"errors"
	"time"

	"github.com/halyard/halyard/internal/parser"
)

var (
	ErrNotFound          = errors.New("tracked download not found")
	ErrAlreadyExists     = errors.New("tracked download already exists")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is the lifecycle state of a tracked download.
type State string

const (
	StateQueued        State = "queued"
	StateDownloading   State = "downloading"
	StatePaused        State = "paused"
	StateStalled       State = "stalled"
	StateCompleted     State = "completed"
	StateImportPending State = "import_pending"
	StateImporting     State = "importing"
	StateImported      State = "imported"
	StateImportBlocked State = "import_blocked"
	StateFailed        State = "failed"
	StateIgnored       State = "ignored"
)

// transitions is the allowed-transitions table. Imported and ignored
// are terminal; failed may re-enter queued on retry.
var transitions = map[State][]State{
	StateQueued:        {StateDownloading, StateFailed},
	StateDownloading:   {StateCompleted, StatePaused, StateStalled, StateFailed},
	StatePaused:        {StateDownloading, StateFailed},
	StateStalled:       {StateDownloading, StateFailed, StateIgnored},
	StateCompleted:     {StateImportPending},
	StateImportPending: {StateImporting, StateImportBlocked},
	StateImporting:     {StateImported, StateImportBlocked, StateFailed},
	StateImportBlocked: {StateImporting, StateIgnored},
	StateImported:      nil,
	StateFailed:        {StateQueued},
	StateIgnored:       nil,
}

// CanTransition reports whether from → to is a valid FSM edge.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s State) bool {
	return len(transitions[s]) == 0
}

// IsActive reports whether the download still needs client polling.
func IsActive(s State) bool {
	switch s {
	case StateQueued, StateDownloading, StatePaused, StateStalled:
		return true
	default:
		return false
	}
}

// TrackedDownload is one grabbed release being shepherded through the
// download and import lifecycle.
type TrackedDownload struct {
	ID                int64                 `json:"id"`
	DownloadClientID  int64                 `json:"downloadClientId"`
	ExternalID        string                `json:"externalId"`
	RequestID         *int64                `json:"requestId,omitempty"`
	MediaID           *int64                `json:"mediaId,omitempty"`
	MediaType         string                `json:"mediaType,omitempty"`
	State             State                 `json:"state"`
	PreviousState     State                 `json:"previousState,omitempty"`
	StateChangedAt    time.Time             `json:"stateChangedAt"`
	Title             string                `json:"title"`
	ParsedInfo        *parser.ParsedRelease `json:"parsedInfo,omitempty"`
	Size              int64                 `json:"size"`
	Downloaded        int64                 `json:"downloaded"`
	Progress          float64               `json:"progress"`
	Speed             int64                 `json:"speed"`
	ETA               int64                 `json:"eta"`
	Seeders           int                   `json:"seeders"`
	Ratio             float64               `json:"ratio"`
	SeedingTime       int64                 `json:"seedingTime"` // seconds
	DownloadPath      string                `json:"downloadPath,omitempty"`
	ImportPath        string                `json:"importPath,omitempty"`
	Quality           string                `json:"quality,omitempty"`
	CustomFormatScore int                   `json:"customFormatScore"`
	ImportBlockReason string                `json:"importBlockReason,omitempty"`
	Warnings          []string              `json:"warnings"`
	Errors            []string              `json:"errors"`
	GrabbedAt         time.Time             `json:"grabbedAt"`
	CompletedAt       *time.Time            `json:"completedAt,omitempty"`
	ImportedAt        *time.Time            `json:"importedAt,omitempty"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// Event is one append-only log entry for a state transition.
type Event struct {
	ID         int64     `json:"id"`
	DownloadID int64     `json:"downloadId"`
	FromState  State     `json:"fromState,omitempty"`
	ToState    State     `json:"toState"`
	Reason     string    `json:"reason,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ProgressMetrics is the client-reported progress snapshot applied by
// UpdateProgress without a state change.
type ProgressMetrics struct {
	Size         int64
	Downloaded   int64
	Progress     float64
	Speed        int64
	ETA          int64
	Seeders      int
	Ratio        float64
	SeedingTime  int64
	DownloadPath string
}

// SeedingConfig holds the torrent removal thresholds.
type SeedingConfig struct {
	MinRatio    float64
	MinSeedTime time.Duration
	MaxSeedTime time.Duration
}

// DefaultSeedingConfig returns the documented defaults: ratio 1.0,
// minimum 24h, hard cap 7d.
func DefaultSeedingConfig() SeedingConfig {
	return SeedingConfig{
		MinRatio:    1.0,
		MinSeedTime: 24 * time.Hour,
		MaxSeedTime: 7 * 24 * time.Hour,
	}
}

// CanRemoveFromClient reports whether an imported torrent has met its
// seeding obligations: past max seed time unconditionally, or past
// both the ratio floor and the minimum seed time.
func CanRemoveFromClient(td *TrackedDownload, cfg SeedingConfig) bool {
	if td.State != StateImported {
		return false
	}
	seeding := time.Duration(td.SeedingTime) * time.Second
	if seeding >= cfg.MaxSeedTime {
		return true
	}
	return td.Ratio >= cfg.MinRatio && seeding >= cfg.MinSeedTime
}
