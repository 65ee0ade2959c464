package manager

// Progress event types emitted during a fan-out search.
const (
	EventSearchStarted  = "search_started"
	EventIndexerPending = "indexer_pending"
	EventIndexerResult  = "indexer_result"
	EventIndexerFailed  = "indexer_failed"
	EventSearchComplete = "search_complete"
)

// ProgressEvent describes one step of an in-flight search. SearchID
// groups the events of a single Search call.
type ProgressEvent struct {
	SearchID    string `json:"searchId"`
	Type        string `json:"type"`
	Query       string `json:"query,omitempty"`
	IndexerID   int64  `json:"indexerId,omitempty"`
	IndexerName string `json:"indexerName,omitempty"`
	ResultCount int    `json:"resultCount,omitempty"`
	Error       string `json:"error,omitempty"`
	ElapsedMs   int64  `json:"elapsedMs,omitempty"`
}
