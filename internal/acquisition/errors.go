package acquisition

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

// Rejection reasons form a closed vocabulary. They appear in download
// events and import_block_reason for UI rendering.
const (
	ReasonNoValidVideo        = "no_valid_video"
	ReasonNotAnUpgrade        = "not_an_upgrade"
	ReasonImportTimeout       = "import_timeout"
	ReasonDisappeared         = "disappeared_from_client"
	ReasonClientError         = "client_error"
	ReasonDestinationGone     = "destination_unavailable"
	ReasonUnsupportedProtocol = "unsupported_protocol"
	ReasonSampleDetected      = "sample_detected"
	ReasonStalledNoProgress   = "stalled_no_progress"
	ReasonImportFailed        = "import_failed"
)

// ErrNoClientAvailable means no enabled download client serves the
// release's protocol.
var ErrNoClientAvailable = errors.New("no enabled download client for protocol")

// blockError marks a pipeline failure as permanent-at-release: the
// download flips to import_blocked instead of failed and the release
// is not blocklisted.
type blockError struct {
	reason string
	err    error
}

func (e *blockError) Error() string {
	if e.err != nil {
		return e.reason + ": " + e.err.Error()
	}
	return e.reason
}

func (e *blockError) Unwrap() error { return e.err }

func blocked(reason string, err error) error {
	return &blockError{reason: reason, err: err}
}

// blockReason extracts the import-block reason from a pipeline error,
// or "" when the failure is permanent-at-source.
func blockReason(err error) string {
	var be *blockError
	if errors.As(err, &be) {
		return be.reason
	}
	return ""
}

// IsTransient reports whether an error is worth retrying: timeouts,
// temporary network faults, 5xx responses and database contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused", "connection reset", "no such host",
		"status 5", "server error", "database is locked", "SQLITE_BUSY",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn under the transient-retry policy: exponential
// backoff from 1s capped at 30s, at most 5 attempts, only for
// transient errors.
func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
	)
}
