// Package request defines the outbound collaborator notified as a
// grabbed release moves through its lifecycle. A request-portal or
// notification layer implements it; the acquisition pipeline only
// calls it.
package request

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier receives lifecycle transitions for the originating request
// of a grab. Implementations must tolerate repeated calls for the
// same request.
type Notifier interface {
	// MarkProcessing is called when a release for the request has
	// been handed to a download client.
	MarkProcessing(ctx context.Context, requestID int64) error

	// MarkAvailable is called after a successful import.
	MarkAvailable(ctx context.Context, requestID int64) error

	// MarkFailed is called when acquisition gave up on the release.
	MarkFailed(ctx context.Context, requestID int64, reason string) error
}

// NopNotifier discards all notifications. Used when no request portal
// is wired in.
type NopNotifier struct{}

func (NopNotifier) MarkProcessing(context.Context, int64) error     { return nil }
func (NopNotifier) MarkAvailable(context.Context, int64) error      { return nil }
func (NopNotifier) MarkFailed(context.Context, int64, string) error { return nil }

// LoggingNotifier records transitions to the log. A placeholder
// implementation until a portal consumer is attached.
type LoggingNotifier struct {
	logger zerolog.Logger
}

func NewLoggingNotifier(logger zerolog.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger.With().Str("component", "request-notifier").Logger()}
}

func (n *LoggingNotifier) MarkProcessing(_ context.Context, requestID int64) error {
	n.logger.Info().Int64("request_id", requestID).Msg("Request processing")
	return nil
}

func (n *LoggingNotifier) MarkAvailable(_ context.Context, requestID int64) error {
	n.logger.Info().Int64("request_id", requestID).Msg("Request available")
	return nil
}

func (n *LoggingNotifier) MarkFailed(_ context.Context, requestID int64, reason string) error {
	n.logger.Warn().Int64("request_id", requestID).
		Str("reason", reason).Msg("Request failed")
	return nil
}
