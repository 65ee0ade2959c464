// Package types defines the shared download client contract.
package types

import (
	"context"
	"errors"
)

// Common errors for download clients.
var (
	// ErrUnsupportedProtocol is returned when an add operation does not
	// match the client's kind. It is permanent; retrying cannot help.
	ErrUnsupportedProtocol = errors.New("unsupported protocol for this client")

	ErrAuthFailed = errors.New("authentication failed")
	ErrNotFound   = errors.New("download not found")
)

// Kind is the protocol family a download client speaks.
type Kind string

const (
	KindTorrent Kind = "torrent"
	KindUsenet  Kind = "usenet"
)

// ClientType identifies the concrete download client implementation.
type ClientType string

const (
	ClientTypeQBittorrent  ClientType = "qbittorrent"
	ClientTypeTransmission ClientType = "transmission"
	ClientTypeSABnzbd      ClientType = "sabnzbd"
	ClientTypeNZBGet       ClientType = "nzbget"
)

// KindForType returns the protocol kind for a client type.
func KindForType(t ClientType) Kind {
	switch t {
	case ClientTypeSABnzbd, ClientTypeNZBGet:
		return KindUsenet
	case ClientTypeQBittorrent, ClientTypeTransmission:
		return KindTorrent
	default:
		return ""
	}
}

// ClientConfig holds connection settings for a download client.
// Password and APIKey arrive already decrypted.
type ClientConfig struct {
	Name     string
	Type     ClientType
	URL      string
	Username string
	Password string
	APIKey   string
	Category string
}

// Status is the normalized state of a download within a client.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusUnknown     Status = "unknown"
)

// DownloadItem is one entry reported by a download client. Ratio and
// SeedingTime are only meaningful for torrent clients.
type DownloadItem struct {
	ExternalID   string  `json:"externalId"`
	Name         string  `json:"name"`
	Status       Status  `json:"status"`
	Progress     float64 `json:"progress"` // 0-100
	Size         int64   `json:"size"`
	Downloaded   int64   `json:"downloaded"`
	Speed        int64   `json:"speed"` // bytes/sec
	ETA          int64   `json:"eta"`   // seconds, -1 if unavailable
	SavePath     string  `json:"savePath"`
	Category     string  `json:"category,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	Ratio        float64 `json:"ratio,omitempty"`
	SeedingTime  int64   `json:"seedingTime,omitempty"` // seconds
}

// Client is the unified download client contract. Adapters hold no
// mutable state beyond transient session tokens, so every request is
// self-contained. An add call that does not match the client's kind
// fails with ErrUnsupportedProtocol.
type Client interface {
	Type() ClientType
	Kind() Kind

	Test(ctx context.Context) error
	List(ctx context.Context) ([]DownloadItem, error)

	// AddTorrent submits a magnet link or .torrent URL and returns the
	// client-local ID (typically the info hash).
	AddTorrent(ctx context.Context, urlOrMagnet, category string) (string, error)

	// AddNZB submits an NZB URL and returns the client-local ID.
	AddNZB(ctx context.Context, url, category string) (string, error)

	Pause(ctx context.Context, externalID string) error
	Resume(ctx context.Context, externalID string) error
	Remove(ctx context.Context, externalID string, deleteFiles bool) error
}
