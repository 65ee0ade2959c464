// Package transmission implements a Transmission RPC client.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/downloader/types"
)

const (
	requestTimeout = 30 * time.Second
	sessionHeader  = "X-Transmission-Session-Id"
)

// Client talks to Transmission's JSON-RPC endpoint. The CSRF session
// ID is the only state it keeps: a 409 response carries a fresh ID and
// the request is retried once with it.
type Client struct {
	config     types.ClientConfig
	rpcURL     string
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.Mutex
	sessionID string
}

var _ types.Client = (*Client)(nil)

// New creates a Transmission client. The config URL is the daemon base,
// e.g. http://localhost:9091.
func New(cfg types.ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("transmission: url is required")
	}
	return &Client{
		config:     cfg,
		rpcURL:     strings.TrimRight(cfg.URL, "/") + "/transmission/rpc",
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With().Str("component", "transmission").Str("client", cfg.Name).Logger(),
	}, nil
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeTransmission
}

func (c *Client) Kind() types.Kind {
	return types.KindTorrent
}

type rpcRequest struct {
	Method    string      `json:"method"`
	Arguments interface{} `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// call performs an RPC request, handling the 409 session handshake.
func (c *Client) call(ctx context.Context, method string, args interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("encoding rpc request: %w", err)
	}

	resp, err := c.doRequest(ctx, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		c.setSessionID(resp.Header.Get(sessionHeader))
		resp.Body.Close()
		resp, err = c.doRequest(ctx, payload)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: transmission rejected credentials", types.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transmission returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading rpc response: %w", err)
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("parsing rpc response: %w", err)
	}
	if rpcResp.Result != "success" {
		return fmt.Errorf("transmission rpc error: %s", rpcResp.Result)
	}
	if out != nil && len(rpcResp.Arguments) > 0 {
		if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
			return fmt.Errorf("parsing rpc arguments: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := c.getSessionID(); id != "" {
		req.Header.Set(sessionHeader, id)
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) getSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Test fetches the session to verify connectivity and credentials.
func (c *Client) Test(ctx context.Context) error {
	var session struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "session-get", nil, &session); err != nil {
		return err
	}
	c.logger.Debug().Str("version", session.Version).Msg("transmission reachable")
	return nil
}

// torrent is the wire format of torrent-get entries.
type torrent struct {
	HashString     string   `json:"hashString"`
	Name           string   `json:"name"`
	TotalSize      int64    `json:"totalSize"`
	HaveValid      int64    `json:"haveValid"`
	PercentDone    float64  `json:"percentDone"` // 0-1
	RateDownload   int64    `json:"rateDownload"`
	ETA            int64    `json:"eta"`
	Status         int      `json:"status"`
	DownloadDir    string   `json:"downloadDir"`
	UploadRatio    float64  `json:"uploadRatio"`
	SecondsSeeding int64    `json:"secondsSeeding"`
	ErrorString    string   `json:"errorString"`
	Labels         []string `json:"labels"`
}

var torrentFields = []string{
	"hashString", "name", "totalSize", "haveValid", "percentDone",
	"rateDownload", "eta", "status", "downloadDir", "uploadRatio",
	"secondsSeeding", "errorString", "labels",
}

func (c *Client) List(ctx context.Context) ([]types.DownloadItem, error) {
	var result struct {
		Torrents []torrent `json:"torrents"`
	}
	args := map[string]interface{}{"fields": torrentFields}
	if err := c.call(ctx, "torrent-get", args, &result); err != nil {
		return nil, fmt.Errorf("listing torrents: %w", err)
	}

	items := make([]types.DownloadItem, 0, len(result.Torrents))
	for _, t := range result.Torrents {
		item := types.DownloadItem{
			ExternalID:  t.HashString,
			Name:        t.Name,
			Status:      mapStatus(t.Status),
			Progress:    t.PercentDone * 100,
			Size:        t.TotalSize,
			Downloaded:  t.HaveValid,
			Speed:       t.RateDownload,
			ETA:         t.ETA,
			SavePath:    t.DownloadDir,
			Ratio:       t.UploadRatio,
			SeedingTime: t.SecondsSeeding,
		}
		if len(t.Labels) > 0 {
			item.Category = t.Labels[0]
		}
		if t.ErrorString != "" {
			item.Status = types.StatusError
			item.ErrorMessage = t.ErrorString
		}
		items = append(items, item)
	}
	return items, nil
}

// mapStatus normalizes Transmission's numeric torrent status. 5 and 6
// (seed queued, seeding) count as completed since the payload is on
// disk in full.
func mapStatus(status int) types.Status {
	switch status {
	case 0:
		return types.StatusPaused
	case 1, 2, 3:
		return types.StatusQueued
	case 4:
		return types.StatusDownloading
	case 5, 6:
		return types.StatusCompleted
	default:
		return types.StatusUnknown
	}
}

// AddTorrent submits a magnet link or torrent URL and returns the new
// torrent's hash. Duplicate adds resolve to the existing torrent.
func (c *Client) AddTorrent(ctx context.Context, urlOrMagnet, category string) (string, error) {
	if category == "" {
		category = c.config.Category
	}
	args := map[string]interface{}{"filename": urlOrMagnet}
	if category != "" {
		args["labels"] = []string{category}
	}

	var result struct {
		TorrentAdded     *torrent `json:"torrent-added"`
		TorrentDuplicate *torrent `json:"torrent-duplicate"`
	}
	if err := c.call(ctx, "torrent-add", args, &result); err != nil {
		return "", fmt.Errorf("adding torrent: %w", err)
	}
	switch {
	case result.TorrentAdded != nil:
		return result.TorrentAdded.HashString, nil
	case result.TorrentDuplicate != nil:
		return result.TorrentDuplicate.HashString, nil
	}
	return "", fmt.Errorf("transmission did not report the added torrent")
}

func (c *Client) AddNZB(ctx context.Context, nzbURL, category string) (string, error) {
	return "", types.ErrUnsupportedProtocol
}

func (c *Client) Pause(ctx context.Context, externalID string) error {
	args := map[string]interface{}{"ids": []string{externalID}}
	if err := c.call(ctx, "torrent-stop", args, nil); err != nil {
		return fmt.Errorf("pausing torrent: %w", err)
	}
	return nil
}

func (c *Client) Resume(ctx context.Context, externalID string) error {
	args := map[string]interface{}{"ids": []string{externalID}}
	if err := c.call(ctx, "torrent-start", args, nil); err != nil {
		return fmt.Errorf("resuming torrent: %w", err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, externalID string, deleteFiles bool) error {
	args := map[string]interface{}{
		"ids":               []string{externalID},
		"delete-local-data": deleteFiles,
	}
	if err := c.call(ctx, "torrent-remove", args, nil); err != nil {
		return fmt.Errorf("removing torrent: %w", err)
	}
	return nil
}
