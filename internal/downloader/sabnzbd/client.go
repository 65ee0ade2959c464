// Package sabnzbd implements a SABnzbd API client.
package sabnzbd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/downloader/types"
)

const requestTimeout = 30 * time.Second

// Client talks to SABnzbd's JSON API. Every request carries the API
// key, so the client keeps no session state at all. Queue and history
// are separate endpoints and List merges them: completed jobs only
// ever appear in history.
type Client struct {
	config     types.ClientConfig
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ types.Client = (*Client)(nil)

// New creates a SABnzbd client. The config URL is the web UI base,
// e.g. http://localhost:8085.
func New(cfg types.ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sabnzbd: url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sabnzbd: api key is required")
	}
	return &Client{
		config:     cfg,
		apiURL:     strings.TrimRight(cfg.URL, "/") + "/api",
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With().Str("component", "sabnzbd").Str("client", cfg.Name).Logger(),
	}, nil
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeSABnzbd
}

func (c *Client) Kind() types.Kind {
	return types.KindUsenet
}

func (c *Client) call(ctx context.Context, mode string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("mode", mode)
	params.Set("output", "json")
	params.Set("apikey", c.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: sabnzbd rejected the api key", types.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sabnzbd returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	// Errors come back as 200 with {"status": false, "error": "..."}.
	var apiErr struct {
		Status *bool  `json:"status"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Status != nil && !*apiErr.Status {
		return fmt.Errorf("sabnzbd api error: %s", apiErr.Error)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parsing %s response: %w", mode, err)
		}
	}
	return nil
}

// Test fetches the version endpoint.
func (c *Client) Test(ctx context.Context) error {
	var result struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "version", nil, &result); err != nil {
		return err
	}
	c.logger.Debug().Str("version", result.Version).Msg("sabnzbd reachable")
	return nil
}

type queueSlot struct {
	NzoID      string `json:"nzo_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Percentage string `json:"percentage"`
	MB         string `json:"mb"`
	MBLeft     string `json:"mbleft"`
	TimeLeft   string `json:"timeleft"`
	Category   string `json:"cat"`
}

type historySlot struct {
	NzoID       string `json:"nzo_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Bytes       int64  `json:"bytes"`
	Storage     string `json:"storage"`
	Category    string `json:"category"`
	FailMessage string `json:"fail_message"`
}

// List merges the live queue with history so completed and failed jobs
// stay visible after SABnzbd moves them out of the queue.
func (c *Client) List(ctx context.Context) ([]types.DownloadItem, error) {
	var queue struct {
		Queue struct {
			Slots    []queueSlot `json:"slots"`
			KBPerSec string      `json:"kbpersec"`
		} `json:"queue"`
	}
	if err := c.call(ctx, "queue", nil, &queue); err != nil {
		return nil, fmt.Errorf("fetching queue: %w", err)
	}

	var history struct {
		History struct {
			Slots []historySlot `json:"slots"`
		} `json:"history"`
	}
	if err := c.call(ctx, "history", nil, &history); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}

	speed := parseKBPerSec(queue.Queue.KBPerSec)
	items := make([]types.DownloadItem, 0, len(queue.Queue.Slots)+len(history.History.Slots))
	seen := make(map[string]struct{})

	for _, s := range queue.Queue.Slots {
		item := types.DownloadItem{
			ExternalID: s.NzoID,
			Name:       s.Filename,
			Status:     mapQueueStatus(s.Status),
			Progress:   parseFloat(s.Percentage),
			Size:       int64(parseFloat(s.MB) * 1024 * 1024),
			Category:   s.Category,
			ETA:        parseTimeLeft(s.TimeLeft),
		}
		item.Downloaded = item.Size - int64(parseFloat(s.MBLeft)*1024*1024)
		if item.Status == types.StatusDownloading {
			item.Speed = speed
		}
		items = append(items, item)
		seen[s.NzoID] = struct{}{}
	}

	for _, s := range history.History.Slots {
		if _, ok := seen[s.NzoID]; ok {
			continue
		}
		item := types.DownloadItem{
			ExternalID: s.NzoID,
			Name:       s.Name,
			Size:       s.Bytes,
			Downloaded: s.Bytes,
			SavePath:   s.Storage,
			Category:   s.Category,
		}
		switch s.Status {
		case "Completed":
			item.Status = types.StatusCompleted
			item.Progress = 100
		case "Failed":
			item.Status = types.StatusError
			item.ErrorMessage = s.FailMessage
		default:
			// Verifying, Repairing, Extracting: still working.
			item.Status = types.StatusDownloading
		}
		items = append(items, item)
	}
	return items, nil
}

func mapQueueStatus(status string) types.Status {
	switch status {
	case "Downloading":
		return types.StatusDownloading
	case "Paused":
		return types.StatusPaused
	case "Queued", "Grabbing":
		return types.StatusQueued
	default:
		return types.StatusUnknown
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseKBPerSec(s string) int64 {
	return int64(parseFloat(s) * 1024)
}

// parseTimeLeft converts SABnzbd's "H:MM:SS" estimate to seconds.
func parseTimeLeft(s string) int64 {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return -1
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return -1
		}
		total = total*60 + n
	}
	return total
}

func (c *Client) AddTorrent(ctx context.Context, urlOrMagnet, category string) (string, error) {
	return "", types.ErrUnsupportedProtocol
}

// AddNZB submits an NZB URL and returns the assigned nzo_id.
func (c *Client) AddNZB(ctx context.Context, nzbURL, category string) (string, error) {
	if category == "" {
		category = c.config.Category
	}
	params := url.Values{"name": {nzbURL}}
	if category != "" {
		params.Set("cat", category)
	}

	var result struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
	}
	if err := c.call(ctx, "addurl", params, &result); err != nil {
		return "", fmt.Errorf("adding nzb: %w", err)
	}
	if !result.Status || len(result.NzoIDs) == 0 {
		return "", fmt.Errorf("sabnzbd did not accept the nzb")
	}
	return result.NzoIDs[0], nil
}

func (c *Client) Pause(ctx context.Context, externalID string) error {
	params := url.Values{"name": {"pause"}, "value": {externalID}}
	if err := c.call(ctx, "queue", params, nil); err != nil {
		return fmt.Errorf("pausing download: %w", err)
	}
	return nil
}

func (c *Client) Resume(ctx context.Context, externalID string) error {
	params := url.Values{"name": {"resume"}, "value": {externalID}}
	if err := c.call(ctx, "queue", params, nil); err != nil {
		return fmt.Errorf("resuming download: %w", err)
	}
	return nil
}

// Remove deletes the job from the queue and, since completed jobs live
// in history, from history as well.
func (c *Client) Remove(ctx context.Context, externalID string, deleteFiles bool) error {
	delFiles := "0"
	if deleteFiles {
		delFiles = "1"
	}
	queueParams := url.Values{"name": {"delete"}, "value": {externalID}, "del_files": {delFiles}}
	if err := c.call(ctx, "queue", queueParams, nil); err != nil {
		return fmt.Errorf("removing from queue: %w", err)
	}
	histParams := url.Values{"name": {"delete"}, "value": {externalID}, "del_files": {delFiles}}
	if err := c.call(ctx, "history", histParams, nil); err != nil {
		return fmt.Errorf("removing from history: %w", err)
	}
	return nil
}
