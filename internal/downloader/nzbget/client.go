// Package nzbget implements an NZBGet JSON-RPC client.
package nzbget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/downloader/types"
)

const requestTimeout = 30 * time.Second

// Client talks to NZBGet's JSON-RPC 2.0 endpoint using basic auth.
// Active jobs come from listgroups and finished ones from history;
// List merges both under string NZB IDs.
type Client struct {
	config     types.ClientConfig
	rpcURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ types.Client = (*Client)(nil)

// New creates an NZBGet client. The config URL is the web UI base,
// e.g. http://localhost:6789.
func New(cfg types.ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nzbget: url is required")
	}
	return &Client{
		config:     cfg,
		rpcURL:     strings.TrimRight(cfg.URL, "/") + "/jsonrpc",
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With().Str("component", "nzbget").Str("client", cfg.Name).Logger(),
	}, nil
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeNZBGet
}

func (c *Client) Kind() types.Kind {
	return types.KindUsenet
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: nzbget rejected credentials", types.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nzbget returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading rpc response: %w", err)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("parsing rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("nzbget rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("parsing %s result: %w", method, err)
		}
	}
	return nil
}

// Test calls version to verify connectivity and credentials.
func (c *Client) Test(ctx context.Context) error {
	var version string
	if err := c.call(ctx, "version", nil, &version); err != nil {
		return err
	}
	c.logger.Debug().Str("version", version).Msg("nzbget reachable")
	return nil
}

type group struct {
	NZBID           int    `json:"NZBID"`
	NZBName         string `json:"NZBName"`
	Status          string `json:"Status"`
	FileSizeMB      int64  `json:"FileSizeMB"`
	RemainingSizeMB int64  `json:"RemainingSizeMB"`
	DownloadRate    int64  `json:"DownloadRate"`
	Category        string `json:"Category"`
	DestDir         string `json:"DestDir"`
}

type historyEntry struct {
	NZBID      int    `json:"NZBID"`
	Name       string `json:"Name"`
	Status     string `json:"Status"`
	FileSizeMB int64  `json:"FileSizeMB"`
	Category   string `json:"Category"`
	DestDir    string `json:"DestDir"`
}

func (c *Client) List(ctx context.Context) ([]types.DownloadItem, error) {
	var groups []group
	if err := c.call(ctx, "listgroups", []interface{}{0}, &groups); err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	var entries []historyEntry
	if err := c.call(ctx, "history", []interface{}{false}, &entries); err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	items := make([]types.DownloadItem, 0, len(groups)+len(entries))
	for _, g := range groups {
		size := g.FileSizeMB * 1024 * 1024
		downloaded := (g.FileSizeMB - g.RemainingSizeMB) * 1024 * 1024
		item := types.DownloadItem{
			ExternalID: strconv.Itoa(g.NZBID),
			Name:       g.NZBName,
			Status:     mapGroupStatus(g.Status),
			Size:       size,
			Downloaded: downloaded,
			Speed:      g.DownloadRate,
			Category:   g.Category,
			SavePath:   g.DestDir,
			ETA:        -1,
		}
		if size > 0 {
			item.Progress = float64(downloaded) / float64(size) * 100
		}
		if g.DownloadRate > 0 {
			item.ETA = (size - downloaded) / g.DownloadRate
		}
		items = append(items, item)
	}
	for _, e := range entries {
		item := types.DownloadItem{
			ExternalID: strconv.Itoa(e.NZBID),
			Name:       e.Name,
			Size:       e.FileSizeMB * 1024 * 1024,
			Downloaded: e.FileSizeMB * 1024 * 1024,
			Category:   e.Category,
			SavePath:   e.DestDir,
		}
		// History statuses look like SUCCESS/ALL or FAILURE/PAR.
		switch {
		case strings.HasPrefix(e.Status, "SUCCESS"):
			item.Status = types.StatusCompleted
			item.Progress = 100
		case strings.HasPrefix(e.Status, "FAILURE"), strings.HasPrefix(e.Status, "DELETED"):
			item.Status = types.StatusError
			item.ErrorMessage = "nzbget reported status " + e.Status
		default:
			item.Status = types.StatusUnknown
		}
		items = append(items, item)
	}
	return items, nil
}

func mapGroupStatus(status string) types.Status {
	switch status {
	case "DOWNLOADING", "POSTPROCESSING", "VERIFYING", "REPAIRING", "UNPACKING", "MOVING":
		return types.StatusDownloading
	case "PAUSED":
		return types.StatusPaused
	case "QUEUED", "FETCHING":
		return types.StatusQueued
	default:
		return types.StatusUnknown
	}
}

func (c *Client) AddTorrent(ctx context.Context, urlOrMagnet, category string) (string, error) {
	return "", types.ErrUnsupportedProtocol
}

// AddNZB submits an NZB URL via append and returns the assigned NZB ID.
func (c *Client) AddNZB(ctx context.Context, nzbURL, category string) (string, error) {
	if category == "" {
		category = c.config.Category
	}
	// append(NZBFilename, Content, Category, Priority, AddToTop,
	// AddPaused, DupeKey, DupeScore, DupeMode); Content may be a URL.
	params := []interface{}{"", nzbURL, category, 0, false, false, "", 0, "SCORE"}

	var id int
	if err := c.call(ctx, "append", params, &id); err != nil {
		return "", fmt.Errorf("adding nzb: %w", err)
	}
	if id <= 0 {
		return "", fmt.Errorf("nzbget did not accept the nzb")
	}
	return strconv.Itoa(id), nil
}

func (c *Client) editQueue(ctx context.Context, command, externalID string) error {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return fmt.Errorf("invalid nzb id %q: %w", externalID, err)
	}
	var ok bool
	if err := c.call(ctx, "editqueue", []interface{}{command, "", []int{id}}, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("nzbget rejected %s for id %s", command, externalID)
	}
	return nil
}

func (c *Client) Pause(ctx context.Context, externalID string) error {
	if err := c.editQueue(ctx, "GroupPause", externalID); err != nil {
		return fmt.Errorf("pausing download: %w", err)
	}
	return nil
}

func (c *Client) Resume(ctx context.Context, externalID string) error {
	if err := c.editQueue(ctx, "GroupResume", externalID); err != nil {
		return fmt.Errorf("resuming download: %w", err)
	}
	return nil
}

// Remove deletes the job from the queue, or from history when it has
// already finished. GroupFinalDelete drops downloaded files too.
func (c *Client) Remove(ctx context.Context, externalID string, deleteFiles bool) error {
	command := "GroupDelete"
	if deleteFiles {
		command = "GroupFinalDelete"
	}
	if err := c.editQueue(ctx, command, externalID); err == nil {
		return nil
	}
	histCommand := "HistoryDelete"
	if deleteFiles {
		histCommand = "HistoryFinalDelete"
	}
	if err := c.editQueue(ctx, histCommand, externalID); err != nil {
		return fmt.Errorf("removing download: %w", err)
	}
	return nil
}
