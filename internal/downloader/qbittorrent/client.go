// Package qbittorrent implements a qBittorrent Web API v2 client.
package qbittorrent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/downloader/types"
)

const requestTimeout = 30 * time.Second

// Client talks to qBittorrent's Web API. Authentication uses a session
// cookie obtained from /auth/login; on a 403 the client logs in again
// and retries the request once.
type Client struct {
	config     types.ClientConfig
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ types.Client = (*Client)(nil)

// New creates a qBittorrent client. The config URL is the Web UI base,
// e.g. http://localhost:8080.
func New(cfg types.ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qbittorrent: url is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: creating cookie jar: %w", err)
	}
	return &Client{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.URL, "/") + "/api/v2",
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		logger: logger.With().Str("component", "qbittorrent").Str("client", cfg.Name).Logger(),
	}, nil
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeQBittorrent
}

func (c *Client) Kind() types.Kind {
	return types.KindTorrent
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		"username": {c.config.Username},
		"password": {c.config.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return fmt.Errorf("%w: qbittorrent rejected credentials", types.ErrAuthFailed)
	}
	return nil
}

// do performs an authenticated API request. The session cookie lives
// in the client's jar; a 403 response triggers one re-login and retry.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	body, status, err := c.doOnce(ctx, method, path, form)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		c.logger.Debug().Str("path", path).Msg("session expired, logging in again")
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.doOnce(ctx, method, path, form)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("qbittorrent returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var reqBody io.Reader
	endpoint := c.baseURL + path
	if form != nil {
		if method == http.MethodGet {
			endpoint += "?" + form.Encode()
		} else {
			reqBody = strings.NewReader(form.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Test logs in and fetches the application version.
func (c *Client) Test(ctx context.Context) error {
	if err := c.login(ctx); err != nil {
		return err
	}
	body, err := c.do(ctx, http.MethodGet, "/app/version", nil)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("version", strings.TrimSpace(string(body))).Msg("qbittorrent reachable")
	return nil
}

// torrentInfo is the wire format of /torrents/info entries.
type torrentInfo struct {
	Hash        string  `json:"hash"`
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	Completed   int64   `json:"completed"`
	Progress    float64 `json:"progress"` // 0-1
	DLSpeed     int64   `json:"dlspeed"`
	ETA         int64   `json:"eta"`
	State       string  `json:"state"`
	SavePath    string  `json:"save_path"`
	Category    string  `json:"category"`
	Ratio       float64 `json:"ratio"`
	SeedingTime int64   `json:"seeding_time"`
}

func (c *Client) List(ctx context.Context) ([]types.DownloadItem, error) {
	form := url.Values{}
	if c.config.Category != "" {
		form.Set("category", c.config.Category)
	}
	body, err := c.do(ctx, http.MethodGet, "/torrents/info", form)
	if err != nil {
		return nil, fmt.Errorf("listing torrents: %w", err)
	}

	var torrents []torrentInfo
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("parsing torrent list: %w", err)
	}

	items := make([]types.DownloadItem, 0, len(torrents))
	for _, t := range torrents {
		item := types.DownloadItem{
			ExternalID:  t.Hash,
			Name:        t.Name,
			Status:      mapState(t.State),
			Progress:    t.Progress * 100,
			Size:        t.Size,
			Downloaded:  t.Completed,
			Speed:       t.DLSpeed,
			ETA:         t.ETA,
			SavePath:    t.SavePath,
			Category:    t.Category,
			Ratio:       t.Ratio,
			SeedingTime: t.SeedingTime,
		}
		if item.Status == types.StatusError {
			item.ErrorMessage = "qbittorrent reported state " + t.State
		}
		items = append(items, item)
	}
	return items, nil
}

// mapState normalizes qBittorrent's torrent states. Every *UP state
// means the payload is fully on disk, so paused/queued/checking
// seeding states report completed and the import can proceed.
func mapState(state string) types.Status {
	switch state {
	case "downloading", "forcedDL", "metaDL", "stalledDL":
		return types.StatusDownloading
	case "uploading", "forcedUP", "stalledUP", "pausedUP", "stoppedUP", "queuedUP", "checkingUP":
		return types.StatusCompleted
	case "pausedDL", "stoppedDL":
		return types.StatusPaused
	case "queuedDL", "checkingDL", "checkingResumeData", "allocating":
		return types.StatusQueued
	case "error", "missingFiles":
		return types.StatusError
	default:
		return types.StatusUnknown
	}
}

// AddTorrent submits a magnet link or torrent URL. qBittorrent does
// not return the hash, so for magnets it is extracted from the link;
// for URLs the torrent is located by diffing the list before and after.
func (c *Client) AddTorrent(ctx context.Context, urlOrMagnet, category string) (string, error) {
	if category == "" {
		category = c.config.Category
	}

	var before map[string]struct{}
	hash := hashFromMagnet(urlOrMagnet)
	if hash == "" {
		existing, err := c.List(ctx)
		if err != nil {
			return "", err
		}
		before = make(map[string]struct{}, len(existing))
		for _, item := range existing {
			before[item.ExternalID] = struct{}{}
		}
	}

	form := url.Values{"urls": {urlOrMagnet}}
	if category != "" {
		form.Set("category", category)
	}
	if _, err := c.do(ctx, http.MethodPost, "/torrents/add", form); err != nil {
		return "", fmt.Errorf("adding torrent: %w", err)
	}
	if hash != "" {
		return hash, nil
	}

	// The add endpoint is asynchronous; poll briefly for the new hash.
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		items, err := c.List(ctx)
		if err != nil {
			return "", err
		}
		for _, item := range items {
			if _, ok := before[item.ExternalID]; !ok {
				return item.ExternalID, nil
			}
		}
	}
	return "", fmt.Errorf("torrent was added but its hash could not be determined")
}

func hashFromMagnet(link string) string {
	if !strings.HasPrefix(link, "magnet:") {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if h, ok := strings.CutPrefix(xt, "urn:btih:"); ok {
			return strings.ToLower(h)
		}
	}
	return ""
}

func (c *Client) AddNZB(ctx context.Context, nzbURL, category string) (string, error) {
	return "", types.ErrUnsupportedProtocol
}

func (c *Client) Pause(ctx context.Context, externalID string) error {
	_, err := c.do(ctx, http.MethodPost, "/torrents/pause", url.Values{"hashes": {externalID}})
	if err != nil {
		return fmt.Errorf("pausing torrent: %w", err)
	}
	return nil
}

func (c *Client) Resume(ctx context.Context, externalID string) error {
	_, err := c.do(ctx, http.MethodPost, "/torrents/resume", url.Values{"hashes": {externalID}})
	if err != nil {
		return fmt.Errorf("resuming torrent: %w", err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, externalID string, deleteFiles bool) error {
	form := url.Values{
		"hashes":      {externalID},
		"deleteFiles": {strconv.FormatBool(deleteFiles)},
	}
	if _, err := c.do(ctx, http.MethodPost, "/torrents/delete", form); err != nil {
		return fmt.Errorf("removing torrent: %w", err)
	}
	return nil
}
