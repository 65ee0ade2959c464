package sabnzbd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/halyard/halyard/internal/downloader/types"
	"github.com/halyard/halyard/internal/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(types.ClientConfig{
		Name:   "sab",
		Type:   types.ClientTypeSABnzbd,
		URL:    srv.URL,
		APIKey: "key123",
	}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client
}

func TestRequiresAPIKey(t *testing.T) {
	_, err := New(types.ClientConfig{URL: "http://localhost:8085"}, testutil.NopLogger())
	if err == nil {
		t.Fatal("New() without api key succeeded, want error")
	}
}

func TestKind(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if client.Kind() != types.KindUsenet {
		t.Errorf("Kind() = %s, want usenet", client.Kind())
	}
}

func TestListMergesQueueAndHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("apikey"); got != "key123" {
			t.Errorf("apikey = %q, want key123", got)
		}
		switch r.URL.Query().Get("mode") {
		case "queue":
			fmt.Fprint(w, `{"queue":{"kbpersec":"1024.0","slots":[
				{"nzo_id":"SABnzbd_nzo_1","filename":"Movie.2023.1080p","status":"Downloading",
				 "percentage":"45","mb":"8192.00","mbleft":"4505.60","timeleft":"0:10:30","cat":"movies"},
				{"nzo_id":"SABnzbd_nzo_2","filename":"Show.S01E01","status":"Paused",
				 "percentage":"0","mb":"1024.00","mbleft":"1024.00","timeleft":"0:00:00","cat":"tv"}
			]}}`)
		case "history":
			fmt.Fprint(w, `{"history":{"slots":[
				{"nzo_id":"SABnzbd_nzo_3","name":"Old.Movie.2020","status":"Completed",
				 "bytes":5368709120,"storage":"/complete/Old.Movie.2020","category":"movies"},
				{"nzo_id":"SABnzbd_nzo_4","name":"Bad.Download","status":"Failed",
				 "bytes":0,"storage":"","fail_message":"unpack failed","category":"movies"}
			]}}`)
		default:
			t.Errorf("unexpected mode %q", r.URL.Query().Get("mode"))
		}
	})

	items, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("List() returned %d items, want 4", len(items))
	}

	active := items[0]
	if active.Status != types.StatusDownloading || active.Progress != 45 {
		t.Errorf("active item = %+v", active)
	}
	if active.Speed != 1024*1024 {
		t.Errorf("Speed = %d, want global rate attributed to downloading item", active.Speed)
	}
	if active.ETA != 630 {
		t.Errorf("ETA = %d, want 630", active.ETA)
	}
	if items[1].Status != types.StatusPaused {
		t.Errorf("paused item status = %s", items[1].Status)
	}
	done := items[2]
	if done.Status != types.StatusCompleted || done.SavePath != "/complete/Old.Movie.2020" {
		t.Errorf("completed item = %+v", done)
	}
	failed := items[3]
	if failed.Status != types.StatusError || failed.ErrorMessage != "unpack failed" {
		t.Errorf("failed item = %+v", failed)
	}
}

func TestAddNZBReturnsID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("mode") != "addurl" {
			t.Errorf("mode = %q, want addurl", q.Get("mode"))
		}
		if q.Get("name") != "http://indexer/file.nzb" {
			t.Errorf("name = %q", q.Get("name"))
		}
		if q.Get("cat") != "movies" {
			t.Errorf("cat = %q, want movies", q.Get("cat"))
		}
		fmt.Fprint(w, `{"status":true,"nzo_ids":["SABnzbd_nzo_9"]}`)
	})

	id, err := client.AddNZB(context.Background(), "http://indexer/file.nzb", "movies")
	if err != nil {
		t.Fatalf("AddNZB() error: %v", err)
	}
	if id != "SABnzbd_nzo_9" {
		t.Errorf("AddNZB() id = %q", id)
	}
}

func TestAddTorrentUnsupported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.AddTorrent(context.Background(), "magnet:?xt=urn:btih:abc", "")
	if !errors.Is(err, types.ErrUnsupportedProtocol) {
		t.Fatalf("AddTorrent() error = %v, want ErrUnsupportedProtocol", err)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":false,"error":"API Key Incorrect"}`)
	})
	err := client.Test(context.Background())
	if err == nil {
		t.Fatal("Test() succeeded on api error, want failure")
	}
}

func TestRemoveDeletesQueueAndHistory(t *testing.T) {
	var modes []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		modes = append(modes, q.Get("mode"))
		if q.Get("name") != "delete" || q.Get("value") != "SABnzbd_nzo_1" {
			t.Errorf("unexpected delete params: %v", q)
		}
		if q.Get("del_files") != "1" {
			t.Errorf("del_files = %q, want 1", q.Get("del_files"))
		}
		fmt.Fprint(w, `{"status":true}`)
	})

	if err := client.Remove(context.Background(), "SABnzbd_nzo_1", true); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if len(modes) != 2 || modes[0] != "queue" || modes[1] != "history" {
		t.Errorf("Remove hit modes %v, want [queue history]", modes)
	}
}
