package qbittorrent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/halyard/halyard/internal/downloader/types"
	"github.com/halyard/halyard/internal/testutil"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(types.ClientConfig{
		Name:     "qbt",
		Type:     types.ClientTypeQBittorrent,
		URL:      srv.URL,
		Username: "admin",
		Password: "secret",
	}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, client
}

func loginHandler(t *testing.T, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	if err := r.ParseForm(); err != nil {
		t.Fatalf("parsing login form: %v", err)
	}
	if r.PostFormValue("username") != "admin" || r.PostFormValue("password") != "secret" {
		w.Write([]byte("Fails."))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: "abc123", Path: "/"})
	w.Write([]byte("Ok."))
}

func TestClientKind(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	if client.Kind() != types.KindTorrent {
		t.Errorf("Kind() = %s, want torrent", client.Kind())
	}
	if client.Type() != types.ClientTypeQBittorrent {
		t.Errorf("Type() = %s, want qbittorrent", client.Type())
	}
}

func TestTestLogsInAndFetchesVersion(t *testing.T) {
	var sawVersion atomic.Bool
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			loginHandler(t, w, r)
		case "/api/v2/app/version":
			if c, err := r.Cookie("SID"); err != nil || c.Value != "abc123" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			sawVersion.Store(true)
			w.Write([]byte("v4.6.0"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if err := client.Test(context.Background()); err != nil {
		t.Fatalf("Test() error: %v", err)
	}
	if !sawVersion.Load() {
		t.Error("version endpoint was never called")
	}
}

func TestTestBadCredentials(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Fails."))
	})
	err := client.Test(context.Background())
	if !errors.Is(err, types.ErrAuthFailed) {
		t.Fatalf("Test() error = %v, want ErrAuthFailed", err)
	}
}

func TestListMapsStates(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			loginHandler(t, w, r)
		case "/api/v2/torrents/info":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[
				{"hash":"aaa","name":"Movie.2023.1080p","size":1000,"completed":500,
				 "progress":0.5,"dlspeed":1024,"eta":488,"state":"downloading",
				 "save_path":"/downloads","category":"movies","ratio":0.1,"seeding_time":0},
				{"hash":"bbb","name":"Show.S01E01","size":2000,"completed":2000,
				 "progress":1,"dlspeed":0,"eta":0,"state":"stalledUP",
				 "save_path":"/downloads","category":"tv","ratio":1.5,"seeding_time":3600},
				{"hash":"ccc","name":"Broken","size":100,"completed":0,
				 "progress":0,"dlspeed":0,"eta":0,"state":"missingFiles",
				 "save_path":"/downloads","category":"","ratio":0,"seeding_time":0}
			]`))
		}
	})

	items, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("List() returned %d items, want 3", len(items))
	}

	first := items[0]
	if first.ExternalID != "aaa" || first.Status != types.StatusDownloading {
		t.Errorf("first item = %+v, want hash aaa downloading", first)
	}
	if first.Progress != 50 {
		t.Errorf("Progress = %v, want 50", first.Progress)
	}
	if items[1].Status != types.StatusCompleted {
		t.Errorf("stalledUP mapped to %s, want completed", items[1].Status)
	}
	if items[1].SeedingTime != 3600 || items[1].Ratio != 1.5 {
		t.Errorf("seeding fields not mapped: %+v", items[1])
	}
	if items[2].Status != types.StatusError || items[2].ErrorMessage == "" {
		t.Errorf("missingFiles mapped to %s, want error with message", items[2].Status)
	}
}

func TestMapStateTable(t *testing.T) {
	tests := []struct {
		state string
		want  types.Status
	}{
		{"downloading", types.StatusDownloading},
		{"forcedDL", types.StatusDownloading},
		{"metaDL", types.StatusDownloading},
		{"stalledDL", types.StatusDownloading},
		{"uploading", types.StatusCompleted},
		{"forcedUP", types.StatusCompleted},
		{"stalledUP", types.StatusCompleted},
		// Paused or queued on the seeding side still means the payload
		// is fully downloaded.
		{"pausedUP", types.StatusCompleted},
		{"stoppedUP", types.StatusCompleted},
		{"queuedUP", types.StatusCompleted},
		{"checkingUP", types.StatusCompleted},
		{"pausedDL", types.StatusPaused},
		{"stoppedDL", types.StatusPaused},
		{"queuedDL", types.StatusQueued},
		{"checkingDL", types.StatusQueued},
		{"checkingResumeData", types.StatusQueued},
		{"allocating", types.StatusQueued},
		{"error", types.StatusError},
		{"missingFiles", types.StatusError},
		{"somethingNew", types.StatusUnknown},
	}
	for _, tt := range tests {
		if got := mapState(tt.state); got != tt.want {
			t.Errorf("mapState(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestReloginOn403(t *testing.T) {
	var logins atomic.Int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			logins.Add(1)
			loginHandler(t, w, r)
		case "/api/v2/torrents/info":
			// First attempt is rejected; after re-login it succeeds.
			if logins.Load() == 0 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte(`[]`))
		}
	})

	items, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("List() returned %d items, want 0", len(items))
	}
	if logins.Load() != 1 {
		t.Errorf("login called %d times, want 1", logins.Load())
	}
}

func TestAddTorrentMagnet(t *testing.T) {
	magnet := "magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=test"
	var gotCategory string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			loginHandler(t, w, r)
		case "/api/v2/torrents/add":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parsing add form: %v", err)
			}
			gotCategory = r.PostFormValue("category")
			w.Write([]byte("Ok."))
		}
	})

	id, err := client.AddTorrent(context.Background(), magnet, "movies")
	if err != nil {
		t.Fatalf("AddTorrent() error: %v", err)
	}
	if id != "c12fe1c06bba254a9dc9f519b335aa7c1367a88a" {
		t.Errorf("AddTorrent() id = %q, want lowercase infohash", id)
	}
	if gotCategory != "movies" {
		t.Errorf("category = %q, want movies", gotCategory)
	}
}

func TestAddNZBUnsupported(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := client.AddNZB(context.Background(), "http://indexer/file.nzb", "")
	if !errors.Is(err, types.ErrUnsupportedProtocol) {
		t.Fatalf("AddNZB() error = %v, want ErrUnsupportedProtocol", err)
	}
}

func TestRemoveSendsDeleteFiles(t *testing.T) {
	var gotHashes, gotDelete string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			loginHandler(t, w, r)
		case "/api/v2/torrents/delete":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parsing delete form: %v", err)
			}
			gotHashes = r.PostFormValue("hashes")
			gotDelete = r.PostFormValue("deleteFiles")
			w.Write([]byte("Ok."))
		}
	})

	if err := client.Remove(context.Background(), "aaa", true); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if gotHashes != "aaa" || gotDelete != "true" {
		t.Errorf("Remove sent hashes=%q deleteFiles=%q", gotHashes, gotDelete)
	}
}
