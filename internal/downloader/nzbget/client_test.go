package nzbget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/halyard/halyard/internal/downloader/types"
	"github.com/halyard/halyard/internal/testutil"
)

type rpcCall struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, call rpcCall)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "nzbget" || pass != "tegbzn" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Fatalf("decoding rpc call: %v", err)
		}
		handler(w, call)
	}))
	t.Cleanup(srv.Close)

	client, err := New(types.ClientConfig{
		Name:     "nzb",
		Type:     types.ClientTypeNZBGet,
		URL:      srv.URL,
		Username: "nzbget",
		Password: "tegbzn",
	}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client
}

func writeResult(w http.ResponseWriter, result string) {
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
}

func TestTestChecksVersion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		if call.Method != "version" {
			t.Errorf("method = %s, want version", call.Method)
		}
		writeResult(w, `"21.1"`)
	})
	if err := client.Test(context.Background()); err != nil {
		t.Fatalf("Test() error: %v", err)
	}
}

func TestBadCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {})
	client.config.Password = "wrong"
	err := client.Test(context.Background())
	if !errors.Is(err, types.ErrAuthFailed) {
		t.Fatalf("Test() error = %v, want ErrAuthFailed", err)
	}
}

func TestListMergesQueueAndHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		switch call.Method {
		case "listgroups":
			writeResult(w, `[
				{"NZBID":10,"NZBName":"Movie.2023.1080p","Status":"DOWNLOADING",
				 "FileSizeMB":8192,"RemainingSizeMB":4096,"DownloadRate":10485760,
				 "Category":"movies","DestDir":"/inter/Movie.2023.1080p"},
				{"NZBID":11,"NZBName":"Show.S01E01","Status":"PAUSED",
				 "FileSizeMB":1024,"RemainingSizeMB":1024,"DownloadRate":0,
				 "Category":"tv","DestDir":""}
			]`)
		case "history":
			writeResult(w, `[
				{"NZBID":8,"Name":"Old.Movie.2020","Status":"SUCCESS/ALL",
				 "FileSizeMB":5120,"Category":"movies","DestDir":"/complete/Old.Movie.2020"},
				{"NZBID":9,"Name":"Bad.Download","Status":"FAILURE/PAR",
				 "FileSizeMB":100,"Category":"movies","DestDir":""}
			]`)
		default:
			t.Errorf("unexpected method %s", call.Method)
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
	if active.ExternalID != "10" || active.Status != types.StatusDownloading {
		t.Errorf("active item = %+v", active)
	}
	if active.Progress != 50 {
		t.Errorf("Progress = %v, want 50", active.Progress)
	}
	if active.ETA != (4096*1024*1024)/10485760 {
		t.Errorf("ETA = %d", active.ETA)
	}
	if items[1].Status != types.StatusPaused {
		t.Errorf("paused item status = %s", items[1].Status)
	}
	if items[2].Status != types.StatusCompleted || items[2].SavePath != "/complete/Old.Movie.2020" {
		t.Errorf("completed item = %+v", items[2])
	}
	if items[3].Status != types.StatusError {
		t.Errorf("failed item status = %s", items[3].Status)
	}
}

func TestAddNZBAppends(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		if call.Method != "append" {
			t.Errorf("method = %s, want append", call.Method)
		}
		if call.Params[1] != "http://indexer/file.nzb" {
			t.Errorf("content param = %v", call.Params[1])
		}
		if call.Params[2] != "movies" {
			t.Errorf("category param = %v", call.Params[2])
		}
		writeResult(w, `42`)
	})

	id, err := client.AddNZB(context.Background(), "http://indexer/file.nzb", "movies")
	if err != nil {
		t.Fatalf("AddNZB() error: %v", err)
	}
	if id != "42" {
		t.Errorf("AddNZB() id = %q, want 42", id)
	}
}

func TestAddNZBRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		writeResult(w, `0`)
	})
	_, err := client.AddNZB(context.Background(), "http://indexer/file.nzb", "")
	if err == nil {
		t.Fatal("AddNZB() succeeded on rejected append, want error")
	}
}

func TestAddTorrentUnsupported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {})
	_, err := client.AddTorrent(context.Background(), "magnet:?xt=urn:btih:abc", "")
	if !errors.Is(err, types.ErrUnsupportedProtocol) {
		t.Fatalf("AddTorrent() error = %v, want ErrUnsupportedProtocol", err)
	}
}

func TestPauseUsesEditQueue(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		if call.Method != "editqueue" {
			t.Errorf("method = %s, want editqueue", call.Method)
		}
		if call.Params[0] != "GroupPause" {
			t.Errorf("command = %v, want GroupPause", call.Params[0])
		}
		writeResult(w, `true`)
	})
	if err := client.Pause(context.Background(), "10"); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
}

func TestRemoveFallsBackToHistory(t *testing.T) {
	var commands []string
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		cmd, _ := call.Params[0].(string)
		commands = append(commands, cmd)
		// Queue delete fails because the job already finished.
		writeResult(w, fmt.Sprintf("%t", cmd == "HistoryFinalDelete"))
	})

	if err := client.Remove(context.Background(), "8", true); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	want := []string{"GroupFinalDelete", "HistoryFinalDelete"}
	if len(commands) != 2 || commands[0] != want[0] || commands[1] != want[1] {
		t.Errorf("Remove sent commands %v, want %v", commands, want)
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, call rpcCall) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	})
	if err := client.Test(context.Background()); err == nil {
		t.Fatal("Test() succeeded on rpc error, want failure")
	}
}
