package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/radar-downloader/internal/api"
	"github.com/dgnsrekt/radar-downloader/internal/config"
	"github.com/dgnsrekt/radar-downloader/internal/download"
	"github.com/dgnsrekt/radar-downloader/internal/feed"
	"github.com/dgnsrekt/radar-downloader/internal/staging"
	"github.com/dgnsrekt/radar-downloader/internal/stomp"
)

// broker accepts one STOMP session and publishes bodies after SUBSCRIBE.
type broker struct {
	bodies []string
}

func (b *broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{Subprotocols: []string{feed.Subprotocol}}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var dec stomp.Decoder
	expect := func(command string) bool {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return false
			}
			frames, _ := dec.Feed(msg)
			for _, f := range frames {
				if f.Command == command {
					return true
				}
			}
		}
	}

	if !expect(stomp.CommandConnect) {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, stomp.Encode(stomp.CommandConnected, []stomp.Header{
		{Name: "version", Value: "1.2"},
		{Name: "heart-beat", Value: "10000,10000"},
	}, nil))
	if !expect(stomp.CommandSubscribe) {
		return
	}

	for _, body := range b.bodies {
		_ = conn.WriteMessage(websocket.TextMessage, stomp.Encode(stomp.CommandMessage, []stomp.Header{
			{Name: "destination", Value: feed.DefaultTopic},
		}, []byte(body)))
	}

	// Hold the session open until the client closes it.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// artifactServer resolves every product to <type>/<date>.h5 and serves its bytes.
type artifactServer struct {
	srv      *httptest.Server
	delay    time.Duration
	resolves atomic.Int64
	fetches  atomic.Int64
}

func newArtifactServer(t *testing.T, delay time.Duration) *artifactServer {
	a := &artifactServer{delay: delay}
	mux := http.NewServeMux()
	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		a.resolves.Add(1)
		var req api.ResolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := "2023/11/" + req.ProductType + "_001.h5"
		_ = json.NewEncoder(w).Encode(api.Resolution{Key: key, URL: a.srv.URL + "/files/" + req.ProductType})
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		a.fetches.Add(1)
		time.Sleep(a.delay)
		_, _ = w.Write([]byte("HDF5:" + strings.TrimPrefix(r.URL.Path, "/files/")))
	})
	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func testConfig(feedURL, endpoint, outDir string) *config.Config {
	return &config.Config{
		Feed:     config.FeedConfig{URL: feedURL, Topic: feed.DefaultTopic, BackoffMinSec: 1, BackoffMaxSec: 1},
		API:      config.APIConfig{Endpoint: endpoint, TimeoutSec: 5},
		Products: []string{"VMI", "SRI"},
		Output:   config.OutputConfig{Directory: outDir},
		Download: config.DownloadConfig{Workers: 2, QueueSize: 100},
		Logging:  config.LoggingConfig{Level: "debug"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipeline_EndToEnd(t *testing.T) {
	artifacts := newArtifactServer(t, 0)
	b := &broker{bodies: []string{
		`{"productType":"VMI","time":1700000000000}`,
		`{"productType":"TEMP","time":1700000000000}`,
		`{"productType":"VMI","time":1700000000000}`,
		`not json`,
		`{"productType":"sri","time":1700000000000}`,
	}}
	feedSrv := httptest.NewServer(b)
	defer feedSrv.Close()

	outDir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	p, err := New(testConfig("ws"+strings.TrimPrefix(feedSrv.URL, "http"), artifacts.srv.URL+"/resolve", outDir), logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	waitFor(t, "two downloads", func() bool { return p.Snapshot().Downloads.Downloaded == 2 })

	snap := p.Snapshot()
	if snap.Feed.State != "subscribed" {
		t.Errorf("expected subscribed feed, got %s", snap.Feed.State)
	}
	if snap.Dispatch.Duplicates != 1 || snap.Dispatch.Filtered != 1 || snap.Feed.Malformed != 1 {
		t.Errorf("unexpected counters %+v %+v", snap.Dispatch, snap.Feed)
	}
	if p.Stopping() {
		t.Error("pipeline should not be stopping yet")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil from Run, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !p.Stopping() {
		t.Error("Stopping should report true after shutdown")
	}

	content, err := os.ReadFile(filepath.Join(outDir, "2023", "11", "VMI_001.h5"))
	if err != nil {
		t.Fatalf("expected VMI artifact: %v", err)
	}
	if string(content) != "HDF5:VMI" {
		t.Errorf("unexpected content %q", content)
	}
	if _, err := os.Stat(filepath.Join(outDir, "2023", "11", "SRI_001.h5")); err != nil {
		t.Errorf("expected SRI artifact: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "2023", "11", "TEMP_001.h5")); !os.IsNotExist(err) {
		t.Error("filtered product must not be downloaded")
	}
	if n := artifacts.fetches.Load(); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestPipeline_DrainsQueueOnShutdown(t *testing.T) {
	artifacts := newArtifactServer(t, 30*time.Millisecond)
	outDir := t.TempDir()

	// Nothing listens on the feed URL; the client just keeps backing off.
	p, err := New(testConfig("ws://127.0.0.1:1/ws", artifacts.srv.URL+"/resolve", outDir), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	products := []string{"A1", "A2", "A3", "A4", "A5", "A6"}
	for i, prod := range products {
		if !p.queue.TryEnqueue(download.Job{ProductType: prod, TimestampMs: int64(i)}) {
			t.Fatalf("enqueue %s failed", prod)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil from Run, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	if got := p.Snapshot().Downloads.Downloaded; got != int64(len(products)) {
		t.Errorf("every queued job should finish before exit, got %d of %d", got, len(products))
	}
	for _, prod := range products {
		path := filepath.Join(outDir, "2023", "11", prod+"_001.h5")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
		if _, err := os.Stat(path + staging.PartSuffix); !os.IsNotExist(err) {
			t.Errorf("temp file left for %s", prod)
		}
	}
	if p.queue.TryEnqueue(download.Job{ProductType: "VMI"}) {
		t.Error("queue should be closed after shutdown")
	}
}

func TestPipeline_OutputDirFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	p, err := New(testConfig("ws://127.0.0.1:1/ws", "http://127.0.0.1:1/resolve", filepath.Join(blocker, "out")), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Run(ctx); err == nil {
		t.Error("expected error when the output directory cannot be created")
	}
}
