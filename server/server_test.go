package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/ipfs-publish/adapter"
	"github.com/pithecene-io/ipfs-publish/archive"
	"github.com/pithecene-io/ipfs-publish/intake"
	"github.com/pithecene-io/ipfs-publish/iox"
	"github.com/pithecene-io/ipfs-publish/log"
	"github.com/pithecene-io/ipfs-publish/metrics"
	"github.com/pithecene-io/ipfs-publish/publisher"
	"github.com/pithecene-io/ipfs-publish/render"
	"github.com/pithecene-io/ipfs-publish/types"
	"github.com/pithecene-io/ipfs-publish/workspace"
)

// stubPublisher records the staged files it was asked to publish.
type stubPublisher struct {
	result *types.PublishResult
	err    error

	mu     sync.Mutex
	dirs   []string
	staged [][]string
}

func (p *stubPublisher) Publish(_ context.Context, dir string) (*types.PublishResult, error) {
	entries, _ := os.ReadDir(dir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	p.mu.Lock()
	p.dirs = append(p.dirs, dir)
	p.staged = append(p.staged, names)
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []*adapter.UploadPublishedEvent
	err    error
	closed bool
}

func (n *recordingNotifier) Publish(_ context.Context, event *adapter.UploadPublishedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

type fixture struct {
	server     *Server
	workspaces *workspace.Manager
	collector  *metrics.Collector
	logs       *iox.SyncBuffer
}

type fixtureOptions struct {
	tempRoot  string
	retention workspace.RetentionMode
	publisher Publisher
	archiver  Archiver
	notifier  adapter.Adapter
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.tempRoot == "" {
		opts.tempRoot = t.TempDir()
	}
	if opts.publisher == nil {
		opts.publisher = &stubPublisher{result: &types.PublishResult{RemoteHash: "bafyRemote", LocalHash: "bafyLocal"}}
	}

	logs := &iox.SyncBuffer{}
	logger := log.NewLoggerWithWriter(logs)
	collector := metrics.NewCollector()

	ws, err := workspace.NewManager(workspace.Config{
		TempRoot:  opts.tempRoot,
		Retention: opts.retention,
	}, logger, collector)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	srv, err := New(Config{}, Deps{
		Workspaces: ws,
		Intake:     intake.New(nil, intake.Config{}),
		Publisher:  opts.publisher,
		Renderer:   render.New(render.Config{}),
		Archiver:   opts.archiver,
		Notifier:   opts.notifier,
		Logger:     logger,
		Collector:  collector,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	return &fixture{server: srv, workspaces: ws, collector: collector, logs: logs}
}

// uploadBody builds the multipart body of scenario A.
func uploadBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("title", "hello"); err != nil {
		t.Fatal(err)
	}
	fw, err := w.CreateFormFile("upload", "test.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func postUpload(t *testing.T, h http.Handler, body io.Reader, contentType string, wantsJSON bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	if wantsJSON {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return m
}

func workspaceEntries(t *testing.T, ws *workspace.Manager) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(ws.Root())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir failed: %v", err)
	}
	return entries
}

func TestUpload_JSONSuccess(t *testing.T) {
	pub := &stubPublisher{result: &types.PublishResult{RemoteHash: "bafyRemote", LocalHash: "bafyLocal"}}
	f := newFixture(t, fixtureOptions{publisher: pub})

	body, ct := uploadBody(t)
	rec := postUpload(t, f.server, body, ct, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != render.ContentTypeJSON {
		t.Errorf("Content-Type = %q", got)
	}

	m := decodeBody(t, rec)
	if m["success"] != true {
		t.Errorf("success = %v, want true", m["success"])
	}
	fields := m["fields"].([]any)
	if len(fields) != 1 {
		t.Fatalf("fields = %v, want one", fields)
	}
	if pair := fields[0].([]any); pair[0] != "title" || pair[1] != "hello" {
		t.Errorf("fields[0] = %v, want [title hello]", pair)
	}
	files := m["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("files = %v, want one", files)
	}
	file := files[0].([]any)
	if file[0] != "upload" || file[1].(map[string]any)["name"] != "test.txt" {
		t.Errorf("files[0] = %v", file)
	}
	published := m["published"].(map[string]any)
	if published["localHash"] != "bafyLocal" {
		t.Errorf("published = %v", published)
	}

	// The publisher saw the staged file inside the workspace.
	if len(pub.staged) != 1 || len(pub.staged[0]) != 1 || !strings.HasSuffix(pub.staged[0][0], ".txt") {
		t.Errorf("staged at publish time = %v", pub.staged)
	}
	if filepath.Dir(pub.dirs[0]) != f.workspaces.Root() {
		t.Errorf("published dir %s not under %s", pub.dirs[0], f.workspaces.Root())
	}

	snap := f.collector.Snapshot()
	if snap.UploadsStarted != 1 || snap.UploadsSucceeded != 1 || snap.FilesReceived != 1 || snap.FieldsReceived != 1 || snap.BytesReceived != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestUpload_PublishErrorMessage(t *testing.T) {
	pub := &stubPublisher{err: types.NewPublishError("boom", nil)}
	f := newFixture(t, fixtureOptions{publisher: pub})

	body, ct := uploadBody(t)
	rec := postUpload(t, f.server, body, ct, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	m := decodeBody(t, rec)
	if m["error"] != true || m["success"] != false || m["message"] != "boom" {
		t.Errorf("body = %v, want error/boom", m)
	}
	if entries := workspaceEntries(t, f.workspaces); len(entries) != 0 {
		t.Errorf("workspace not released: %d entries remain", len(entries))
	}
	if snap := f.collector.Snapshot(); snap.PublishErrors != 1 || snap.UploadsFailed != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestRouter_FormPrompt(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/"},
		{http.MethodGet, "/missing/page"},
		{http.MethodPut, "/"},
		{http.MethodPost, "/elsewhere"},
		{http.MethodDelete, "/x"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `<form method="post" action="/" enctype="multipart/form-data">`) {
				t.Errorf("missing form markup:\n%s", rec.Body.String())
			}
		})
	}

	if entries := workspaceEntries(t, f.workspaces); len(entries) != 0 {
		t.Errorf("form requests allocated %d workspaces", len(entries))
	}
}

func TestRouter_FormPromptJSON(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	m := decodeBody(t, rec)
	if m["message"] != "Sample usage: curl -X POST -F upload=@file.extension /some/path" {
		t.Errorf("message = %v", m["message"])
	}
	if snap := f.collector.Snapshot(); snap.FormsServed != 1 {
		t.Errorf("FormsServed = %d, want 1", snap.FormsServed)
	}
}

func TestUpload_TruncatedBodyReleasesWorkspace(t *testing.T) {
	pub := &stubPublisher{}
	f := newFixture(t, fixtureOptions{publisher: pub})

	body, ct := uploadBody(t)
	truncated := body.Bytes()[:body.Len()-30]
	rec := postUpload(t, f.server, bytes.NewReader(truncated), ct, false)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	html := rec.Body.String()
	if !strings.Contains(html, "Failed to upload.") || !strings.Contains(html, `<a href="/">Try again</a>`) {
		t.Errorf("unexpected error page:\n%s", html)
	}
	if entries := workspaceEntries(t, f.workspaces); len(entries) != 0 {
		t.Errorf("workspace not released: %d entries remain", len(entries))
	}
	if len(pub.dirs) != 0 {
		t.Error("publisher must not run after a parse error")
	}
	if snap := f.collector.Snapshot(); snap.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", snap.ParseErrors)
	}
}

func TestUpload_FilesystemError(t *testing.T) {
	// A regular file where the temp root should be makes allocation fail.
	root := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(root, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	pub := &stubPublisher{}
	f := newFixture(t, fixtureOptions{tempRoot: root, publisher: pub})

	body, ct := uploadBody(t)
	rec := postUpload(t, f.server, body, ct, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	m := decodeBody(t, rec)
	if m["message"] != "failed to prepare upload directory" {
		t.Errorf("message = %v", m["message"])
	}
	if len(pub.dirs) != 0 {
		t.Error("publisher must not run without a workspace")
	}
	if snap := f.collector.Snapshot(); snap.FilesystemErrors != 1 {
		t.Errorf("FilesystemErrors = %d, want 1", snap.FilesystemErrors)
	}
}

func TestUpload_BackgroundTasks(t *testing.T) {
	store := lode.NewMemory()
	notifier := &recordingNotifier{}
	arch := archive.New(func() (lode.Store, error) { return store, nil }, nil, nil)
	f := newFixture(t, fixtureOptions{
		retention: workspace.RetentionDelete,
		archiver:  arch,
		notifier:  notifier,
	})

	body, ct := uploadBody(t)
	rec := postUpload(t, f.server, body, ct, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if err := f.server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("events = %d, want 1", len(notifier.events))
	}
	event := notifier.events[0]
	if event.EventType != adapter.EventUploadPublished || event.LocalHash != "bafyLocal" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.FileCount != 1 || event.FieldCount != 1 || event.TotalBytes != 2 {
		t.Errorf("unexpected counts: %+v", event)
	}
	if event.GatewayURL != "https://ipfs.io/ipfs/bafyLocal" {
		t.Errorf("GatewayURL = %q", event.GatewayURL)
	}
	if len(event.ArchiveKeys) != 1 || !strings.HasSuffix(event.ArchiveKeys[0], "/token="+event.Token+"/files/test.txt") {
		t.Errorf("ArchiveKeys = %v", event.ArchiveKeys)
	}
	if ok, err := store.Exists(t.Context(), event.ArchiveKeys[0]); err != nil || !ok {
		t.Errorf("archived file missing: ok=%v err=%v", ok, err)
	}
	if !notifier.closed {
		t.Error("notifier not closed")
	}
	if entries := workspaceEntries(t, f.workspaces); len(entries) != 0 {
		t.Errorf("delete retention left %d workspaces", len(entries))
	}
	if snap := f.collector.Snapshot(); snap.NotifySuccess != 1 {
		t.Errorf("NotifySuccess = %d, want 1", snap.NotifySuccess)
	}
}

func TestUpload_NotifyFailureIsCounted(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("downstream unavailable")}
	f := newFixture(t, fixtureOptions{notifier: notifier})

	body, ct := uploadBody(t)
	if rec := postUpload(t, f.server, body, ct, true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	_ = f.server.Close()

	if snap := f.collector.Snapshot(); snap.NotifyFailure != 1 {
		t.Errorf("NotifyFailure = %d, want 1", snap.NotifyFailure)
	}
}

func TestUpload_RetainKeepsWorkspace(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	body, ct := uploadBody(t)
	if rec := postUpload(t, f.server, body, ct, false); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	_ = f.server.Close()

	if entries := workspaceEntries(t, f.workspaces); len(entries) != 1 {
		t.Errorf("retain left %d workspaces, want 1", len(entries))
	}
}

func TestUpload_ConcurrentRequestsGetDistinctWorkspaces(t *testing.T) {
	pub := &stubPublisher{result: &types.PublishResult{RemoteHash: "r", LocalHash: "l"}}
	f := newFixture(t, fixtureOptions{publisher: pub})

	const n = 16
	requests := make([]*http.Request, n)
	for i := range n {
		body, ct := uploadBody(t)
		requests[i] = httptest.NewRequest(http.MethodPost, "/", body)
		requests[i].Header.Set("Content-Type", ct)
	}

	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := requests[i]
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: status = %d", i, code)
		}
	}
	seen := make(map[string]bool)
	for _, dir := range pub.dirs {
		if seen[dir] {
			t.Errorf("workspace %s shared between requests", dir)
		}
		seen[dir] = true
	}
	if len(seen) != n {
		t.Errorf("distinct workspaces = %d, want %d", len(seen), n)
	}
}

func TestUpload_RequestLogging(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))

	logs := f.logs.String()
	for _, want := range []string{`"request received"`, `"request_id"`, `"path":"/about"`, `"method":"GET"`} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %s:\n%s", want, logs)
		}
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func writeFakeIPFS(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "ipfs")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write fake ipfs: %v", err)
	}
	return path
}

func TestEndToEnd_FakeIPFS(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{
			name:       "publishes staged directory",
			script:     "test -d \"$4\" || exit 1\necho bafyRemote\necho bafyLocal\n",
			wantStatus: http.StatusOK,
			wantKey:    "success",
			wantValue:  true,
		},
		{
			name:       "stderr fails the upload",
			script:     "echo boom >&2\nexit 0\n",
			wantStatus: http.StatusBadRequest,
			wantKey:    "message",
			wantValue:  "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := writeFakeIPFS(t, tt.script)
			pub := publisher.New(publisher.Config{Bin: bin, Timeout: 10 * time.Second}, nil, nil)
			f := newFixture(t, fixtureOptions{publisher: pub})

			body, ct := uploadBody(t)
			rec := postUpload(t, f.server, body, ct, true)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if m := decodeBody(t, rec); m[tt.wantKey] != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, m[tt.wantKey], tt.wantValue)
			}
		})
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, listener) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/", listener.Addr()))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
