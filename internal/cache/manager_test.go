package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/starford/laguz/internal/apperr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// upstream is a counting fake asset origin.
type upstream struct {
	srv    *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	assets map[string]string
}

func newUpstream(t *testing.T, assets map[string]string) *upstream {
	t.Helper()
	u := &upstream{hits: make(map[string]int), assets: assets}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.hits[r.URL.Path]++
		u.mu.Unlock()
		body, ok := u.assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) hitCount(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func writeManifest(t *testing.T, path string, assets []string) {
	t.Helper()
	data, err := yaml.Marshal(Manifest{Assets: assets})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func testManager(t *testing.T, upstreamURL string, assets []string) *Manager {
	t.Helper()
	root := t.TempDir()
	manifest := filepath.Join(t.TempDir(), "precache.yaml")
	writeManifest(t, manifest, assets)

	mgr, err := NewManager(Config{
		Root:         root,
		ManifestPath: manifest,
		Upstream:     upstreamURL,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func staticPartitions(t *testing.T, mgr *Manager) []string {
	t.Helper()
	names, err := ListPartitions(mgr.root)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, staticPrefix) {
			out = append(out, n)
		}
	}
	return out
}

func TestInstallAndActivate(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>", "/app.js": "js"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html", "/app.js"})
	ctx := context.Background()

	if got := mgr.State(); got != StateUninstalled {
		t.Fatalf("initial state = %s", got)
	}
	if err := mgr.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if got := mgr.State(); got != StateWaiting {
		t.Errorf("state after install = %s", got)
	}
	if mgr.Generation() == "" {
		t.Error("generation not set")
	}
	if err := mgr.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := mgr.State(); got != StateActive {
		t.Errorf("state after activate = %s", got)
	}

	snap, err := mgr.Lookup(http.MethodGet, up.srv.URL+"/app.js")
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || string(snap.Body) != "js" {
		t.Errorf("precached asset not servable: %+v", snap)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html", "/missing.js"})

	err := mgr.Install(context.Background())
	if !errors.Is(err, apperr.ErrInstallFailed) {
		t.Fatalf("err = %v, want ErrInstallFailed", err)
	}
	if got := mgr.State(); got != StateUninstalled {
		t.Errorf("state after failed install = %s", got)
	}
	if parts := staticPartitions(t, mgr); len(parts) != 0 {
		t.Errorf("partial static partition left behind: %v", parts)
	}

	// The caller may retry once the asset exists.
	up.mu.Lock()
	up.assets["/missing.js"] = "now present"
	up.mu.Unlock()
	if err := mgr.Install(context.Background()); err != nil {
		t.Fatalf("retry Install: %v", err)
	}
}

func TestActivateDeletesStaleGenerations(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html"})
	ctx := context.Background()

	// Partitions from a prior generation.
	_, _ = OpenPartition(mgr.root, staticPrefix+"oldgen")
	_, _ = OpenPartition(mgr.root, dynamicPrefix+"oldgen")

	if err := mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	names, _ := ListPartitions(mgr.root)
	for _, n := range names {
		if strings.Contains(n, "oldgen") {
			t.Errorf("stale partition still enumerable: %s", n)
		}
	}

	// Idempotent: re-running against a correct set changes nothing.
	if err := mgr.Activate(ctx); err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	again, _ := ListPartitions(mgr.root)
	if len(again) != len(names) {
		t.Errorf("partition set changed: %v -> %v", names, again)
	}
}

func TestActivateBeforeInstallFails(t *testing.T) {
	up := newUpstream(t, map[string]string{})
	mgr := testManager(t, up.srv.URL, []string{"/index.html"})
	if err := mgr.Activate(context.Background()); err == nil {
		t.Error("expected error activating before install")
	}
}

func TestSkipWaiting(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html"})
	ctx := context.Background()

	// No-op before install.
	if err := mgr.SkipWaiting(ctx); err != nil {
		t.Fatalf("SkipWaiting before install: %v", err)
	}

	if err := mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.SkipWaiting(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mgr.State(); got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestLookupServesCachedWithoutRefetch(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html"})
	ctx := context.Background()

	if err := mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	installHits := up.hitCount("/index.html")

	first, err := mgr.Lookup(http.MethodGet, up.srv.URL+"/index.html")
	if err != nil || first == nil {
		t.Fatalf("first lookup: %v %v", first, err)
	}
	second, err := mgr.Lookup(http.MethodGet, up.srv.URL+"/index.html")
	if err != nil || second == nil {
		t.Fatalf("second lookup: %v %v", second, err)
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Error("repeated lookups are not byte-identical")
	}
	if up.hitCount("/index.html") != installHits {
		t.Error("lookup reached the network")
	}
}

func TestStatusCountsPartitionEntries(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>", "/app.js": "js"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html", "/app.js"})
	ctx := context.Background()

	if err := mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.StoreDynamic(&Snapshot{Method: "GET", URL: up.srv.URL + "/late.js", Status: 200, Body: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	st, err := mgr.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateActive || st.Generation != mgr.Generation() {
		t.Errorf("status = %+v", st)
	}
	entries := make(map[string]int, len(st.Partitions))
	for _, p := range st.Partitions {
		entries[p.Name] = p.Entries
	}
	if got := entries[staticPrefix+mgr.Generation()]; got != 2 {
		t.Errorf("static entries = %d, want 2", got)
	}
	if got := entries[dynamicPrefix+mgr.Generation()]; got != 1 {
		t.Errorf("dynamic entries = %d, want 1", got)
	}
}

func TestClearAllDeletesEveryPartition(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html"})
	ctx := context.Background()

	if err := mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.StoreDynamic(&Snapshot{Method: "GET", URL: up.srv.URL + "/late.js", Status: 200, Body: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	if err := mgr.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	names, _ := ListPartitions(mgr.root)
	if len(names) != 0 {
		t.Errorf("partitions remain after clear: %v", names)
	}
}

func TestStoreDynamicCreatesPartitionLazily(t *testing.T) {
	up := newUpstream(t, map[string]string{"/index.html": "<html>"})
	mgr := testManager(t, up.srv.URL, []string{"/index.html"})
	ctx := context.Background()

	if err := mgr.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	names, _ := ListPartitions(mgr.root)
	if len(names) != 1 {
		t.Fatalf("dynamic partition should not exist yet: %v", names)
	}

	url := up.srv.URL + "/runtime.js"
	if err := mgr.StoreDynamic(&Snapshot{Method: "GET", URL: url, Status: 200, Body: []byte("rt")}); err != nil {
		t.Fatal(err)
	}
	snap, err := mgr.Lookup(http.MethodGet, url)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || string(snap.Body) != "rt" {
		t.Errorf("dynamic entry not servable: %+v", snap)
	}
}
