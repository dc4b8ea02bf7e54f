// Package cache implements the offline cache lifecycle: named response
// partitions on disk, generation-scoped install/activate, and cache-first
// request interception against the application's asset origin.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/laguz/internal/checksum"
)

// Snapshot is an immutable capture of a successful upstream response,
// keyed by request identity (method + URL).
type Snapshot struct {
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
	Body     []byte      `json:"-"`
}

// Key returns the request identity key for a method + URL pair.
func Key(method, url string) string {
	return checksum.Sum([]byte(method + " " + url))
}

// Partition is a named bucket of response snapshots backed by a directory.
// Each entry is a <key>.json metadata file next to a <key>.body blob; the
// metadata file is written last and marks the entry valid.
type Partition struct {
	name string
	dir  string
}

// OpenPartition opens (creating if absent) the named partition under root.
func OpenPartition(root, name string) (*Partition, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: open partition %s: %w", name, err)
	}
	return &Partition{name: name, dir: dir}, nil
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Match returns the snapshot stored under the request identity, or nil when
// the partition holds no entry for it. The returned body is an independent
// copy; callers may consume it freely.
func (p *Partition) Match(method, url string) (*Snapshot, error) {
	key := Key(method, url)
	meta, err := os.ReadFile(filepath.Join(p.dir, key+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read meta %s: %w", key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(meta, &snap); err != nil {
		return nil, fmt.Errorf("cache: decode meta %s: %w", key, err)
	}
	body, err := os.ReadFile(filepath.Join(p.dir, key+".body"))
	if err != nil {
		return nil, fmt.Errorf("cache: read body %s: %w", key, err)
	}
	snap.Body = body
	return &snap, nil
}

// Put stores the snapshot under its request identity. Both files are written
// atomically; the body lands before the metadata so a crash cannot leave a
// valid-looking entry without its blob.
func (p *Partition) Put(snap *Snapshot) error {
	key := Key(snap.Method, snap.URL)
	if err := writeFileAtomic(filepath.Join(p.dir, key+".body"), snap.Body); err != nil {
		return fmt.Errorf("cache: write body %s: %w", key, err)
	}
	meta, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: encode meta %s: %w", key, err)
	}
	if err := writeFileAtomic(filepath.Join(p.dir, key+".json"), meta); err != nil {
		return fmt.Errorf("cache: write meta %s: %w", key, err)
	}
	return nil
}

// Keys returns every request identity key stored in the partition.
func (p *Partition) Keys() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: list partition %s: %w", p.name, err)
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// ListPartitions enumerates partition names under root. Staging directories
// (dot-prefixed) are included so activation can sweep aborted installs.
func ListPartitions(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: enumerate partitions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// DeletePartition removes the named partition and all its entries.
func DeletePartition(root, name string) error {
	if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
		return fmt.Errorf("cache: delete partition %s: %w", name, err)
	}
	return nil
}

// writeFileAtomic writes content via tmp file, fsync, rename.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".laguz-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}
