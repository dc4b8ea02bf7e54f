package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/laguz/internal/apperr"
)

// State is a cache lifecycle state.
type State string

// Lifecycle states. A generation moves Uninstalled → Installing → Waiting →
// Activating → Active; only an Active generation serves as the authoritative
// partition set.
const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	StateWaiting     State = "waiting"
	StateActivating  State = "activating"
	StateActive      State = "active"
)

const (
	staticPrefix  = "static-"
	dynamicPrefix = "dynamic-"
	stagingPrefix = ".staging-"
)

// Config holds the cache manager configuration.
type Config struct {
	// Root is the directory holding cache partitions.
	Root string
	// ManifestPath locates the YAML precache manifest.
	ManifestPath string
	// Upstream is the asset origin fronted by the cache.
	Upstream string
	// AllowedOrigins lists external origins (host[:port]) eligible for
	// interception in addition to the upstream origin.
	AllowedOrigins []string
	// RootDocument is the path served as fallback for failed navigations.
	// Defaults to /index.html.
	RootDocument string
	// Client performs upstream fetches. Defaults to a plain http.Client.
	Client *http.Client
}

// Manager owns the cache partition set and the install/activate lifecycle.
type Manager struct {
	root         string
	manifestPath string
	upstream     *url.URL
	allowed      map[string]struct{}
	rootDoc      string
	client       *http.Client
	logger       *slog.Logger

	mu         sync.Mutex
	state      State
	generation string
}

// Status is a point-in-time view of the cache lifecycle.
type Status struct {
	State      State             `json:"state"`
	Generation string            `json:"generation"`
	Partitions []PartitionStatus `json:"partitions"`
}

// PartitionStatus describes one partition in a Status report.
type PartitionStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// NewManager creates a cache manager. No partitions are touched until
// Install is called.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	up, err := url.Parse(cfg.Upstream)
	if err != nil || up.Scheme == "" || up.Host == "" {
		return nil, fmt.Errorf("cache: invalid upstream origin %q", cfg.Upstream)
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	rootDoc := cfg.RootDocument
	if rootDoc == "" {
		rootDoc = "/index.html"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}
	return &Manager{
		root:         cfg.Root,
		manifestPath: cfg.ManifestPath,
		upstream:     up,
		allowed:      allowed,
		rootDoc:      rootDoc,
		client:       client,
		logger:       logger,
		state:        StateUninstalled,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Generation returns the current generation tag, empty before first install.
func (m *Manager) Generation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Upstream returns the fronted asset origin.
func (m *Manager) Upstream() *url.URL { return m.upstream }

// RootDocument returns the navigation fallback path.
func (m *Manager) RootDocument() string { return m.rootDoc }

// InterceptsOrigin reports whether requests to host are eligible for
// interception: the upstream origin itself plus the explicit allow-list.
func (m *Manager) InterceptsOrigin(host string) bool {
	if host == m.upstream.Host {
		return true
	}
	_, ok := m.allowed[host]
	return ok
}

// Install reads the manifest and precaches every listed asset into the
// static partition for the manifest's generation, as a single unit: any
// fetch failure aborts the whole install and leaves no static partition
// behind. The caller may retry by calling Install again.
func (m *Manager) Install(ctx context.Context) error {
	man, gen, err := LoadManifest(m.manifestPath)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInstallFailed, err)
	}

	m.mu.Lock()
	if m.state == StateInstalling {
		m.mu.Unlock()
		return fmt.Errorf("cache: install already in progress")
	}
	prev := m.state
	m.state = StateInstalling
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
		return err
	}

	stagingName := stagingPrefix + gen
	staging, err := OpenPartition(m.root, stagingName)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", apperr.ErrInstallFailed, err))
	}

	for _, asset := range man.Assets {
		target, err := m.resolveAsset(asset)
		if err != nil {
			_ = DeletePartition(m.root, stagingName)
			return fail(fmt.Errorf("%w: %v", apperr.ErrInstallFailed, err))
		}
		snap, err := m.fetchSnapshot(ctx, http.MethodGet, target, nil)
		if err != nil {
			_ = DeletePartition(m.root, stagingName)
			return fail(fmt.Errorf("%w: fetch %s: %v", apperr.ErrInstallFailed, asset, err))
		}
		if snap.Status < 200 || snap.Status > 299 {
			_ = DeletePartition(m.root, stagingName)
			return fail(fmt.Errorf("%w: fetch %s: status %d", apperr.ErrInstallFailed, asset, snap.Status))
		}
		if err := staging.Put(snap); err != nil {
			_ = DeletePartition(m.root, stagingName)
			return fail(fmt.Errorf("%w: store %s: %v", apperr.ErrInstallFailed, asset, err))
		}
	}

	// Promote the fully-populated staging directory in one rename. A
	// reinstall of an already-promoted generation discards the staging copy.
	staticDir := filepath.Join(m.root, staticPrefix+gen)
	if err := os.Rename(filepath.Join(m.root, stagingName), staticDir); err != nil {
		if _, statErr := os.Stat(staticDir); statErr != nil {
			_ = DeletePartition(m.root, stagingName)
			return fail(fmt.Errorf("%w: promote static partition: %v", apperr.ErrInstallFailed, err))
		}
		_ = DeletePartition(m.root, stagingName)
	}

	m.mu.Lock()
	m.generation = gen
	m.state = StateWaiting
	m.mu.Unlock()

	m.logger.Info("cache: installed", slog.String("generation", gen), slog.Int("assets", len(man.Assets)))
	return nil
}

// Activate makes the installed generation authoritative: every partition not
// belonging to it (prior generations and aborted staging directories) is
// deleted. Idempotent; re-running against a correct partition set only pays
// the enumeration cost.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	if gen == "" {
		m.mu.Unlock()
		return fmt.Errorf("cache: activate before install")
	}
	m.state = StateActivating
	m.mu.Unlock()

	names, err := ListPartitions(m.root)
	if err != nil {
		return err
	}
	keep := map[string]struct{}{
		staticPrefix + gen:  {},
		dynamicPrefix + gen: {},
	}
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := DeletePartition(m.root, name); err != nil {
			return err
		}
		m.logger.Info("cache: deleted stale partition", slog.String("partition", name))
	}

	m.mu.Lock()
	m.state = StateActive
	m.mu.Unlock()

	m.logger.Info("cache: activated", slog.String("generation", gen))
	return nil
}

// SkipWaiting forces a waiting generation to activate immediately. It is a
// no-op in any other state.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	waiting := m.state == StateWaiting
	m.mu.Unlock()
	if !waiting {
		return nil
	}
	return m.Activate(ctx)
}

// ClearAll deletes every cache partition regardless of generation. The
// lifecycle state is untouched; subsequent lookups simply miss.
func (m *Manager) ClearAll(ctx context.Context) error {
	names, err := ListPartitions(m.root)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := DeletePartition(m.root, name); err != nil {
			return err
		}
	}
	m.logger.Info("cache: cleared all partitions", slog.Int("count", len(names)))
	return nil
}

// Status reports lifecycle state, generation, and each enumerable partition
// with its entry count.
func (m *Manager) Status() (Status, error) {
	names, err := ListPartitions(m.root)
	if err != nil {
		return Status{}, err
	}
	parts := make([]PartitionStatus, 0, len(names))
	for _, name := range names {
		p, err := existingPartition(m.root, name)
		if err != nil {
			return Status{}, err
		}
		if p == nil {
			continue
		}
		keys, err := p.Keys()
		if err != nil {
			return Status{}, err
		}
		parts = append(parts, PartitionStatus{Name: p.Name(), Entries: len(keys)})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Generation: m.generation, Partitions: parts}, nil
}

// Lookup resolves a request identity against the union of the current
// generation's partitions. A snapshot found in either partition satisfies
// the lookup; keys do not collide across partitions in normal operation.
func (m *Manager) Lookup(method, rawURL string) (*Snapshot, error) {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	if gen == "" {
		return nil, nil
	}
	for _, name := range []string{staticPrefix + gen, dynamicPrefix + gen} {
		p, err := existingPartition(m.root, name)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		snap, err := p.Match(method, rawURL)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			return snap, nil
		}
	}
	return nil, nil
}

// StoreDynamic inserts a snapshot into the dynamic partition, creating it
// lazily on first use.
func (m *Manager) StoreDynamic(snap *Snapshot) error {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	if gen == "" {
		return fmt.Errorf("cache: no generation installed")
	}
	p, err := OpenPartition(m.root, dynamicPrefix+gen)
	if err != nil {
		return err
	}
	return p.Put(snap)
}

// resolveAsset turns a manifest entry into an absolute URL. Relative entries
// resolve against the upstream origin; absolute entries must name an
// allow-listed origin.
func (m *Manager) resolveAsset(asset string) (string, error) {
	u, err := url.Parse(asset)
	if err != nil {
		return "", fmt.Errorf("cache: bad asset %q: %w", asset, err)
	}
	if u.IsAbs() {
		if !m.InterceptsOrigin(u.Host) {
			return "", fmt.Errorf("cache: asset origin not allowed: %s", u.Host)
		}
		return u.String(), nil
	}
	return m.upstream.ResolveReference(u).String(), nil
}

// fetchSnapshot performs a live fetch and captures the full response.
func (m *Manager) fetchSnapshot(ctx context.Context, method, target string, hdr http.Header) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	for k, vv := range hdr {
		if isHopHeader(k) {
			continue
		}
		req.Header[k] = vv
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	header := make(http.Header, len(resp.Header))
	for k, vv := range resp.Header {
		if isHopHeader(k) {
			continue
		}
		header[k] = vv
	}
	return &Snapshot{
		Method:   method,
		URL:      target,
		Status:   resp.StatusCode,
		Header:   header,
		StoredAt: time.Now().UTC(),
		Body:     body,
	}, nil
}

// existingPartition returns the partition only if its directory exists,
// avoiding the directory creation OpenPartition performs.
func existingPartition(root, name string) (*Partition, error) {
	dir := filepath.Join(root, name)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: stat partition %s: %w", name, err)
	}
	if !info.IsDir() {
		return nil, nil
	}
	return &Partition{name: name, dir: dir}, nil
}

var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func isHopHeader(k string) bool {
	_, ok := hopHeaders[http.CanonicalHeaderKey(strings.TrimSpace(k))]
	return ok
}
