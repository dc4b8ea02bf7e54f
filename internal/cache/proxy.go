package cache

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Handler intercepts asset requests with a cache-first policy: serve from
// the partition set when possible, otherwise fetch live and opportunistically
// duplicate successful responses into the dynamic partition.
type Handler struct {
	mgr    *Manager
	logger *slog.Logger
}

// NewHandler creates the interception handler.
func NewHandler(mgr *Manager, logger *slog.Logger) *Handler {
	return &Handler{mgr: mgr, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, intercept := h.target(r)

	// Requests outside the upstream origin and the allow-list, and requests
	// whose method cannot be served from a snapshot, pass through untouched.
	if !intercept || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		h.passthrough(w, r, target)
		return
	}

	snap, err := h.mgr.Lookup(r.Method, target)
	if err != nil {
		// A damaged cache entry must not take the request down; fall through
		// to the network.
		h.logger.Warn("cache: lookup failed", slog.String("url", target), slog.String("error", err.Error()))
	}
	if snap != nil {
		writeSnapshot(w, snap)
		return
	}

	snap, err = h.mgr.fetchSnapshot(r.Context(), r.Method, target, r.Header)
	if err != nil {
		if isNavigation(r) {
			if fb := h.rootFallback(); fb != nil {
				writeSnapshot(w, fb)
				return
			}
		}
		h.logger.Warn("cache: upstream fetch failed", slog.String("url", target), slog.String("error", err.Error()))
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}

	writeSnapshot(w, snap)

	// Duplicate successful responses into the dynamic partition without
	// delaying the response already delivered above. Failures are observed
	// in the log, never propagated to the caller.
	if r.Method == http.MethodGet && snap.Status >= 200 && snap.Status <= 299 {
		go func(snap *Snapshot) {
			if err := h.mgr.StoreDynamic(snap); err != nil {
				h.logger.Warn("cache: dynamic store failed",
					slog.String("url", snap.URL), slog.String("error", err.Error()))
			}
		}(snap)
	}
}

// target maps the incoming request to its upstream URL and decides whether
// it is intercepted. Relative requests are same-origin by construction;
// absolute-form (proxy-style) requests are checked against the allow-list.
func (h *Handler) target(r *http.Request) (string, bool) {
	if r.URL.IsAbs() {
		return r.URL.String(), h.mgr.InterceptsOrigin(r.URL.Host)
	}
	ref := &url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	return h.mgr.Upstream().ResolveReference(ref).String(), true
}

// rootFallback returns the cached root document, or nil when it is not cached.
func (h *Handler) rootFallback() *Snapshot {
	ref := &url.URL{Path: h.mgr.RootDocument()}
	root := h.mgr.Upstream().ResolveReference(ref).String()
	snap, err := h.mgr.Lookup(http.MethodGet, root)
	if err != nil {
		h.logger.Warn("cache: root fallback lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return snap
}

// passthrough forwards the request to its target verbatim, with no caching
// and no fallback.
func (h *Handler) passthrough(w http.ResponseWriter, r *http.Request, target string) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	for k, vv := range r.Header {
		if isHopHeader(k) {
			continue
		}
		req.Header[k] = vv
	}
	resp, err := h.mgr.client.Do(req)
	if err != nil {
		h.logger.Warn("cache: passthrough failed", slog.String("url", target), slog.String("error", err.Error()))
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, vv := range resp.Header {
		if isHopHeader(k) {
			continue
		}
		w.Header()[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func writeSnapshot(w http.ResponseWriter, snap *Snapshot) {
	for k, vv := range snap.Header {
		w.Header()[k] = vv
	}
	w.WriteHeader(snap.Status)
	_, _ = w.Write(snap.Body)
}

// isNavigation reports whether the request is a top-level document
// navigation, the only request kind eligible for the root-document fallback.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
