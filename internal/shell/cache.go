// Package shell implements the offline shell cache: an http.RoundTripper
// interceptor backed by a versioned on-disk store of responses keyed by
// absolute URL. Shell assets are served network-first with cache fallback;
// other same-origin assets can run stale-while-revalidate. Configured
// external-API origins pass through untouched — their caching belongs to
// the response cache, not here.
package shell

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"weatherdash/internal/logger"
)

// State tracks the interceptor lifecycle: Installing -> Active, with
// Updating folded into a re-run of Install under a new version.
type State int32

const (
	StateInstalling State = iota
	StateActive
)

// Config describes one cache generation.
type Config struct {
	// Version identifies the cache generation; Activate deletes
	// generations with any other identifier.
	Version string
	// Dir is the root under which generation directories live.
	Dir string
	// AppOrigin (scheme://host) marks responses as same-origin cacheable.
	AppOrigin string
	// Manifest lists the shell asset URLs pre-populated during Install.
	Manifest []string
	// PassthroughOrigins are external API origins never intercepted.
	PassthroughOrigins []string
	// StaleWhileRevalidate serves cached non-shell same-origin assets
	// immediately while refreshing them in the background.
	StaleWhileRevalidate bool
}

// Cache is the interceptor. It wraps a base transport and may be used as
// the Transport of any http.Client.
type Cache struct {
	cfg         Config
	base        http.RoundTripper
	state       atomic.Int32
	manifest    map[string]struct{}
	passthrough map[string]struct{}
	refreshing  sync.Map // url -> struct{}{}, bounds concurrent SWR refreshes
}

type storedResponse struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// New builds the cache and creates the current generation directory.
func New(cfg Config, base http.RoundTripper) (*Cache, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("shell cache requires a version identifier")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, cfg.Version), 0o755); err != nil {
		return nil, fmt.Errorf("creating shell cache generation: %w", err)
	}

	c := &Cache{
		cfg:         cfg,
		base:        base,
		manifest:    make(map[string]struct{}, len(cfg.Manifest)),
		passthrough: make(map[string]struct{}, len(cfg.PassthroughOrigins)),
	}
	for _, u := range cfg.Manifest {
		c.manifest[u] = struct{}{}
	}
	for _, o := range cfg.PassthroughOrigins {
		c.passthrough[o] = struct{}{}
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Cache) State() State { return State(c.state.Load()) }

// Install pre-populates the generation with the manifest. A failure to
// cache any single resource is logged and skipped; a missing non-critical
// asset must not prevent the shell from becoming usable offline.
func (c *Cache) Install(ctx context.Context) error {
	log := logger.GetLogger()
	c.state.Store(int32(StateInstalling))

	for _, assetURL := range c.cfg.Manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
		if err != nil {
			log.Warnw("skipping unfetchable shell asset", "url", assetURL, "error", err)
			continue
		}
		resp, err := c.base.RoundTrip(req)
		if err != nil {
			log.Warnw("failed to pre-cache shell asset", "url", assetURL, "error", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			log.Warnw("shell asset not cacheable", "url", assetURL, "status", resp.StatusCode)
			continue
		}
		if err := c.store(assetURL, resp.StatusCode, resp.Header, body); err != nil {
			log.Warnw("failed to store shell asset", "url", assetURL, "error", err)
		}
	}
	return nil
}

// Activate deletes every generation whose identifier differs from the
// current version and begins intercepting.
func (c *Cache) Activate() error {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading shell cache root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == c.cfg.Version {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.cfg.Dir, e.Name())); err != nil {
			logger.GetLogger().Warnw("failed to delete stale cache generation",
				"generation", e.Name(), "error", err)
		}
	}
	c.state.Store(int32(StateActive))
	return nil
}

// RoundTrip applies the interception policy per request.
func (c *Cache) RoundTrip(req *http.Request) (*http.Response, error) {
	origin := req.URL.Scheme + "://" + req.URL.Host
	if _, ok := c.passthrough[origin]; ok {
		return c.base.RoundTrip(req)
	}
	// Only idempotent reads are served from the shell cache; failed
	// mutations are the durable retry queue's concern.
	if req.Method != http.MethodGet || c.State() != StateActive {
		return c.base.RoundTrip(req)
	}

	key := req.URL.String()
	sameOrigin := origin == c.cfg.AppOrigin
	_, isShellAsset := c.manifest[key]

	if c.cfg.StaleWhileRevalidate && sameOrigin && !isShellAsset {
		if cached, ok := c.load(key); ok {
			go c.refresh(key)
			return cached.response(req), nil
		}
	}

	resp, err := c.base.RoundTrip(req)
	if err == nil {
		if sameOrigin && resp.StatusCode == http.StatusOK {
			resp = c.storeAndRewrap(key, resp)
		}
		return resp, nil
	}

	if cached, ok := c.load(key); ok {
		logger.GetLogger().Debugw("serving from shell cache after network failure",
			"url", key, "error", err)
		return cached.response(req), nil
	}
	return offlineResponse(req), nil
}

// refresh re-fetches one URL in the background for the next caller. At
// most one refresh per URL runs at a time; the caller never waits.
func (c *Cache) refresh(key string) {
	if _, loaded := c.refreshing.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	defer c.refreshing.Delete(key)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return
	}
	resp, err := c.base.RoundTrip(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return
	}
	if err := c.store(key, resp.StatusCode, resp.Header, body); err != nil {
		logger.GetLogger().Debugw("background refresh store failed", "url", key, "error", err)
	}
}

// storeAndRewrap caches the body of a successful response and returns an
// equivalent response. A failed cache write never affects the caller.
func (c *Cache) storeAndRewrap(key string, resp *http.Response) *http.Response {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp
	}
	if err := c.store(key, resp.StatusCode, resp.Header, body); err != nil {
		logger.GetLogger().Debugw("shell cache write failed", "url", key, "error", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp
}

func (c *Cache) entryPath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.cfg.Dir, c.cfg.Version, hex.EncodeToString(sum[:])+".json")
}

func (c *Cache) store(url string, status int, header http.Header, body []byte) error {
	data, err := json.Marshal(storedResponse{
		URL:      url,
		Status:   status,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	tmp := c.entryPath(url) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.entryPath(url))
}

func (c *Cache) load(url string) (*storedResponse, bool) {
	data, err := os.ReadFile(c.entryPath(url))
	if err != nil {
		return nil, false
	}
	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false
	}
	return &stored, true
}

func (s *storedResponse) response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Shell-Cache", "hit")
	return &http.Response{
		StatusCode:    s.Status,
		Status:        http.StatusText(s.Status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
	}
}

// offlineResponse is the synthetic "unavailable offline" reply returned
// when the network failed and nothing is cached. The request never hangs
// or surfaces a raw transport error.
func offlineResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(map[string]string{
		"error": "offline",
		"url":   req.URL.String(),
	})
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Offline-Fallback", "true")
	return &http.Response{
		StatusCode:    http.StatusServiceUnavailable,
		Status:        http.StatusText(http.StatusServiceUnavailable),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
	}
}
