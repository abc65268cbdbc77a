// Package resource abstracts where manifests and release payloads come
// from: the real Manager fetches remote URIs over HTTP and reads local
// files under the install root; tests substitute the in-memory Fake
// instead of standing up a server.
package resource

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/patchkeep/patchkeep/fsutil"
	"github.com/patchkeep/patchkeep/perr"
)

// Manager resolves and fetches the resources a Patcher needs: the version
// manifest, per-release manifests, and release payloads, plus the local
// install tree the engine is patching.
type Manager interface {
	// RootPath is the install root all relative manifest paths resolve
	// against.
	RootPath() string
	// CachePath is where staging areas and downloaded payloads live.
	CachePath() string
	// Get fetches uri, which may be an absolute URL or a path relative to
	// the manifest's own base URI, and returns its raw bytes.
	Get(ctx context.Context, uri string) ([]byte, error)
	// LoadFile reads a file relative to RootPath.
	LoadFile(relPath string) ([]byte, error)
	// IsReadable reports whether a file relative to RootPath exists and
	// can be read.
	IsReadable(relPath string) bool
	// CreateTempDirectory creates and returns a fresh, uniquely named
	// directory under CachePath.
	CreateTempDirectory(label string) (string, error)
}

// HTTPManager is the production Manager: remote fetches go through a
// retrying HTTP client (github.com/hashicorp/go-retryablehttp), matching
// the corpus's preference for a resilient client over a bare
// net/http.Client for anything fetched over an untrusted network.
type HTTPManager struct {
	root    string
	cache   string
	baseURI string
	client  *retryablehttp.Client
}

// NewHTTPManager constructs a Manager rooted at root, caching under cache,
// resolving relative URIs against baseURI, with deadline as the per-request
// timeout.
func NewHTTPManager(root, cache, baseURI string, deadline time.Duration) *HTTPManager {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.HTTPClient.Timeout = deadline
	return &HTTPManager{root: root, cache: cache, baseURI: baseURI, client: client}
}

func (m *HTTPManager) RootPath() string  { return m.root }
func (m *HTTPManager) CachePath() string { return m.cache }

// resolve turns a manifest-declared URI into an absolute URL, resolving it
// against baseURI when it is not already absolute.
func (m *HTTPManager) resolve(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", perr.InvalidResource(uri, err)
	}
	if u.IsAbs() {
		return uri, nil
	}
	base, err := url.Parse(m.baseURI)
	if err != nil {
		return "", perr.InvalidResource(m.baseURI, err)
	}
	return base.ResolveReference(u).String(), nil
}

// Get fetches uri over HTTP. A transport-level failure (DNS, connection
// refused, timeout after retries) is reported as InvalidResource, as is any
// non-2xx response.
func (m *HTTPManager) Get(ctx context.Context, uri string) ([]byte, error) {
	target, err := m.resolve(uri)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, perr.InvalidResource(uri, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, perr.InvalidResource(uri, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, perr.InvalidResource(uri, errStatus(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.InvalidResource(uri, err)
	}
	return body, nil
}

func (m *HTTPManager) LoadFile(relPath string) ([]byte, error) {
	return fsutil.LoadFile(filepath.Join(m.root, relPath))
}

func (m *HTTPManager) IsReadable(relPath string) bool {
	return fsutil.IsReadable(filepath.Join(m.root, relPath))
}

func (m *HTTPManager) CreateTempDirectory(label string) (string, error) {
	name := label + "-" + uuid.NewString()
	dir := filepath.Join(m.cache, name)
	if err := fsutil.EnsureDirectory(dir); err != nil {
		return "", perr.Wrap(perr.KindInternal, "create staging directory", err)
	}
	return dir, nil
}

type errStatus int

func (e errStatus) Error() string {
	return "unexpected HTTP status " + strconv.Itoa(int(e))
}

// Fake is an in-memory Manager for tests: remote resources are served from
// a map rather than a socket, per the spec's call for "a fake that serves
// byte strings from memory".
type Fake struct {
	Root    string
	Cache   string
	Remotes map[string]string // uri (or suffix) -> content
	Local   map[string]string // root-relative path -> content
}

// NewFake constructs an empty Fake; callers populate Remotes/Local directly.
func NewFake(root, cache string) *Fake {
	return &Fake{
		Root:    root,
		Cache:   cache,
		Remotes: make(map[string]string),
		Local:   make(map[string]string),
	}
}

func (f *Fake) RootPath() string  { return f.Root }
func (f *Fake) CachePath() string { return f.Cache }

func (f *Fake) Get(_ context.Context, uri string) ([]byte, error) {
	if body, ok := f.Remotes[uri]; ok {
		return []byte(body), nil
	}
	for k, body := range f.Remotes {
		if strings.HasSuffix(uri, k) || strings.HasSuffix(k, uri) {
			return []byte(body), nil
		}
	}
	return nil, perr.InvalidResource(uri, nil)
}

// LoadFile checks the real filesystem under Root first — operations write
// there with fsutil just as they would against a real HTTPManager — and
// falls back to the in-memory Local map for tests that seed content
// without touching disk.
func (f *Fake) LoadFile(relPath string) ([]byte, error) {
	if body, err := fsutil.LoadFile(filepath.Join(f.Root, relPath)); err == nil {
		return body, nil
	}
	if body, ok := f.Local[relPath]; ok {
		return []byte(body), nil
	}
	return nil, perr.IntegrityViolation("fake resource manager: no such local file: " + relPath)
}

func (f *Fake) IsReadable(relPath string) bool {
	if fsutil.IsReadable(filepath.Join(f.Root, relPath)) {
		return true
	}
	_, ok := f.Local[relPath]
	return ok
}

func (f *Fake) CreateTempDirectory(label string) (string, error) {
	dir := filepath.Join(f.Cache, label+"-"+uuid.NewString())
	if err := fsutil.EnsureDirectory(dir); err != nil {
		return "", err
	}
	return dir, nil
}
