// Package updater synchronises the local archive files with a remote copy described by meta.json.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/metrics"
	"github.com/hyperjump/archivext/internal/models"
)

const (
	// DefaultMetaPath is resolved against the base URL.
	DefaultMetaPath = "meta.json"
	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 8 * time.Second
	// maxFileSize caps one downloaded file.
	maxFileSize = 64 << 20
)

// ErrRunning is reported when Start is called while a sync is in progress.
var ErrRunning = errors.New("update already running")

// Meta is the remote description of the archive set.
type Meta struct {
	Version  string `json:"version,omitempty"`
	Archives struct {
		Hash  string   `json:"hash"`
		Files []string `json:"files"`
	} `json:"archives"`
}

// Status is the outcome of a sync.
type Status int

const (
	UpToDate Status = iota
	Updated
	Failed
)

func (s Status) String() string {
	switch s {
	case UpToDate:
		return "up_to_date"
	case Updated:
		return "updated"
	default:
		return "failed"
	}
}

// Result reports one sync. Downloaded counts files written, even for a failed run.
type Result struct {
	Status        Status
	Downloaded    int
	Total         int
	LocalHash     string
	RemoteHash    string
	RemoteVersion string
	Err           error
}

// Updater downloads remote archive files into the local archive directory.
type Updater struct {
	base     *url.URL
	metaPath string
	client   *http.Client
	archives *archive.Archives
	hashAlgo string
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Updater) { u.client = c }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(u *Updater) { u.client = &http.Client{Timeout: d} }
}

// WithMetaPath sets the meta file location relative to the base URL.
func WithMetaPath(p string) Option {
	return func(u *Updater) { u.metaPath = p }
}

// WithHashAlgorithm sets the algorithm used for the local hash. It must match the remote one.
func WithHashAlgorithm(algo string) Option {
	return func(u *Updater) { u.hashAlgo = algo }
}

// WithMetrics counts sync results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Updater) { u.metrics = m }
}

// New creates an updater for baseURL.
func New(baseURL string, arch *archive.Archives, opts ...Option) (*Updater, error) {
	if arch == nil {
		return nil, models.NewValidationError("archives", "nil archive set")
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, models.NewValidationError("update base url", "%q is not an absolute URL", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	u := &Updater{
		base:     base,
		metaPath: DefaultMetaPath,
		client:   &http.Client{Timeout: DefaultTimeout},
		archives: arch,
		hashAlgo: archive.HashMD5,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if _, err := archive.NewHash(u.hashAlgo); err != nil {
		return nil, err
	}
	return u, nil
}

// Start runs a sync in a background goroutine. The channel receives one Result and is closed.
func (u *Updater) Start(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	u.mu.Lock()
	if u.done != nil {
		u.mu.Unlock()
		out <- Result{Status: Failed, Err: ErrRunning}
		close(out)
		return out
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	u.cancel, u.done = cancel, done
	u.mu.Unlock()

	go func() {
		u.logger.Debug("Starting update")
		res := u.Sync(ctx)
		cancel()
		u.mu.Lock()
		u.cancel, u.done = nil, nil
		u.mu.Unlock()
		close(done)
		u.logger.Debug("Update finished", zap.Stringer("status", res.Status))
		out <- res
		close(out)
	}()
	return out
}

// Running reports whether a background sync is in progress.
func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.done != nil
}

// Stop cancels a running sync and waits up to timeout for it to return.
// It reports whether nothing is left running.
func (u *Updater) Stop(timeout time.Duration) bool {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.mu.Unlock()
	if done == nil {
		return true
	}
	cancel()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		u.logger.Warn("Update did not stop in time", zap.Duration("timeout", timeout))
		return false
	}
}

// Sync compares the remote hash with the local one and downloads every remote file when
// they differ. Cancellation is checked between files.
func (u *Updater) Sync(ctx context.Context) Result {
	res := u.sync(ctx)
	if res.Err != nil {
		res.Status = Failed
		u.logger.Error("Update failed", zap.Int("downloaded", res.Downloaded), zap.Int("total", res.Total), zap.Error(res.Err))
	}
	u.metrics.ObserveUpdate(res.Status.String())
	return res
}

func (u *Updater) sync(ctx context.Context) Result {
	var res Result
	local, err := u.archives.Hash(u.hashAlgo)
	if err != nil {
		res.Err = fmt.Errorf("failed to hash local archives: %w", err)
		return res
	}
	res.LocalHash = local

	meta, err := u.FetchMeta(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.RemoteHash = meta.Archives.Hash
	res.RemoteVersion = meta.Version
	res.Total = len(meta.Archives.Files)
	u.logger.Debug("Comparing archive hashes", zap.String("local", local), zap.String("remote", res.RemoteHash))
	if strings.EqualFold(local, res.RemoteHash) {
		u.logger.Info("Archives already up to date")
		res.Status = UpToDate
		return res
	}

	u.logger.Info("Archives update found", zap.Int("files", res.Total))
	if err := os.MkdirAll(u.archives.Dir, 0o755); err != nil {
		res.Err = &archive.IOError{Op: "mkdir", Path: u.archives.Dir, Err: err}
		return res
	}
	for _, file := range meta.Archives.Files {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		if err := u.download(ctx, file); err != nil {
			res.Err = err
			return res
		}
		res.Downloaded++
	}
	res.Status = Updated
	return res
}

// FetchMeta downloads and decodes the meta file.
func (u *Updater) FetchMeta(ctx context.Context) (*Meta, error) {
	metaURL, err := u.base.Parse(u.metaPath)
	if err != nil {
		return nil, fmt.Errorf("invalid meta path %q: %w", u.metaPath, err)
	}
	body, err := u.get(ctx, metaURL.String())
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", metaURL, err)
	}
	return &meta, nil
}

// download writes file under its base name into the archive directory, replacing any
// previous version only once the body was fully received.
func (u *Updater) download(ctx context.Context, file string) error {
	name := filepath.Base(filepath.FromSlash(file))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid remote file name %q", file)
	}
	fileURL, err := u.base.Parse(file)
	if err != nil {
		return fmt.Errorf("invalid remote file %q: %w", file, err)
	}
	u.logger.Info("Downloading", zap.String("url", fileURL.String()))
	body, err := u.get(ctx, fileURL.String())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(u.archives.Dir, ".download-*")
	if err != nil {
		return &archive.IOError{Op: "create", Path: u.archives.Dir, Err: err}
	}
	_, werr := tmp.Write(body)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	target := filepath.Join(u.archives.Dir, name)
	if werr == nil {
		werr = os.Rename(tmp.Name(), target)
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return &archive.IOError{Op: "write", Path: target, Err: werr}
	}
	return nil
}

func (u *Updater) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if len(body) > maxFileSize {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", rawURL, maxFileSize)
	}
	return body, nil
}
