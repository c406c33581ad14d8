package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/internal/version"
)

// FlatFile is a Registry backed by a JSON index file.
type FlatFile struct {
	indexPath string
	cacheDir  string
	client    *http.Client
	artifacts []Info
}

// flatFileIndex is the JSON structure of the index file.
type flatFileIndex struct {
	Artifacts []Info `json:"artifacts" validate:"dive"`
}

// FlatFileOption configures a FlatFile.
type FlatFileOption func(*FlatFile)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) FlatFileOption {
	return func(f *FlatFile) { f.client = c }
}

// NewFlatFile creates a FlatFile registry from a JSON index file.
func NewFlatFile(indexPath string, cacheDir string, opts ...FlatFileOption) (*FlatFile, error) {
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}

	ff := &FlatFile{
		indexPath: indexPath,
		cacheDir:  cacheDir,
		client:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(ff)
	}

	if err := ff.load(); err != nil {
		return nil, err
	}

	return ff, nil
}

func (f *FlatFile) load() error {
	data, err := os.ReadFile(f.indexPath) //#nosec G304
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	var idx flatFileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}
	if err := validator.New().Struct(idx); err != nil {
		return fmt.Errorf("invalid index: %w", err)
	}

	f.artifacts = idx.Artifacts
	return nil
}

// CacheDir returns the directory artifacts are cached in.
func (f *FlatFile) CacheDir() string {
	return f.cacheDir
}

// List returns artifacts matching the given options.
func (f *FlatFile) List(_ context.Context, opts ...ListOption) ([]Info, error) {
	cfg := &listConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var result []Info
	for _, a := range f.artifacts {
		if cfg.format != "" && a.Format != cfg.format {
			continue
		}
		if cfg.kind != "" && a.Kind != cfg.kind {
			continue
		}
		if len(cfg.tags) > 0 && !hasAllTags(a.Tags, cfg.tags) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// Get returns a specific artifact by name.
func (f *FlatFile) Get(_ context.Context, name string) (*Info, error) {
	for i := range f.artifacts {
		if f.artifacts[i].Name == name {
			return &f.artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// LocalPath returns where the artifact is cached, whether or not it exists.
func (f *FlatFile) LocalPath(a *Info) string {
	if a.Format != "" {
		return filepath.Join(f.cacheDir, a.Name+"."+a.Format)
	}
	return filepath.Join(f.cacheDir, a.Name)
}

// Cached reports whether a verified copy of the artifact is on disk.
func (f *FlatFile) Cached(a *Info) bool {
	localPath := f.LocalPath(a)
	if _, err := os.Stat(localPath); err != nil {
		return false
	}
	if a.SHA256 == "" {
		return true
	}
	ok, _ := verifySHA256(localPath, a.SHA256)
	return ok
}

// EnsureCached downloads the artifact if not cached and returns the local path.
func (f *FlatFile) EnsureCached(ctx context.Context, name string) (string, error) {
	a, err := f.Get(ctx, name)
	if err != nil {
		return "", err
	}

	localPath := f.LocalPath(a)
	if f.Cached(a) {
		return localPath, nil
	}

	if a.DownloadURL == "" {
		return "", fmt.Errorf("artifact %s has no download URL", name)
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	log := logger.Component("artifact")
	log.Info("downloading artifact", "name", name, "size", humanize.Bytes(uint64(max(a.SizeBytes, 0))))
	start := time.Now()

	n, err := f.download(ctx, a.DownloadURL, localPath)
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}

	if a.SHA256 != "" {
		if ok, err := verifySHA256(localPath, a.SHA256); err != nil {
			return "", fmt.Errorf("verify sha256: %w", err)
		} else if !ok {
			_ = os.Remove(localPath)
			return "", fmt.Errorf("sha256 mismatch for %s", name)
		}
	}

	log.Info("artifact cached",
		"name", name,
		"bytes", humanize.Bytes(uint64(n)),
		"took", time.Since(start).Round(time.Millisecond),
		"path", localPath,
	)
	return localPath, nil
}

func hasAllTags(tags, required []string) bool {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = true
	}
	for _, r := range required {
		if !tagSet[strings.ToLower(r)] {
			return false
		}
	}
	return true
}

func verifySHA256(path, expected string) (bool, error) {
	f, err := os.Open(path) //#nosec G304
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}

	actual := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(actual, expected), nil
}

// download writes url to dest through a temporary file so a failed transfer
// never leaves a partial artifact at dest.
func (f *FlatFile) download(ctx context.Context, url, dest string) (n int64, retErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmp := dest + ".partial"
	out, err := os.Create(tmp) //#nosec G304
	if err != nil {
		return 0, err
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp)
		}
	}()

	n, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	return n, os.Rename(tmp, dest)
}
