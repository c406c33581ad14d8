// Package artifact provides discovery, download, and cache management for
// model artifacts referenced by name.
package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Registry provides artifact discovery and cache management.
type Registry interface {
	// List returns all artifacts matching the given options.
	List(ctx context.Context, opts ...ListOption) ([]Info, error)

	// Get returns metadata for a specific artifact by name.
	Get(ctx context.Context, name string) (*Info, error)

	// EnsureCached downloads the artifact if not already cached and returns the local path.
	EnsureCached(ctx context.Context, name string) (localPath string, err error)
}

// Info contains metadata about an artifact.
type Info struct {
	Name        string            `json:"name" yaml:"name" validate:"required,excludesall=/\\,ne=.,ne=.."`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Format      string            `json:"format" yaml:"format" validate:"omitempty,alphanum"` // "json", "yaml", "gguf", etc.
	Kind        string            `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=classic adapter"`
	SizeBytes   int64             `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty" validate:"gte=0"`
	SHA256      string            `json:"sha256,omitempty" yaml:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
	DownloadURL string            `json:"download_url,omitempty" yaml:"download_url,omitempty" validate:"omitempty,url"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ListOption configures a List call.
type ListOption func(*listConfig)

type listConfig struct {
	format string
	kind   string
	tags   []string
}

// WithFormat filters artifacts by format (e.g., "json").
func WithFormat(format string) ListOption {
	return func(c *listConfig) { c.format = format }
}

// WithKind filters artifacts by the backend they serve.
func WithKind(kind string) ListOption {
	return func(c *listConfig) { c.kind = kind }
}

// WithTags filters artifacts that have all specified tags.
func WithTags(tags ...string) ListOption {
	return func(c *listConfig) { c.tags = tags }
}

// DefaultCacheDir returns the default artifact cache directory.
// Respects KLARVIA_ARTIFACT_CACHE, otherwise uses ~/.cache/klarvia/artifacts/.
func DefaultCacheDir() string {
	if dir := os.Getenv("KLARVIA_ARTIFACT_CACHE"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "klarvia", "artifacts")
	}
	return filepath.Join(home, ".cache", "klarvia", "artifacts")
}

// ErrNotFound is returned when a requested artifact is not in the registry.
var ErrNotFound = errors.New("artifact not found")
