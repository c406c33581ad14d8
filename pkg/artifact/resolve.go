package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Resolve turns an artifact reference into a local file path. A reference
// naming an existing file is returned as is. Otherwise it is looked up by
// name in the index at indexPath and fetched into cacheDir if needed.
func Resolve(ctx context.Context, ref, indexPath, cacheDir string) (string, error) {
	if ref == "" {
		return "", errors.New("empty artifact reference")
	}
	if st, err := os.Stat(ref); err == nil {
		if st.IsDir() {
			return "", fmt.Errorf("artifact %s is a directory", ref)
		}
		return ref, nil
	}
	if indexPath == "" {
		return "", fmt.Errorf("%w: %s is not a file and no artifact index is configured", ErrNotFound, ref)
	}

	reg, err := NewFlatFile(indexPath, cacheDir)
	if err != nil {
		return "", err
	}
	return reg.EnsureCached(ctx, ref)
}
