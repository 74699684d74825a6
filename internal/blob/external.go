package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ExternalBackend stores blobs as files under a bucket directory.
//
// The relative path inside the bucket is derived from the content hash
// ({hash[0:2]}/{hash}{ext}), so the first two hex characters bound the
// directory fan-out and a locator can be reconstructed from the hash alone.
type ExternalBackend struct {
	root   string
	logger *zap.Logger
}

// NewExternalBackend creates a backend rooted at the given bucket directory,
// creating it if necessary.
func NewExternalBackend(root string, logger *zap.Logger) (*ExternalBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: bucket root required", ErrInvalidLocator)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating bucket root: %v", ErrBackendUnavailable, err)
	}
	return &ExternalBackend{root: root, logger: logger}, nil
}

// Root returns the bucket root directory.
func (b *ExternalBackend) Root() string { return b.root }

// Put writes data to the locator's path via a temp file and rename, so a
// concurrent Put of the same hash lands on byte-identical content and a
// crash never leaves a partial blob at the final path.
func (b *ExternalBackend) Put(ctx context.Context, data []byte, loc Locator) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if loc.Kind != KindExternal {
		return fmt.Errorf("%w: external backend given %q locator", ErrInvalidLocator, loc.Kind)
	}
	target, err := b.resolve(loc.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("%w: creating fan-out dir: %v", ErrBackendUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrBackendUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing blob: %v", ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing blob: %v", ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: publishing blob: %v", ErrBackendUnavailable, err)
	}

	b.logger.Debug("stored external blob",
		zap.String("path", loc.Path),
		zap.Int("size", len(data)),
	)
	return nil
}

// Get reads the bytes at the locator's path.
func (b *ExternalBackend) Get(ctx context.Context, loc Locator) ([]byte, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if loc.Kind != KindExternal {
		return nil, fmt.Errorf("%w: external backend given %q locator", ErrInvalidLocator, loc.Kind)
	}
	target, err := b.resolve(loc.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc.Path)
		}
		return nil, fmt.Errorf("%w: reading blob: %v", ErrBackendUnavailable, err)
	}
	return data, nil
}

// Delete removes the blob file and opportunistically prunes an emptied
// fan-out directory. A missing file is not an error.
func (b *ExternalBackend) Delete(ctx context.Context, loc Locator) error {
	if loc.Kind != KindExternal {
		return fmt.Errorf("%w: external backend given %q locator", ErrInvalidLocator, loc.Kind)
	}
	target, err := b.resolve(loc.Path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: deleting blob: %v", ErrBackendUnavailable, err)
	}
	// Best effort: fails while the fan-out dir still has siblings.
	os.Remove(filepath.Dir(target))
	return nil
}

// List returns the relative paths of every blob in the bucket. Used by the
// maintenance sweep to find blobs with no catalog row.
func (b *ExternalBackend) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing bucket: %v", ErrBackendUnavailable, err)
	}
	return paths, nil
}

// Exists reports whether a blob file is present at the locator's path.
func (b *ExternalBackend) Exists(ctx context.Context, loc Locator) (bool, error) {
	target, err := b.resolve(loc.Path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat blob: %v", ErrBackendUnavailable, err)
	}
	return true, nil
}

// resolve joins a relative locator path to the bucket root, rejecting any
// path that would escape it.
func (b *ExternalBackend) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty external path", ErrInvalidLocator)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: path escapes bucket: %q", ErrInvalidLocator, rel)
	}
	return filepath.Join(b.root, clean), nil
}

var _ Backend = (*ExternalBackend)(nil)
