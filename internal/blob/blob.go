// Package blob provides the two byte-storage backends for document content.
//
// Bytes live either inline (carried in the locator and persisted alongside
// catalog metadata) or externally (written to a bucket directory keyed by
// content hash). The backend is chosen once at store time and recorded on
// the file record; a locator is only ever valid for the backend that
// produced it.
package blob

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidLocator indicates a locator whose variant fields are
	// inconsistent with its kind.
	ErrInvalidLocator = errors.New("invalid locator")

	// ErrBackendUnavailable indicates a blob I/O failure. The operation is
	// not retried here; callers may retry the whole store operation.
	ErrBackendUnavailable = errors.New("blob backend unavailable")

	// ErrNotFound indicates the locator points at bytes that do not exist.
	ErrNotFound = errors.New("blob not found")
)

// Kind identifies which backend owns a blob's bytes.
type Kind string

const (
	// KindInline stores bytes alongside catalog metadata.
	KindInline Kind = "inline"

	// KindExternal stores bytes in a bucket directory keyed by hash prefix.
	KindExternal Kind = "external"
)

// Locator points at where a blob's bytes live.
//
// Exactly one variant is populated: Payload for inline blobs, Path for
// external blobs. Validate enforces this before any persistence.
type Locator struct {
	Kind    Kind
	Path    string // external: relative bucket path {hash[0:2]}/{hash}{ext}
	Payload []byte // inline: the bytes themselves
}

// Validate checks that exactly one locator variant is populated.
func (l Locator) Validate() error {
	switch l.Kind {
	case KindInline:
		if len(l.Payload) == 0 {
			return fmt.Errorf("%w: inline locator without payload", ErrInvalidLocator)
		}
		if l.Path != "" {
			return fmt.Errorf("%w: inline locator with external path %q", ErrInvalidLocator, l.Path)
		}
	case KindExternal:
		if l.Path == "" {
			return fmt.Errorf("%w: external locator without path", ErrInvalidLocator)
		}
		if len(l.Payload) > 0 {
			return fmt.Errorf("%w: external locator carrying inline payload", ErrInvalidLocator)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidLocator, l.Kind)
	}
	return nil
}

// Backend stores and retrieves blob bytes for one storage kind.
//
// Implementations are safe for concurrent use. Put is idempotent: putting
// the same locator twice either no-ops or overwrites with byte-identical
// content. A Put failure aborts the whole store operation; there is no
// fallback to the other backend.
type Backend interface {
	// Put persists data at the location the locator describes.
	Put(ctx context.Context, data []byte, loc Locator) error

	// Get returns the bytes the locator points at.
	Get(ctx context.Context, loc Locator) ([]byte, error)

	// Delete removes the bytes the locator points at. Deleting a locator
	// that no longer exists is not an error.
	Delete(ctx context.Context, loc Locator) error
}
