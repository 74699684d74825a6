// Package contentaddr derives stable content addresses for uploaded files
// and decides which blob backend stores their bytes.
//
// The address is a SHA-256 digest over the exact byte sequence: identical
// bytes always map to the same hash regardless of filename, which is what
// makes catalog-level deduplication possible.
package contentaddr

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/docstored/internal/blob"
)

// DefaultSizeThreshold routes everything to the external backend. A
// threshold of 0 is a legitimate configuration, not a missing value.
const DefaultSizeThreshold = 0

// Chooser decides backend placement from content size. The decision is made
// once at store time and is immutable for the lifetime of the file record.
type Chooser struct {
	// SizeThreshold is the inline cutoff in bytes: content strictly larger
	// goes external, content at or below stays inline.
	SizeThreshold int64
}

// Identify returns the lowercase hex SHA-256 digest of data.
func Identify(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChooseBackend picks the storage kind for content of the given size.
func (c Chooser) ChooseBackend(size int64) blob.Kind {
	if size > c.SizeThreshold {
		return blob.KindExternal
	}
	return blob.KindInline
}

// ExternalPath builds the deterministic bucket path for a hash:
// {hash[0:2]}/{hash}{ext}, with the extension taken from the original
// filename. The path is reconstructible from the hash without a lookup.
func ExternalPath(hash, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return hash[:2] + "/" + hash + ext
}

// LocatorFor builds the locator for content with a known hash and kind.
func LocatorFor(kind blob.Kind, hash, filename string, data []byte) blob.Locator {
	if kind == blob.KindExternal {
		return blob.Locator{Kind: blob.KindExternal, Path: ExternalPath(hash, filename)}
	}
	return blob.Locator{Kind: blob.KindInline, Payload: data}
}
