package blob

import (
	"bytes"
	"context"
	"fmt"
)

// InlineBackend keeps blob bytes inside the locator itself. The catalog
// persists the payload in the files table, so Put and Delete only validate;
// there is nothing to write outside the catalog row.
type InlineBackend struct{}

// NewInlineBackend creates a backend for inline-stored blobs.
func NewInlineBackend() *InlineBackend {
	return &InlineBackend{}
}

// Put checks that the locator carries exactly the bytes being stored.
func (b *InlineBackend) Put(ctx context.Context, data []byte, loc Locator) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if loc.Kind != KindInline {
		return fmt.Errorf("%w: inline backend given %q locator", ErrInvalidLocator, loc.Kind)
	}
	if !bytes.Equal(data, loc.Payload) {
		return fmt.Errorf("%w: inline payload does not match data", ErrInvalidLocator)
	}
	return nil
}

// Get returns a copy of the inline payload.
func (b *InlineBackend) Get(ctx context.Context, loc Locator) ([]byte, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if loc.Kind != KindInline {
		return nil, fmt.Errorf("%w: inline backend given %q locator", ErrInvalidLocator, loc.Kind)
	}
	out := make([]byte, len(loc.Payload))
	copy(out, loc.Payload)
	return out, nil
}

// Delete is a no-op: inline bytes vanish with the catalog row.
func (b *InlineBackend) Delete(ctx context.Context, loc Locator) error {
	if loc.Kind != KindInline {
		return fmt.Errorf("%w: inline backend given %q locator", ErrInvalidLocator, loc.Kind)
	}
	return nil
}

var _ Backend = (*InlineBackend)(nil)
