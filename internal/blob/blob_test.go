package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		loc     Locator
		wantErr bool
	}{
		{name: "valid inline", loc: Locator{Kind: KindInline, Payload: []byte("x")}},
		{name: "valid external", loc: Locator{Kind: KindExternal, Path: "ab/abcd.txt"}},
		{name: "inline without payload", loc: Locator{Kind: KindInline}, wantErr: true},
		{name: "inline with path", loc: Locator{Kind: KindInline, Payload: []byte("x"), Path: "ab/cd"}, wantErr: true},
		{name: "external without path", loc: Locator{Kind: KindExternal}, wantErr: true},
		{name: "external with payload", loc: Locator{Kind: KindExternal, Path: "ab/cd", Payload: []byte("x")}, wantErr: true},
		{name: "unknown kind", loc: Locator{Kind: "s3", Path: "ab/cd"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLocator)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInlineBackend_RoundTrip(t *testing.T) {
	b := NewInlineBackend()
	ctx := context.Background()
	data := []byte("hello world")
	loc := Locator{Kind: KindInline, Payload: data}

	require.NoError(t, b.Put(ctx, data, loc))

	got, err := b.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Get returns a copy; mutating it must not corrupt the locator.
	got[0] = 'X'
	again, err := b.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	assert.NoError(t, b.Delete(ctx, loc))
}

func TestInlineBackend_PayloadMismatch(t *testing.T) {
	b := NewInlineBackend()
	loc := Locator{Kind: KindInline, Payload: []byte("aaa")}
	err := b.Put(context.Background(), []byte("bbb"), loc)
	assert.ErrorIs(t, err, ErrInvalidLocator)
}

func TestExternalBackend_RoundTrip(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	loc := Locator{Kind: KindExternal, Path: "ab/abcdef.txt"}
	data := []byte("external content")
	require.NoError(t, b.Put(ctx, data, loc))

	got, err := b.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := b.Exists(ctx, loc)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExternalBackend_PutIdempotent(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	loc := Locator{Kind: KindExternal, Path: "cd/cdef.bin"}
	data := []byte("same bytes")
	require.NoError(t, b.Put(ctx, data, loc))
	require.NoError(t, b.Put(ctx, data, loc))

	got, err := b.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestExternalBackend_GetMissing(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = b.Get(context.Background(), Locator{Kind: KindExternal, Path: "ab/missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExternalBackend_DeleteMissing(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)

	// Deleting a blob that is already gone is not an error.
	assert.NoError(t, b.Delete(context.Background(), Locator{Kind: KindExternal, Path: "ab/gone"}))
}

func TestExternalBackend_Delete(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	loc := Locator{Kind: KindExternal, Path: "ef/efab.txt"}
	require.NoError(t, b.Put(ctx, []byte("bye"), loc))
	require.NoError(t, b.Delete(ctx, loc))

	exists, err := b.Exists(ctx, loc)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExternalBackend_List(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	paths, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	require.NoError(t, b.Put(ctx, []byte("1"), Locator{Kind: KindExternal, Path: "aa/aab.txt"}))
	require.NoError(t, b.Put(ctx, []byte("2"), Locator{Kind: KindExternal, Path: "bb/bbc.txt"}))

	paths, err = b.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aa/aab.txt", "bb/bbc.txt"}, paths)
}

func TestExternalBackend_PathEscape(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, path := range []string{"../escape", "/abs/path", "ab/../../escape"} {
		loc := Locator{Kind: KindExternal, Path: path}
		err := b.Put(ctx, []byte("x"), loc)
		assert.ErrorIs(t, err, ErrInvalidLocator, path)
	}
}

func TestExternalBackend_WrongKind(t *testing.T) {
	b, err := NewExternalBackend(t.TempDir(), nil)
	require.NoError(t, err)

	loc := Locator{Kind: KindInline, Payload: []byte("x")}
	assert.ErrorIs(t, b.Put(context.Background(), []byte("x"), loc), ErrInvalidLocator)
}
