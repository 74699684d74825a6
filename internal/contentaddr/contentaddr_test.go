package contentaddr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docstored/internal/blob"
)

func TestIdentify(t *testing.T) {
	// Known SHA-256 of "hello".
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Identify([]byte("hello")))

	// Identity depends on bytes only.
	assert.Equal(t, Identify([]byte("same")), Identify([]byte("same")))
	assert.NotEqual(t, Identify([]byte("a")), Identify([]byte("b")))

	// Empty content still hashes.
	assert.Len(t, Identify(nil), 64)
}

func TestChooser_ChooseBackend(t *testing.T) {
	// Default threshold of zero sends all non-empty content external.
	c := Chooser{SizeThreshold: DefaultSizeThreshold}
	assert.Equal(t, blob.KindInline, c.ChooseBackend(0))
	assert.Equal(t, blob.KindExternal, c.ChooseBackend(1))

	c = Chooser{SizeThreshold: 1024}
	assert.Equal(t, blob.KindInline, c.ChooseBackend(1024)) // at threshold stays inline
	assert.Equal(t, blob.KindExternal, c.ChooseBackend(1025))
}

func TestExternalPath(t *testing.T) {
	hash := Identify([]byte("doc"))
	path := ExternalPath(hash, "Report.PDF")

	assert.Equal(t, hash[:2]+"/"+hash+".pdf", path)
	assert.True(t, strings.HasPrefix(path, hash[:2]+"/"))

	// No extension on filename means no extension on path.
	assert.Equal(t, hash[:2]+"/"+hash, ExternalPath(hash, "README"))
}

func TestLocatorFor(t *testing.T) {
	data := []byte("content")
	hash := Identify(data)

	ext := LocatorFor(blob.KindExternal, hash, "a.txt", data)
	require.NoError(t, ext.Validate())
	assert.Equal(t, blob.KindExternal, ext.Kind)
	assert.Equal(t, ExternalPath(hash, "a.txt"), ext.Path)
	assert.Empty(t, ext.Payload)

	inl := LocatorFor(blob.KindInline, hash, "a.txt", data)
	require.NoError(t, inl.Validate())
	assert.Equal(t, blob.KindInline, inl.Kind)
	assert.Equal(t, data, inl.Payload)
	assert.Empty(t, inl.Path)
}
