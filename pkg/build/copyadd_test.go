package build

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDestinationMultiSourceRequiresTrailingSlash(t *testing.T) {
	_, _, err := resolveDestination([]string{"a", "b"}, "/app", false)
	assert.Error(t, err, "expected an error for multiple sources without a trailing slash destination")

	dest, name, err := resolveDestination([]string{"a", "b"}, "/app/", false)
	require.NoError(t, err)
	assert.Equal(t, "/app/", dest)
	assert.Empty(t, name)
}

func TestResolveDestinationSingleFileIsRenamed(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "binary")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0755))

	dest, name, err := resolveDestination([]string{src}, "/usr/local/bin/tool", false)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin", dest)
	assert.Equal(t, "tool", name)
}

func TestResolveDestinationSingleDirIsNotRenamed(t *testing.T) {
	dir := t.TempDir()
	dest, name, err := resolveDestination([]string{dir}, "/app", false)
	require.NoError(t, err)
	assert.Equal(t, "/app", dest, "directory contents flatten into dest")
	assert.Empty(t, name)
}

func TestResolveDestinationArchiveAlwaysExpandsAsDirectory(t *testing.T) {
	dest, name, err := resolveDestination([]string{"bundle.tar.gz"}, "/app", true)
	require.NoError(t, err)
	assert.Equal(t, "/app", dest, "recognized archive expands as a directory")
	assert.Empty(t, name)
}

func TestResolveDestinationURLIsRenamedLikeAFile(t *testing.T) {
	dest, name, err := resolveDestination([]string{"https://example.com/tool"}, "/usr/local/bin/tool", true)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin", dest)
	assert.Equal(t, "tool", name)
}

func TestStreamSourcesFlattensDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f.txt"), []byte("hi"), 0644))

	var buf bytes.Buffer
	require.NoError(t, streamSources(&buf, []string{dir}, "", false))

	tr := tar.NewReader(&buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.Contains(t, names, filepath.ToSlash(filepath.Join("sub", "f.txt")), "entry with no leading directory name")
}

func TestIsArchiveRecognizesExtensions(t *testing.T) {
	for _, name := range []string{"a.tar", "a.tgz", "a.tar.gz", "a.tbz", "a.tar.bz2", "a.txz", "a.tar.xz"} {
		assert.Truef(t, isArchive(name), "isArchive(%q)", name)
	}
	assert.False(t, isArchive("a.zip"))
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://example.com/x"))
	assert.True(t, isURL("http://example.com/x"))
	assert.False(t, isURL("/local/path"))
}
