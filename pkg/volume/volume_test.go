package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMangleName(t *testing.T) {
	cases := map[string]string{
		"/data":    "data",
		"/var/log": "var_log",
		"/a_b/c":   "a__b_c",
		"data/":    "data",
		"/":        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, MangleName(in), "MangleName(%q)", in)
	}
}

func TestResolveCreatesMissingDirectories(t *testing.T) {
	root := t.TempDir()
	volumes := map[string]struct{}{"/data": {}, "/var/log": {}}

	mappings, err := Resolve(root, volumes)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	for _, m := range mappings {
		_, err := os.Stat(m.HostPath)
		assert.NoErrorf(t, err, "expected %s to exist", m.HostPath)
	}
}

func TestResolveFollowsSymlink(t *testing.T) {
	root := t.TempDir()
	elsewhere := t.TempDir()
	mangled := MangleName("/data")
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(root, mangled)))

	mappings, err := Resolve(root, map[string]struct{}{"/data": {}})
	require.NoError(t, err)
	assert.Equal(t, elsewhere, mappings[0].HostPath)
}
