package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/shoebox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsContainerID(t *testing.T) {
	assert.True(t, IsContainerID("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"))
	assert.False(t, IsContainerID("latest"))
}

func TestCreateBuildsRuntimeTree(t *testing.T) {
	s := New(t.TempDir())
	id := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"

	c, err := s.Create(id)
	require.NoError(t, err)
	for _, dir := range []string{c.TargetBase, c.TargetDelta, c.TargetRoot, c.VolumeRoot} {
		_, err := os.Stat(dir)
		assert.NoErrorf(t, err, "expected %s to exist", dir)
	}
}

func TestSaveAndLoadMetadata(t *testing.T) {
	s := New(t.TempDir())
	id := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	c, err := s.Create(id)
	require.NoError(t, err)

	spec := types.NewImageSpec()
	spec.Context.User = "app"
	spec.Context.Workdir = "/srv"
	spec.Context.Environ["FOO"] = "bar"
	spec.Command = []string{"/bin/sh"}

	require.NoError(t, s.SaveMetadata(c, spec))

	loaded := s.Container(id)
	got, err := s.LoadMetadata(loaded)
	require.NoError(t, err)
	assert.Equal(t, "app", got.Context.User)
	assert.Equal(t, "/srv", got.Context.Workdir)
	assert.Equal(t, "bar", got.Context.Environ["FOO"])
}

func TestPIDAndIPAddressRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	id := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	c, err := s.Create(id)
	require.NoError(t, err)

	require.NoError(t, s.WritePID(c, 4242))
	assert.Equal(t, 4242, s.PID(c))

	require.NoError(t, s.WriteIPAddress(c, "10.0.3.5"))
	assert.Equal(t, "10.0.3.5", s.IPAddress(c))

	require.NoError(t, s.CleanupRuntimeFiles(c))
	assert.Zero(t, s.PID(c), "expected PID() to be 0 after cleanup")
}

func TestTagUntagAndResolve(t *testing.T) {
	s := New(t.TempDir())
	id := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	_, err := s.Create(id)
	require.NoError(t, err)

	require.NoError(t, s.Tag(id, "myapp", false))
	resolved, err := s.Resolve("myapp")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	tags, err := s.Tags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"myapp"}, tags)

	assert.Error(t, s.Tag(id, "myapp", false), "expected retagging without force to fail")
	assert.NoError(t, s.Tag(id, "myapp", true))

	require.NoError(t, s.Untag("myapp"))
	_, err = s.Resolve("myapp")
	assert.Error(t, err, "expected Resolve() to fail after Untag()")
}

func TestTagRejectsContainerIDLookingName(t *testing.T) {
	s := New(t.TempDir())
	id := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	other := "fedcba9876543210fedcba9876543210fedcba9876543210fedcba98765432"
	_, err := s.Create(id)
	require.NoError(t, err)
	assert.Error(t, s.Tag(id, other, false), "expected tag that looks like a container id to be rejected")
}

func TestListReturnsOnlyContainerIDs(t *testing.T) {
	s := New(t.TempDir())
	id := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.Tag(id, "myapp", false))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestListOnEmptyStoreDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	ids, err := s.List()
	require.NoError(t, err)
	assert.Nil(t, ids)
}
