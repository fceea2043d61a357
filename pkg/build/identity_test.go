package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLayerFiles(t *testing.T, passwd, group string) []string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "etc"), 0755))
	if passwd != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "passwd"), []byte(passwd), 0644))
	}
	if group != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "group"), []byte(group), 0644))
	}
	return []string{dir}
}

func TestResolveIdentityDefaultsToRoot(t *testing.T) {
	layers := writeLayerFiles(t, "root:x:0:0::/root:/bin/sh\n", "")
	uid, gid, groups, err := resolveIdentity(layers, "")
	require.NoError(t, err)
	assert.Equal(t, 0, uid)
	assert.Equal(t, 0, gid)
	assert.Nil(t, groups)
}

func TestResolveIdentityNumericBypassesPasswd(t *testing.T) {
	layers := []string{t.TempDir()}
	uid, gid, groups, err := resolveIdentity(layers, "1000")
	require.NoError(t, err)
	assert.Equal(t, 1000, uid)
	assert.Equal(t, 1000, gid)
	assert.Nil(t, groups, "want nil for a numeric user")
}

func TestResolveIdentityNumericWithNumericGroup(t *testing.T) {
	layers := []string{t.TempDir()}
	uid, gid, _, err := resolveIdentity(layers, "1000:2000")
	require.NoError(t, err)
	assert.Equal(t, 1000, uid)
	assert.Equal(t, 2000, gid)
}

func TestResolveIdentityByNameWithSupplementaryGroups(t *testing.T) {
	layers := writeLayerFiles(t,
		"app:x:1001:1001::/home/app:/bin/sh\n",
		"wheel:x:10:app\ndocker:x:999:app,other\n",
	)
	uid, gid, groups, err := resolveIdentity(layers, "app")
	require.NoError(t, err)
	assert.Equal(t, 1001, uid)
	assert.Equal(t, 1001, gid)
	assert.ElementsMatch(t, []int{10, 999}, groups)
}

func TestResolveIdentityByNameWithNamedGroupOverride(t *testing.T) {
	layers := writeLayerFiles(t,
		"app:x:1001:1001::/home/app:/bin/sh\n",
		"admins:x:50:app\n",
	)
	_, gid, _, err := resolveIdentity(layers, "app:admins")
	require.NoError(t, err)
	assert.Equal(t, 50, gid, "overridden by named group")
}

func TestResolveIdentityUnknownUserErrors(t *testing.T) {
	layers := writeLayerFiles(t, "root:x:0:0::/root:/bin/sh\n", "")
	_, _, _, err := resolveIdentity(layers, "nobody")
	assert.Error(t, err, "expected an error for a user missing from /etc/passwd")
}
