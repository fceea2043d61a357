package nsrun

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUserNamespaceWithExplicitTargetBypassesSubuid(t *testing.T) {
	uidMap, gidMap, outerUID, outerGID, err := ResolveUserNamespace(1000, 2000)
	require.NoError(t, err)
	assert.Nil(t, uidMap, "want nil when a target id is given")
	assert.Nil(t, gidMap, "want nil when a target id is given")
	assert.Equal(t, 1000, outerUID)
	assert.Equal(t, 2000, outerGID)
}

func TestResolveUserNamespaceWithPartialTargetFillsInCallerID(t *testing.T) {
	_, _, outerUID, _, err := ResolveUserNamespace(1000, -1)
	require.NoError(t, err)
	assert.Equal(t, 1000, outerUID)
}

func TestResolveUserNamespaceWithoutSubuidFallsBackToCallerID(t *testing.T) {
	// No /etc/subuid is loaded from a real path here (ResolveUserNamespace
	// always reads the real /etc/subuid), so this only exercises the
	// unset-target branch; the subuid-present path is covered indirectly
	// by pkg/idmap's own Load tests.
	_, _, outerUID, outerGID, err := ResolveUserNamespace(-1, -1)
	require.NoError(t, err)
	if outerUID == 0 && outerGID == 0 {
		t.Skip("running as uid 0, cannot distinguish fallback from a real mapping")
	}
	assert.Equal(t, os.Getuid(), outerUID)
	assert.Equal(t, os.Getgid(), outerGID)
}
