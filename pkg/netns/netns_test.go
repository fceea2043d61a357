package netns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBridgeMatchesCurrentUserRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lxc-usernet")
	content := "# comment\nalice veth lxcbr0 10\nbob veth lxcbr1 5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	bridge, devType, err := detectBridgeFromFile(path, "bob")
	require.NoError(t, err)
	assert.Equal(t, "lxcbr1", bridge)
	assert.Equal(t, "veth", devType)
}

func TestDetectBridgeNoMatchReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lxc-usernet")
	require.NoError(t, os.WriteFile(path, []byte("alice veth lxcbr0 10\n"), 0644))

	bridge, devType, err := detectBridgeFromFile(path, "nobody")
	require.NoError(t, err)
	assert.Empty(t, bridge)
	assert.Empty(t, devType)
}

func TestDetectBridgeMissingFileReturnsEmpty(t *testing.T) {
	bridge, devType, err := detectBridgeFromFile(filepath.Join(t.TempDir(), "missing"), "alice")
	require.NoError(t, err)
	assert.Empty(t, bridge)
	assert.Empty(t, devType)
}

func TestDetectBridgeSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lxc-usernet")
	content := "not-enough-fields\nalice veth lxcbr0 10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	bridge, _, err := detectBridgeFromFile(path, "alice")
	require.NoError(t, err)
	assert.Equal(t, "lxcbr0", bridge)
}
