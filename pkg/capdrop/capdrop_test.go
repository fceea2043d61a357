package capdrop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLastCapIsAtLeastFallback checks property 6's static half on the
// running kernel: LastCap reports at least the fallback value.
// Drop itself is not exercised here since it mutates the calling
// process's actual capability sets and requires CAP_SETPCAP to run at
// all.
func TestLastCapIsAtLeastFallback(t *testing.T) {
	// /proc/sys/kernel/cap_last_cap is always readable on Linux test
	// runners, so this only checks that LastCap returns something
	// sane rather than forcing the unreadable path.
	last := LastCap()
	assert.GreaterOrEqual(t, last, capLastCapFallback, "LastCap() must be at least the documented fallback")
}

func TestDefaultWhitelistMatchesDocumentedSet(t *testing.T) {
	names := make(map[string]bool, len(Default))
	for _, c := range Default {
		names[c.String()] = true
	}
	want := []string{
		"chown", "dac_override", "fowner", "fsetid", "kill", "setuid",
		"setgid", "setpcap", "net_bind_service", "net_raw", "sys_chroot",
		"mknod", "audit_write", "setfcap",
	}
	require.Len(t, Default, len(want))
	for _, n := range want {
		assert.Truef(t, names[n], "Default whitelist must include cap_%s", n)
	}
	excluded := []string{"sys_admin", "net_admin", "sys_module", "sys_ptrace"}
	for _, n := range excluded {
		assert.Falsef(t, names[n], "Default whitelist must not include cap_%s", n)
	}
}
