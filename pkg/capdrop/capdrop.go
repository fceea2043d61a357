// Package capdrop reduces a process's capability bounding set, and its
// effective/permitted/inheritable sets, down to the fixed whitelist a
// container needs to behave like a normal unprivileged Linux process
// rather than a fully capable root.
package capdrop

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/moby/sys/capability"
)

// capLastCapFallback is used when /proc/sys/kernel/cap_last_cap cannot be
// read, matching the last capability defined at the time this whitelist
// was written (CAP_BLOCK_SUSPEND, 36).
const capLastCapFallback = capability.CAP_BLOCK_SUSPEND

// Default is the fixed set of capabilities a container process keeps
// after dropping. It intentionally excludes CAP_SYS_ADMIN, CAP_NET_ADMIN,
// CAP_SYS_MODULE and anything else that would let an unprivileged
// container escalate or touch the host.
var Default = []capability.Cap{
	capability.CAP_CHOWN,
	capability.CAP_DAC_OVERRIDE,
	capability.CAP_FOWNER,
	capability.CAP_FSETID,
	capability.CAP_KILL,
	capability.CAP_SETUID,
	capability.CAP_SETGID,
	capability.CAP_SETPCAP,
	capability.CAP_NET_BIND_SERVICE,
	capability.CAP_NET_RAW,
	capability.CAP_SYS_CHROOT,
	capability.CAP_MKNOD,
	capability.CAP_AUDIT_WRITE,
	capability.CAP_SETFCAP,
}

// LastCap returns the highest capability value the running kernel
// defines, read from /proc/sys/kernel/cap_last_cap.
func LastCap() capability.Cap {
	f, err := os.Open("/proc/sys/kernel/cap_last_cap")
	if err != nil {
		return capLastCapFallback
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return capLastCapFallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return capLastCapFallback
	}
	return capability.Cap(n)
}

// Drop removes every capability not in keep from the calling process's
// bounding set, then clears and resets the effective, permitted and
// inheritable sets to exactly keep. It must run before the final
// setuid/setgid so the dropped bounding set also constrains any later
// re-acquisition of privilege.
func Drop(keep []capability.Cap) error {
	if keep == nil {
		keep = Default
	}
	keepSet := make(map[capability.Cap]bool, len(keep))
	for _, c := range keep {
		keepSet[c] = true
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("capdrop: load process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("capdrop: load: %w", err)
	}

	last := LastCap()
	for c := capability.Cap(0); c <= last; c++ {
		if keepSet[c] {
			continue
		}
		if err := caps.Unset(capability.BOUNDING, c); err != nil {
			// Already dropped or unsupported by this kernel; not fatal.
			continue
		}
	}

	caps.Clear(capability.CAPS)
	caps.Set(capability.INHERITABLE|capability.EFFECTIVE|capability.PERMITTED, keep...)

	if err := caps.Apply(capability.CAPS | capability.BOUNDING); err != nil {
		return fmt.Errorf("capdrop: apply: %w", err)
	}
	return nil
}
