package build

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// resolveUser looks up username's uid/gid in passwd-formatted files,
// preferring a container's writable delta layer over its read-only
// base, matching how the merged overlay view would resolve the same
// path.
func resolveUser(layers []string, username string) (uid, gid int, err error) {
	f, err := openLayered(layers, "etc/passwd")
	if err != nil {
		return 0, 0, fmt.Errorf("build: open /etc/passwd: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ":")
		if len(fields) < 4 || fields[0] != username {
			continue
		}
		uid, err = strconv.Atoi(fields[2])
		if err != nil {
			return 0, 0, fmt.Errorf("build: invalid uid for %s: %w", username, err)
		}
		gid, err = strconv.Atoi(fields[3])
		if err != nil {
			return 0, 0, fmt.Errorf("build: invalid gid for %s: %w", username, err)
		}
		return uid, gid, nil
	}
	return 0, 0, fmt.Errorf("build: %s not found in /etc/passwd", username)
}

// resolveGroups returns every gid username is a supplementary member of,
// per /etc/group.
func resolveGroups(layers []string, username string) ([]int, error) {
	f, err := openLayered(layers, "etc/group")
	if err != nil {
		// A container without a group database simply has no
		// supplementary groups; this is not fatal.
		return nil, nil
	}
	defer f.Close()

	seen := map[int]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ":")
		if len(fields) <= 3 {
			continue
		}
		for _, member := range strings.Split(fields[3], ",") {
			if member != username {
				continue
			}
			gid, err := strconv.Atoi(fields[2])
			if err != nil {
				continue
			}
			seen[gid] = struct{}{}
		}
	}
	groups := make([]int, 0, len(seen))
	for gid := range seen {
		groups = append(groups, gid)
	}
	return groups, nil
}

// openLayered opens the first existing rel path found walking layers
// from last to first, so later layers shadow earlier ones the way an
// overlay mount would resolve the same lookup.
func openLayered(layers []string, rel string) (*os.File, error) {
	for i := len(layers) - 1; i >= 0; i-- {
		path := filepath.Join(layers[i], rel)
		if f, err := os.Open(path); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("not found in any layer: %s", rel)
}
