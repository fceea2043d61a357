// Package idmap resolves a user's /etc/subuid and /etc/subgid ranges into
// the uid_map/gid_map entries newuidmap and newgidmap need to populate a
// freshly unshared user namespace, and drives those two setuid helpers
// against a waiting child's pid.
package idmap

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/shoebox/pkg/log"
)

var componentLog = log.WithComponent("idmap")

// Entry is one "inside outside length" row, matching the three
// whitespace-separated integers newuidmap/newgidmap expect on their
// argument list and the shape of a single /proc/<pid>/uid_map line.
type Entry struct {
	ContainerID int
	HostID      int
	Size        int
}

// kernel enforces at most five ranges per uid_map/gid_map write.
const maxRanges = 5

// Load reads path (/etc/subuid or /etc/subgid), collects every range
// belonging to the current user, and returns them as a contiguous
// sequence of Entry values starting at inside id 0. baseID is the
// caller's own uid (or gid); if none of the loaded ranges cover it, a
// warning is logged but the available ranges are still returned, matching
// the source's "map what we have" behavior.
func Load(path string, baseID int) ([]Entry, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("idmap: resolve current user: %w", err)
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idmap: open %s: %w", path, err)
	}
	defer f.Close()

	type rawRange struct{ min, count int }
	var ranges []rawRange
	canMapSelf := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 3 || fields[0] != u.Username {
			continue
		}
		min, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		if min <= baseID && baseID < min+count {
			canMapSelf = true
		}
		ranges = append(ranges, rawRange{min, count})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("idmap: read %s: %w", path, err)
	}

	if len(ranges) > 0 && !canMapSelf {
		componentLog.Warn().Int("id", baseID).Str("path", path).Str("user", u.Username).
			Msg("cannot map id via this file, consider adding a matching entry")
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].min < ranges[j].min })
	if len(ranges) > maxRanges {
		ranges = ranges[:maxRanges]
	}

	entries := make([]Entry, 0, len(ranges))
	lowerID := 0
	for _, r := range ranges {
		entries = append(entries, Entry{ContainerID: lowerID, HostID: r.min, Size: r.count})
		lowerID += r.count
	}
	return entries, nil
}

// Apply invokes newuidmap and newgidmap against pid with the given
// entries. Both maps are required together: an empty slice means "map
// root directly" is the caller's responsibility to arrange beforehand.
func Apply(pid int, uidMap, gidMap []Entry) error {
	if err := run("newuidmap", pid, uidMap); err != nil {
		return fmt.Errorf("idmap: newuidmap: %w", err)
	}
	if err := run("newgidmap", pid, gidMap); err != nil {
		return fmt.Errorf("idmap: newgidmap: %w", err)
	}
	return nil
}

func run(tool string, pid int, entries []Entry) error {
	args := []string{strconv.Itoa(pid)}
	for _, e := range entries {
		args = append(args, strconv.Itoa(e.ContainerID), strconv.Itoa(e.HostID), strconv.Itoa(e.Size))
	}
	cmd := exec.Command(tool, args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// WriteSingle writes a one-entry uid_map or gid_map directly for the
// calling process, for the fallback path where no subuid/subgid ranges
// are usable and the container maps 1:1 onto a single host id (normally
// the caller's own uid/gid, run as root would map 0:0).
func WriteSingle(mapName string, insideID, outsideID int) error {
	path := fmt.Sprintf("/proc/self/%s_map", mapName)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("idmap: open %s: %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d %d 1\n", insideID, outsideID)
	return err
}
