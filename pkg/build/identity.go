package build

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// resolveGroupByName looks up name's gid in /etc/group, the same layered
// lookup resolveUser and resolveGroups use.
func resolveGroupByName(layers []string, name string) (int, error) {
	f, err := openLayered(layers, "etc/group")
	if err != nil {
		return 0, fmt.Errorf("build: open /etc/group: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ":")
		if len(fields) < 3 || fields[0] != name {
			continue
		}
		return strconv.Atoi(fields[2])
	}
	return 0, fmt.Errorf("build: group %q not found in /etc/group", name)
}

// resolveIdentity turns a Dockerfile USER value ("", "root", "1000",
// "1000:wheel", "app", "app:admins") into the uid/gid/supplementary
// groups a build step or the container's own entrypoint runs as. A
// numeric user skips /etc/passwd entirely, matching how Docker accepts
// bare uids for images with no password database.
// ResolveIdentity is resolveIdentity's exported form, reused by `run` to
// resolve the uid/gid/supplementary groups a container's own entrypoint
// executes as, against the same base/delta layer stack a build step
// would use.
func ResolveIdentity(layers []string, user string) (uid, gid int, groups []int, err error) {
	return resolveIdentity(layers, user)
}

func resolveIdentity(layers []string, user string) (uid, gid int, groups []int, err error) {
	if user == "" {
		user = "root"
	}
	name, group, hasGroup := strings.Cut(user, ":")

	if n, convErr := strconv.Atoi(name); convErr == nil {
		uid, gid = n, n
		if hasGroup {
			if gid, err = resolveGroup(layers, group); err != nil {
				return 0, 0, nil, err
			}
		}
		return uid, gid, nil, nil
	}

	uid, gid, err = resolveUser(layers, name)
	if err != nil {
		return 0, 0, nil, err
	}
	if hasGroup {
		if gid, err = resolveGroup(layers, group); err != nil {
			return 0, 0, nil, err
		}
	}
	groups, err = resolveGroups(layers, name)
	if err != nil {
		return 0, 0, nil, err
	}
	return uid, gid, groups, nil
}

func resolveGroup(layers []string, group string) (int, error) {
	if n, err := strconv.Atoi(group); err == nil {
		return n, nil
	}
	return resolveGroupByName(layers, group)
}
