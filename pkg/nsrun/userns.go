package nsrun

import (
	"os"

	"github.com/cuemby/shoebox/pkg/idmap"
)

// ResolveUserNamespace decides how the id-map helper choreography
// populates a child's uid_map/gid_map.
//
// When targetUID/targetGID are both negative (unset), the outer user's
// /etc/subuid and /etc/subgid ranges are loaded and returned as the
// multi-entry maps Run passes to idmap.Apply (newuidmap/newgidmap).
// If either file yields no usable range, both maps are returned empty
// and outerUID/outerGID are set to the caller's own ids, so Run falls
// back to a single-entry "caller maps to root inside" map.
//
// When targetUID/targetGID are supplied (>= 0), subuid/subgid is
// bypassed entirely: the caller asked for a direct single-entry map of
// inside uid/gid 0 onto exactly that host id, so the child writes its
// own uid_map/gid_map directly once unshared rather than waiting on the
// parent to drive newuidmap/newgidmap.
func ResolveUserNamespace(targetUID, targetGID int) (uidMap, gidMap []idmap.Entry, outerUID, outerGID int, err error) {
	if targetUID >= 0 || targetGID >= 0 {
		outerUID, outerGID = targetUID, targetGID
		if outerUID < 0 {
			outerUID = os.Getuid()
		}
		if outerGID < 0 {
			outerGID = os.Getgid()
		}
		return nil, nil, outerUID, outerGID, nil
	}

	outerUID, outerGID = os.Getuid(), os.Getgid()
	uidMap, err = idmap.Load("/etc/subuid", outerUID)
	if err != nil {
		return nil, nil, outerUID, outerGID, err
	}
	gidMap, err = idmap.Load("/etc/subgid", outerGID)
	if err != nil {
		return nil, nil, outerUID, outerGID, err
	}
	if len(uidMap) == 0 || len(gidMap) == 0 {
		// No usable subuid/subgid ranges at all: fall back to mapping
		// the caller's own id onto inside root, matching S5.
		return nil, nil, outerUID, outerGID, nil
	}
	return uidMap, gidMap, outerUID, outerGID, nil
}
