// Package volume resolves a container's declared VOLUME paths onto host
// directories under its volume root, mangling each container path into a
// filesystem-safe directory name and following any symlink an operator may
// have substituted to relocate a volume's storage.
package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MangleName converts a declared VOLUME path into a filename safe to use
// directly under a container's volume root: leading/trailing slashes are
// stripped, internal underscores are doubled so they can't collide with
// the slash replacement, and remaining slashes become underscores.
func MangleName(path string) string {
	trimmed := strings.Trim(path, "/")
	doubled := strings.ReplaceAll(trimmed, "_", "__")
	return strings.ReplaceAll(doubled, "/", "_")
}

// Mapping pairs a declared container path with the host directory it
// should be bind-mounted from.
type Mapping struct {
	ContainerPath string
	HostPath      string
}

// Resolve builds the host-to-container mappings for every volume
// declared in volumes, rooted at volumeRoot. A mangled name that is
// already a symlink is followed to its target, matching the historical
// on-disk layout where a volume could be relocated by replacing its
// directory entry with a link; otherwise a fresh directory is created
// the first time a given volume is seen.
func Resolve(volumeRoot string, volumes map[string]struct{}) ([]Mapping, error) {
	mappings := make([]Mapping, 0, len(volumes))
	for containerPath := range volumes {
		target := filepath.Join(volumeRoot, MangleName(containerPath))
		for {
			info, err := os.Lstat(target)
			if err != nil {
				break
			}
			if info.Mode()&os.ModeSymlink == 0 {
				break
			}
			link, err := os.Readlink(target)
			if err != nil {
				return nil, fmt.Errorf("volume: resolve symlink for %s: %w", containerPath, err)
			}
			target = link
		}
		if _, err := os.Stat(target); os.IsNotExist(err) {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, fmt.Errorf("volume: create %s: %w", target, err)
			}
		}
		mappings = append(mappings, Mapping{ContainerPath: containerPath, HostPath: target})
	}
	return mappings, nil
}
