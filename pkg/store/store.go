// Package store manages a shoebox root directory: the on-disk layout of
// every container (base/delta/root/volumes, metadata, pidfile, IP
// address), and the tag symlinks that let a human-chosen name stand in
// for a 64-character container id anywhere one is accepted.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/shoebox/pkg/registry"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
	"github.com/cuemby/shoebox/pkg/types"
)

var containerIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsContainerID reports whether id has the shape of a content-addressed
// container/image id, as opposed to a human-assigned tag.
func IsContainerID(id string) bool {
	return containerIDPattern.MatchString(id)
}

// Store roots every container's runtime directory under Dir/containers.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, which need not exist yet.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) containerBaseDir() string {
	return filepath.Join(s.Dir, "containers")
}

// Container builds the path layout for containerID without touching
// disk; callers use it both for existing containers and for ones still
// being created.
func (s *Store) Container(containerID string) *types.Container {
	runtimeDir := filepath.Join(s.containerBaseDir(), containerID)
	return &types.Container{
		ID:           containerID,
		RuntimeDir:   runtimeDir,
		MetadataFile: filepath.Join(runtimeDir, "metadata.json"),
		TargetBase:   filepath.Join(runtimeDir, "base"),
		TargetDelta:  filepath.Join(runtimeDir, "delta"),
		TargetRoot:   filepath.Join(runtimeDir, "root"),
		VolumeRoot:   filepath.Join(runtimeDir, "volumes"),
		PIDFile:      filepath.Join(runtimeDir, "pid"),
		IPAddrFile:   filepath.Join(runtimeDir, "ip_address"),
	}
}

// Create makes the runtime directory tree for a new container.
func (s *Store) Create(containerID string) (*types.Container, error) {
	c := s.Container(containerID)
	for _, dir := range []string{c.TargetBase, c.TargetDelta, c.TargetRoot, c.VolumeRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	return c, nil
}

// LoadMetadata reads and parses a container's persisted Docker v1
// metadata document into its ImageSpec form.
func (s *Store) LoadMetadata(c *types.Container) (*types.ImageSpec, error) {
	raw, err := os.ReadFile(c.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("store: read metadata: %w", err)
	}
	var meta registry.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("store: decode metadata: %w", err)
	}
	spec := metadataToSpec(&meta)
	c.Metadata = spec
	return spec, nil
}

// SaveMetadata persists spec as containerID's Docker v1-shaped metadata
// document, the form both the registry client and `shoebox metadata`
// expect to read back.
func (s *Store) SaveMetadata(c *types.Container, spec *types.ImageSpec) error {
	input := &registry.EnvelopeInput{
		Environ:     spec.Context.Environ,
		User:        spec.Context.User,
		Workdir:     spec.Context.Workdir,
		Hostname:    spec.Hostname,
		Entrypoint:  spec.Entrypoint,
		Command:     spec.Command,
		BaseImageID: spec.BaseImageID,
		CreatedAt:   now(),
	}
	for p := range spec.Volumes {
		input.Volumes = append(input.Volumes, p)
	}
	for p := range spec.Expose {
		input.ExposedPorts = append(input.ExposedPorts, fmt.Sprintf("%d/%s", p.Port, p.Protocol))
	}
	for _, d := range spec.OnBuild {
		input.OnBuild = append(input.OnBuild, d.String())
	}

	envelope := registry.ToEnvelope(c.ID, input)
	raw, err := json.MarshalIndent(envelope, "", "    ")
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	if err := os.MkdirAll(c.RuntimeDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(c.MetadataFile, raw, 0644); err != nil {
		return fmt.Errorf("store: write metadata: %w", err)
	}
	c.Metadata = spec
	return nil
}

// WritePID persists the pid of the process driving containerID's
// namespaces.
func (s *Store) WritePID(c *types.Container, pid int) error {
	return os.WriteFile(c.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// PID reads back a container's recorded pid, returning 0 if none is
// recorded or the file is unreadable.
func (s *Store) PID(c *types.Container) int {
	raw, err := os.ReadFile(c.PIDFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return pid
}

// WriteIPAddress persists the address assigned to a container's private
// network namespace.
func (s *Store) WriteIPAddress(c *types.Container, ip string) error {
	return os.WriteFile(c.IPAddrFile, []byte(ip+"\n"), 0644)
}

// IPAddress reads back a container's recorded address, returning "" if
// none is recorded.
func (s *Store) IPAddress(c *types.Container) string {
	raw, err := os.ReadFile(c.IPAddrFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// CleanupRuntimeFiles removes the pidfile and IP address file left
// behind by a container that has stopped.
func (s *Store) CleanupRuntimeFiles(c *types.Container) error {
	for _, p := range []string{c.PIDFile, c.IPAddrFile} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// List returns every container id present under the store root.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.containerBaseDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list containers: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if IsContainerID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Tag points name at containerID, replacing any existing tag only when
// force is set.
func (s *Store) Tag(containerID, name string, force bool) error {
	if !IsContainerID(containerID) {
		return &shoeboxerr.ConfigError{Reason: fmt.Sprintf("invalid container id %q", containerID)}
	}
	if IsContainerID(name) {
		return &shoeboxerr.ConfigError{Reason: "tag cannot be a valid container id"}
	}
	containerPath := filepath.Join(s.containerBaseDir(), containerID)
	if st, err := os.Stat(containerPath); err != nil || !st.IsDir() {
		return &shoeboxerr.NotFound{Kind: "container", Ref: containerID}
	}

	tagPath := filepath.Join(s.containerBaseDir(), name)
	if _, err := os.Lstat(tagPath); err == nil {
		if !force {
			return &shoeboxerr.ConfigError{Reason: fmt.Sprintf("tag %q already exists", name)}
		}
		if err := os.Remove(tagPath); err != nil {
			return err
		}
	}
	return os.Symlink(containerID, tagPath)
}

// Untag removes name's tag symlink, if it exists.
func (s *Store) Untag(name string) error {
	if IsContainerID(name) {
		return &shoeboxerr.ConfigError{Reason: "tag cannot be a valid container id"}
	}
	tagPath := filepath.Join(s.containerBaseDir(), name)
	if info, err := os.Lstat(tagPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return os.Remove(tagPath)
	}
	return nil
}

// Resolve turns a tag or container id into a container id, following a
// tag symlink when ref isn't already a 64-character hex id.
func (s *Store) Resolve(ref string) (string, error) {
	if IsContainerID(ref) {
		return ref, nil
	}
	target, err := os.Readlink(filepath.Join(s.containerBaseDir(), ref))
	if err != nil {
		return "", &shoeboxerr.NotFound{Kind: "tag", Ref: ref}
	}
	return filepath.Base(target), nil
}

// Tags returns every tag name currently pointing at containerID.
func (s *Store) Tags(containerID string) ([]string, error) {
	entries, err := os.ReadDir(s.containerBaseDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	runtimeDir := filepath.Join(s.containerBaseDir(), containerID)
	var tags []string
	for _, e := range entries {
		name := e.Name()
		if IsContainerID(name) {
			continue
		}
		path := filepath.Join(s.containerBaseDir(), name)
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(path)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(s.containerBaseDir(), target)
		}
		if target == runtimeDir {
			tags = append(tags, name)
		}
	}
	return tags, nil
}

func metadataToSpec(meta *registry.Metadata) *types.ImageSpec {
	df := meta.ToDockerfileMetadata()
	spec := types.NewImageSpec()
	spec.BaseImageID = meta.Parent
	spec.Context.User = df.User
	spec.Context.Workdir = df.WorkingDir
	spec.Context.Environ = map[string]string{}
	for _, kv := range df.Env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			spec.Context.Environ[parts[0]] = parts[1]
		}
	}
	for _, p := range df.ExposedPorts {
		parts := strings.SplitN(p, "/", 2)
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		proto := "tcp"
		if len(parts) == 2 {
			proto = parts[1]
		}
		spec.Expose[types.PortMapping{Port: port, Protocol: proto}] = struct{}{}
	}
	for _, v := range df.Volumes {
		spec.Volumes[v] = struct{}{}
	}
	spec.Entrypoint = df.Entrypoint
	spec.Command = df.Cmd
	spec.Hostname = df.Hostname
	return spec
}

func now() time.Time { return time.Now().UTC() }
