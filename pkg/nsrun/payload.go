package nsrun

import "github.com/cuemby/shoebox/pkg/idmap"

// RootfsConfig is the subset of rootfs.Composer's fields that cross the
// reexec boundary as JSON (the Composer type itself is not used here to
// keep this package independent of rootfs's mount-syscall dependencies
// until the child actually needs them).
type RootfsConfig struct {
	Target    string
	Layers    []string
	Volumes   map[string]string
	SpecialFS bool

	// HostsContent/ResolvConf, when set, override the host's own
	// /etc/hosts and /etc/resolv.conf content for a run (see
	// rootfs.Composer).
	HostsContent []byte
	ResolvConf   []byte
}

// PayloadKind tags which of Exec, RemoveAll or Untar is populated,
// replacing the closure-over-fork pattern the original process model
// used: a reexec'd child cannot receive a Go closure, only data.
type PayloadKind string

const (
	KindExec      PayloadKind = "exec"
	KindRemoveAll PayloadKind = "rmtree"
	KindUntar     PayloadKind = "untar"
)

// ExecPayload replaces the current child process image after namespace
// setup completes.
type ExecPayload struct {
	Argv []string
	Env  []string
	Dir  string
}

// RemoveAllPayload recursively deletes Path from inside the mount
// namespace, so deletions honor the container's uid/gid mapping.
type RemoveAllPayload struct {
	Path string
}

// UntarPayload streams a tar stream, read from the child's stdin (the
// parent writes it through Handle.TarSink), onto Dest inside the
// namespace, observing AUFS/overlay style ".wh." whiteout markers.
type UntarPayload struct {
	Dest string
}

// NetConfigPayload is the address the child assigns to eth0 once the
// parent's lxc-user-nic invocation has plumbed a veth pair into the
// child's already-unshared network namespace. Gateway is empty when the
// bridge has no known address to route through.
type NetConfigPayload struct {
	IPAddress string
	PrefixLen int
	Gateway   string
}

// Payload is everything the reexec'd child needs: how to compose its
// root filesystem, which capabilities to retain, which uid/gid to run
// as, and what to do once it is set up.
type Payload struct {
	Kind PayloadKind

	Rootfs RootfsConfig

	// Caps lists capability names (matching capability.Cap.String())
	// to retain; nil means capdrop.Default.
	Caps []string

	// UIDMap/GIDMap are the outer->inner id ranges the parent already
	// applied via newuidmap/newgidmap before releasing the barrier. If
	// both are empty and SelfMap is set, the child maps its own single
	// uid/gid via /proc/self/{uid,gid}_map instead (the no-subuid
	// fallback).
	UIDMap, GIDMap []idmap.Entry
	SelfMap        bool
	SelfMapOuterUID int
	SelfMapOuterGID int

	// TargetUID/TargetGID are the in-container ids the process switches
	// to after capabilities are dropped. Resolved from /etc/passwd by
	// the caller (pkg/build) before spawning, since that lookup must
	// happen against the image's own files.
	TargetUID int
	TargetGID int
	Groups    []int

	Hostname string

	// Net is set only when the caller asked for a private network; the
	// child applies it itself since it already runs inside the target
	// network namespace by virtue of being that process.
	Net *NetConfigPayload

	Exec      *ExecPayload
	RemoveAll *RemoveAllPayload
	Untar     *UntarPayload
}
