// Package nsrun orchestrates the namespace child a build step or
// container run executes in.
//
// A Go process cannot safely fork() without exec()ing immediately, so
// the child is produced by re-executing /proc/self/exe
// (go.podman.io/storage/pkg/reexec) with Cloneflags set on
// SysProcAttr — the kernel performs fork and unshare as a single clone.
// The child blocks on an inherited barrier pipe until the parent has
// finished applying newuidmap/newgidmap against its pid, then composes
// its root filesystem (pkg/rootfs), drops capabilities (pkg/capdrop),
// switches to its target uid/gid, and finally execs, removes a path, or
// extracts a tar stream depending on the Payload it was given.
package nsrun
