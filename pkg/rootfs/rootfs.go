// Package rootfs composes a container's merged root filesystem: an
// overlay of a read-only base image and a writable delta, declared
// volume bind mounts, devpts/proc/sys/etc, and the final pivot_root that
// makes it the process's new / before exec.
package rootfs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cuemby/shoebox/pkg/log"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
)

var componentLog = log.WithComponent("rootfs")

// Composer mounts layers, volumes and special filesystems under Target
// and then pivots the process root into it. A zero-value Layers means
// Target is bind-mounted onto itself (used for a plain build base, which
// has no delta yet).
type Composer struct {
	Target     string
	Layers     []string // exactly 0 or 2: [lower, upper]
	Volumes    map[string]string // volume source -> container-relative target
	SpecialFS  bool              // mount devpts/proc/sys/etc before the pivot

	// HostsContent and ResolvConf, when non-nil, replace the host's own
	// /etc/hosts and /etc/resolv.conf content mountEtcFiles stages in.
	// Only a run (rather than a build RUN/COPY/ADD step) generates these,
	// since only a run knows the container's private IP, hostname and
	// linked containers.
	HostsContent []byte
	ResolvConf   []byte
}

// subdir joins a container-relative path onto Target.
func (c *Composer) subdir(path string) string {
	return filepath.Join(c.Target, filepath.Clean("/"+path))
}

// EnsureTarget creates Target if it does not exist yet, which is only
// legal when an overlay is being composed (a plain bind target must
// already exist).
func (c *Composer) EnsureTarget() error {
	if _, err := os.Stat(c.Target); err == nil {
		return nil
	}
	if len(c.Layers) == 0 {
		return &shoeboxerr.NotFound{Kind: "root", Ref: c.Target}
	}
	return os.MkdirAll(c.Target, 0755)
}

// mountRoot mounts the overlay (or a self bind mount, to create a mount
// point pivot_root can use) at Target.
func (c *Composer) mountRoot() error {
	if len(c.Layers) == 0 {
		return bindMount(c.Target, c.Target, false, false)
	}
	if len(c.Layers) != 2 {
		return &shoeboxerr.Unsupported{Reason: "overlay stacks of more than two layers are not supported"}
	}
	for _, layer := range c.Layers {
		if err := os.MkdirAll(layer, 0755); err != nil {
			return fmt.Errorf("rootfs: create layer %s: %w", layer, err)
		}
	}
	lower, upper := c.Layers[0], c.Layers[1]
	work := upper + ".work"
	if err := os.MkdirAll(work, 0755); err != nil {
		return fmt.Errorf("rootfs: create overlay workdir: %w", err)
	}
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, work)
	return unix.Mount("overlay", c.Target, "overlay", 0, opts)
}

// mountVolumes recursively bind mounts each declared volume's host
// source onto its container-relative destination.
func (c *Composer) mountVolumes() error {
	for source, target := range c.Volumes {
		real := c.subdir(target)
		if err := os.MkdirAll(real, 0755); err != nil {
			return fmt.Errorf("rootfs: create volume mountpoint %s: %w", real, err)
		}
		if err := bindMount(source, real, false, true); err != nil {
			return fmt.Errorf("rootfs: bind mount volume %s -> %s: %w", source, real, err)
		}
	}
	return nil
}

func (c *Composer) mountDevices() error {
	devpts := c.subdir("/dev/pts")
	ptmx := c.subdir("/dev/ptmx")

	if err := os.MkdirAll(devpts, 0755); err != nil {
		return err
	}
	opts := "newinstance,gid=5,mode=0620,ptmxmode=0666"
	if err := unix.Mount("devpts", devpts, "devpts", unix.MS_NOEXEC|unix.MS_NOSUID, opts); err != nil {
		opts = "newinstance,mode=0620,ptmxmode=0666"
		if err := unix.Mount("devpts", devpts, "devpts", unix.MS_NOEXEC|unix.MS_NOSUID, opts); err != nil {
			return fmt.Errorf("rootfs: mount devpts: %w", err)
		}
	}
	if _, err := os.Lstat(ptmx); os.IsNotExist(err) {
		if err := os.Symlink("pts/ptmx", ptmx); err != nil {
			return fmt.Errorf("rootfs: symlink ptmx: %w", err)
		}
	}

	if devshm := c.subdir("/dev/shm"); dirExists(devshm) {
		if err := unix.Mount("tmpfs", devshm, "tmpfs", unix.MS_NOEXEC|unix.MS_NODEV|unix.MS_NOSUID, ""); err != nil {
			return fmt.Errorf("rootfs: mount /dev/shm: %w", err)
		}
	}

	for _, dev := range []string{"null", "zero", "tty", "random", "urandom"} {
		if err := c.makedev("/dev/" + dev); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composer) makedev(name string) error {
	target := c.subdir(name)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.WriteFile(target, []byte("placeholder for bind mount\n"), 0644); err != nil {
			return fmt.Errorf("rootfs: create device placeholder %s: %w", target, err)
		}
	}
	var st unix.Stat_t
	if err := unix.Stat(target, &st); err != nil {
		return fmt.Errorf("rootfs: stat %s: %w", target, err)
	}
	if st.Mode&(unix.S_IFBLK|unix.S_IFCHR) != 0 {
		return nil
	}
	return bindMount(name, target, false, false)
}

func (c *Composer) mountProcfs() error {
	target := c.subdir("/proc")
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	if err := unix.Mount("proc", target, "proc", unix.MS_NOEXEC|unix.MS_NODEV|unix.MS_NOSUID, ""); err != nil {
		return fmt.Errorf("rootfs: mount proc: %w", err)
	}
	for _, sub := range []string{"sysrq-trigger", "sys", "irq", "bus"} {
		p := filepath.Join(target, sub)
		if err := bindMount(p, p, false, false); err != nil {
			continue
		}
		_ = bindMount(p, p, true, false)
	}
	return nil
}

func (c *Composer) mountSysfs() error {
	target := c.subdir("/sys")
	if err := bindMount("/sys", target, false, false); err != nil {
		componentLog.Debug().Err(err).Msg("failed to mount sysfs, probably not owned by us")
		return nil
	}
	_ = bindMount(target, target, true, false)
	return nil
}

// mountEtcFiles shadows /etc/resolv.conf and /etc/hosts with ResolvConf
// and HostsContent (or the host's own files when those are nil), and
// /etc/hostname with the current hostname, via a tmpfs staging area, so
// the container
// sees working DNS and hostname resolution without permanently mutating
// its base image.
func (c *Composer) mountEtcFiles() error {
	tmpfs, err := os.MkdirTemp(c.Target, ".etc")
	if err != nil {
		return fmt.Errorf("rootfs: create etc staging dir: %w", err)
	}
	if err := unix.Mount("tmpfs", tmpfs, "tmpfs", unix.MS_NOEXEC|unix.MS_NODEV|unix.MS_NOSUID, "size=1m"); err != nil {
		return fmt.Errorf("rootfs: mount etc tmpfs: %w", err)
	}
	defer func() {
		_ = unix.Unmount(tmpfs, 0)
		_ = os.Remove(tmpfs)
	}()

	writeAndMount := func(path string, content []byte) error {
		staged := filepath.Join(tmpfs, filepath.Base(path))
		if err := os.WriteFile(staged, content, 0644); err != nil {
			return err
		}
		target := c.subdir(path)
		if _, err := os.Stat(target); os.IsNotExist(err) {
			if err := os.WriteFile(target, nil, 0644); err != nil {
				return err
			}
		}
		return bindMount(staged, target, false, false)
	}

	files := map[string][]byte{
		"/etc/resolv.conf": c.ResolvConf,
		"/etc/hosts":       c.HostsContent,
	}
	for _, p := range []string{"/etc/resolv.conf", "/etc/hosts"} {
		content := files[p]
		if content == nil {
			hostContent, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("rootfs: read host %s: %w", p, err)
			}
			content = hostContent
		}
		if err := writeAndMount(p, content); err != nil {
			return fmt.Errorf("rootfs: mount %s: %w", p, err)
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("rootfs: read hostname: %w", err)
	}
	return writeAndMount("/etc/hostname", []byte(hostname+"\n"))
}

// PivotRoot moves Target to be the process's new root, leaving the old
// root mounted at a temporary directory which it immediately detaches
// and removes.
func (c *Composer) PivotRoot() error {
	oldRoot, err := os.MkdirTemp(c.Target, ".oldroot")
	if err != nil {
		return fmt.Errorf("rootfs: create pivot staging dir: %w", err)
	}
	if err := unix.PivotRoot(c.Target, oldRoot); err != nil {
		return fmt.Errorf("rootfs: pivot_root: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("rootfs: chdir /: %w", err)
	}
	pivoted := "/" + filepath.Base(oldRoot)
	if err := unix.Unmount(pivoted, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("rootfs: unmount old root: %w", err)
	}
	return os.Remove(pivoted)
}

// Build runs the full composition sequence: mount the overlay (or bind
// the target onto itself), bind declared volumes, populate
// devpts/proc/sys/etc when SpecialFS is set, and always pivot into the
// result.
func (c *Composer) Build() error {
	if err := c.EnsureTarget(); err != nil {
		return err
	}
	if err := c.mountRoot(); err != nil {
		return fmt.Errorf("rootfs: mount root: %w", err)
	}
	if len(c.Volumes) > 0 {
		if err := c.mountVolumes(); err != nil {
			return err
		}
	}
	if c.SpecialFS {
		if os.Geteuid() == 0 {
			if err := c.mountDevices(); err != nil {
				return err
			}
		} else {
			componentLog.Warn().Msg("cannot mount devpts when not mapped to root, expect tty malfunction")
		}
		if err := c.mountProcfs(); err != nil {
			return err
		}
		if err := c.mountSysfs(); err != nil {
			return err
		}
		if err := c.mountEtcFiles(); err != nil {
			return err
		}
	}
	return c.PivotRoot()
}

func bindMount(source, target string, readonly, rec bool) error {
	flags := uintptr(unix.MS_BIND)
	if rec {
		flags |= unix.MS_REC
	}
	if err := unix.Mount(source, target, "", flags, ""); err != nil {
		return err
	}
	if readonly {
		remountFlags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
		if rec {
			remountFlags |= unix.MS_REC
		}
		return unix.Mount(source, target, "", remountFlags, "")
	}
	return nil
}

func dirExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ExitStatusFor translates a *exec.Cmd's completed Wait error into a
// separate exit code and terminating signal (0, sig when signalled;
// code, 0 otherwise; -1, 0 when err is not an *exec.ExitError).
func ExitStatusFor(err error) (exitCode int, signal int) {
	if err == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 0, int(ws.Signal())
			}
			return ws.ExitStatus(), 0
		}
	}
	return -1, 0
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
