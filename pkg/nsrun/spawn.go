package nsrun

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/cuemby/shoebox/pkg/idmap"
	"github.com/cuemby/shoebox/pkg/netns"
	"github.com/cuemby/shoebox/pkg/types"
	"go.podman.io/storage/pkg/reexec"
)

// Handle wraps the reexec'd child process and the pipe used to stream a
// tar payload into it (only populated for KindUntar spawns).
type Handle struct {
	Cmd     *exec.Cmd
	TarSink io.WriteCloser // non-nil only when Payload.Kind == KindUntar
}

// Options describes one namespace child invocation end to end: which
// namespaces to unshare, how to compose its root filesystem, and what it
// should do once inside.
type Options struct {
	Namespaces types.Namespaces
	Rootfs     RootfsConfig
	Caps       []string
	Hostname   string

	TargetUID int
	TargetGID int
	Groups    []int

	// UIDMap/GIDMap, when non-empty, are applied by the parent via
	// newuidmap/newgidmap against the child's pid before the barrier is
	// released. When both are empty, the child falls back to mapping
	// OuterUID/OuterGID directly onto uid/gid 0 itself.
	UIDMap, GIDMap       []idmap.Entry
	OuterUID, OuterGID   int

	// Bridge, when non-empty, asks Run to plumb a veth pair into the
	// child's network namespace via lxc-user-nic and hand it the address
	// to configure. Requires Namespaces.Network.
	Bridge    string
	DevType   string // "veth" unless the lxc-usernet record says otherwise
	NetIP     string
	PrefixLen int
	Gateway   string

	Payload Payload // Kind/Exec/RemoveAll/Untar only; rest is filled by Run
}

func cloneFlags(ns types.Namespaces) uintptr {
	var flags uintptr
	if ns.Mount {
		flags |= unixCloneNewNS
	}
	if ns.UTS {
		flags |= unixCloneNewUTS
	}
	if ns.IPC {
		flags |= unixCloneNewIPC
	}
	if ns.PID {
		flags |= unixCloneNewPID
	}
	if ns.Network {
		flags |= unixCloneNewNet
	}
	if ns.User {
		flags |= unixCloneNewUser
	}
	return flags
}

// Run spawns the namespace child, applies id mapping, releases the
// barrier, and returns a Handle the caller waits on. Callers that passed
// a KindUntar payload must write the tar stream to Handle.TarSink and
// close it themselves.
func Run(opts Options) (*Handle, error) {
	payload := opts.Payload
	payload.Rootfs = opts.Rootfs
	payload.Caps = opts.Caps
	payload.Hostname = opts.Hostname
	payload.TargetUID = opts.TargetUID
	payload.TargetGID = opts.TargetGID
	payload.Groups = opts.Groups
	payload.UIDMap = opts.UIDMap
	payload.GIDMap = opts.GIDMap
	payload.SelfMap = opts.Namespaces.User && len(opts.UIDMap) == 0 && len(opts.GIDMap) == 0
	payload.SelfMapOuterUID = opts.OuterUID
	payload.SelfMapOuterGID = opts.OuterGID
	if opts.Bridge != "" {
		payload.Net = &NetConfigPayload{IPAddress: opts.NetIP, PrefixLen: opts.PrefixLen, Gateway: opts.Gateway}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nsrun: encode payload: %w", err)
	}

	payloadR, payloadW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("nsrun: payload pipe: %w", err)
	}
	barrierR, barrierW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("nsrun: barrier pipe: %w", err)
	}

	cmd := reexec.Command(EntryPoint)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{payloadR, barrierR}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags(opts.Namespaces),
	}

	var tarSink io.WriteCloser
	var tarSource *os.File
	if payload.Kind == KindUntar {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("nsrun: tar pipe: %w", err)
		}
		cmd.Stdin = pr
		tarSource = pr
		tarSink = pw
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("nsrun: start child: %w", err)
	}
	payloadR.Close()
	barrierR.Close()
	if tarSource != nil {
		tarSource.Close()
	}

	if _, err := io.Copy(payloadW, bytes.NewReader(raw)); err != nil {
		payloadW.Close()
		return nil, fmt.Errorf("nsrun: write payload: %w", err)
	}
	payloadW.Close()

	if opts.Namespaces.User && (len(opts.UIDMap) > 0 || len(opts.GIDMap) > 0) {
		if err := idmap.Apply(cmd.Process.Pid, opts.UIDMap, opts.GIDMap); err != nil {
			// The child falls back to SelfMap only when no map was
			// attempted at all; a failed attempt here is fatal, since
			// the child is now waiting on a barrier that assumes success.
			barrierW.Close()
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("nsrun: apply id map: %w", err)
		}
	}

	if opts.Bridge != "" {
		if err := netns.CreateVeth(cmd.Process.Pid, opts.DevType, opts.Bridge); err != nil {
			barrierW.Close()
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("nsrun: create veth: %w", err)
		}
	}

	if _, err := barrierW.Write([]byte{0}); err != nil {
		return nil, fmt.Errorf("nsrun: release barrier: %w", err)
	}
	barrierW.Close()

	return &Handle{Cmd: cmd, TarSink: tarSink}, nil
}
