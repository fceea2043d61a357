package nsrun

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/moby/sys/capability"
	"go.podman.io/storage/pkg/reexec"
	"golang.org/x/sys/unix"

	"github.com/cuemby/shoebox/pkg/capdrop"
	"github.com/cuemby/shoebox/pkg/idmap"
	"github.com/cuemby/shoebox/pkg/log"
	"github.com/cuemby/shoebox/pkg/netns"
	"github.com/cuemby/shoebox/pkg/rootfs"
)

var componentLog = log.WithComponent("nsrun")

// EntryPoint is the reexec.Register name for the namespace child. It is
// never invoked directly; shoebox re-execs /proc/self/exe with
// os.Args[0] set to this value so reexec.Init dispatches to childMain.
const EntryPoint = "shoebox-nsinit"

// payloadFD and barrierFD are the fixed ExtraFiles slots Run wires up
// for the child: fd 3 carries the JSON payload, fd 4 is read once to
// block until the parent has finished id-mapping the child's pid.
const (
	payloadFD = 3
	barrierFD = 4
)

func init() {
	reexec.Register(EntryPoint, childMain)
}

// childMain runs inside the reexec'd, already-cloned (but not yet
// pivoted, capped or deprivileged) child process. Failures here exit
// with a distinguishable non-zero status since there is no longer a Go
// caller to return an error to.
func childMain() {
	payloadFile := os.NewFile(payloadFD, "payload")
	raw, err := io.ReadAll(payloadFile)
	payloadFile.Close()
	if err != nil {
		fatalf("nsrun: read payload: %v", err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		fatalf("nsrun: decode payload: %v", err)
	}

	barrier := os.NewFile(barrierFD, "barrier")
	buf := make([]byte, 1)
	_, _ = barrier.Read(buf) // blocks until parent writes or closes
	barrier.Close()

	if err := runChild(&p); err != nil {
		fatalf("nsrun: %v", err)
	}
	// runChild only returns for RemoveAll/Untar payloads; Exec payloads
	// replace the process image and never return here.
	os.Exit(0)
}

func runChild(p *Payload) error {
	childLog := componentLog
	if p.Hostname != "" {
		childLog = log.WithContainerID(p.Hostname)
	}

	if p.Hostname != "" {
		if err := unix.Sethostname([]byte(p.Hostname)); err != nil {
			childLog.Warn().Err(err).Msg("failed to set hostname")
		}
	}

	if len(p.UIDMap) == 0 && len(p.GIDMap) == 0 && p.SelfMap {
		if err := idmap.WriteSingle("uid", 0, p.SelfMapOuterUID); err != nil {
			return fmt.Errorf("self uid_map: %w", err)
		}
		if err := idmap.WriteSingle("gid", 0, p.SelfMapOuterGID); err != nil {
			return fmt.Errorf("self gid_map: %w", err)
		}
	}

	composer := &rootfs.Composer{
		Target:       p.Rootfs.Target,
		Layers:       p.Rootfs.Layers,
		Volumes:      p.Rootfs.Volumes,
		SpecialFS:    p.Rootfs.SpecialFS,
		HostsContent: p.Rootfs.HostsContent,
		ResolvConf:   p.Rootfs.ResolvConf,
	}
	if err := composer.Build(); err != nil {
		return fmt.Errorf("compose rootfs: %w", err)
	}

	if p.Net != nil {
		// Must run before capabilities are dropped: CAP_NET_ADMIN is
		// available to namespaced root but is not in capdrop.Default.
		if err := netns.ConfigureInterface(p.Net.IPAddress, p.Net.PrefixLen, p.Net.Gateway); err != nil {
			return fmt.Errorf("configure network: %w", err)
		}
	}

	keep, err := resolveCaps(p.Caps)
	if err != nil {
		return err
	}
	if err := capdrop.Drop(keep); err != nil {
		return fmt.Errorf("drop capabilities: %w", err)
	}

	if len(p.Groups) > 0 {
		if err := syscall.Setgroups(p.Groups); err != nil {
			childLog.Warn().Err(err).Msg("setgroups failed, retrying with primary gid only")
			if err := syscall.Setgroups([]int{p.TargetGID}); err != nil {
				return fmt.Errorf("setgroups: %w", err)
			}
		}
	}
	if err := syscall.Setgid(p.TargetGID); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := syscall.Setuid(p.TargetUID); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}

	switch p.Kind {
	case KindExec:
		return dispatchExec(p.Exec)
	case KindRemoveAll:
		return dispatchRemoveAll(p.RemoveAll)
	case KindUntar:
		return dispatchUntar(p.Untar)
	default:
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

func resolveCaps(names []string) ([]capability.Cap, error) {
	if len(names) == 0 {
		return capdrop.Default, nil
	}
	byName := make(map[string]capability.Cap)
	for _, c := range capability.List() {
		byName[c.String()] = c
	}
	out := make([]capability.Cap, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

func dispatchExec(p *ExecPayload) error {
	if p == nil || len(p.Argv) == 0 {
		return fmt.Errorf("exec payload missing argv")
	}
	if p.Dir != "" {
		if err := os.Chdir(p.Dir); err != nil {
			return fmt.Errorf("chdir %s: %w", p.Dir, err)
		}
	}
	argv0, err := lookPath(p.Argv[0], p.Env)
	if err != nil {
		return err
	}
	return syscall.Exec(argv0, p.Argv, p.Env)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(127)
}
