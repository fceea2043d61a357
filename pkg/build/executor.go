// Package build executes the RUN, COPY and ADD steps a Dockerfile
// evaluation accumulates against a container's base and delta layers,
// each step running inside its own short-lived namespace child.
package build

import (
	"fmt"
	"sort"

	"github.com/cuemby/shoebox/pkg/nsrun"
	"github.com/cuemby/shoebox/pkg/rootfs"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
	"github.com/cuemby/shoebox/pkg/types"
)

// Execute runs every accumulated build step against c's base and delta
// layers, in order. A failing step aborts the build; the delta layer is
// left as-is for inspection, matching how a failed RUN leaves a Docker
// image build's intermediate container around. targetUID/targetGID are
// the outer ids the build namespace maps to; -1 means "the caller",
// matching nsrun.ResolveUserNamespace's own default.
func Execute(c *types.Container, spec *types.ImageSpec, targetUID, targetGID int) error {
	for _, step := range spec.RunCommands {
		var err error
		switch s := step.(type) {
		case types.RunStep:
			err = runStep(c, s, targetUID, targetGID)
		case types.CopyStep:
			err = copyOrAdd(c, s.Sources, s.Destination, false, targetUID, targetGID)
		case types.AddStep:
			err = copyOrAdd(c, s.Sources, s.Destination, true, targetUID, targetGID)
		default:
			err = fmt.Errorf("unrecognized build step %T", step)
		}
		if err != nil {
			return fmt.Errorf("build: %s: %w", step.Describe(), err)
		}
	}
	return nil
}

// runStep executes one RUN's command line inside a fresh mount/uts/ipc/
// pid/user namespace, overlaying c's base and delta so the step both
// sees prior steps' writes and persists its own back into the delta.
func runStep(c *types.Container, s types.RunStep, targetUID, targetGID int) error {
	layers := []string{c.TargetBase, c.TargetDelta}
	uid, gid, groups, err := resolveIdentity(layers, s.Context.User)
	if err != nil {
		return err
	}

	uidMap, gidMap, outerUID, outerGID, err := nsrun.ResolveUserNamespace(targetUID, targetGID)
	if err != nil {
		return fmt.Errorf("resolve id map: %w", err)
	}

	handle, err := nsrun.Run(nsrun.Options{
		Namespaces: types.Namespaces{Mount: true, UTS: true, IPC: true, PID: true, User: true},
		Rootfs: nsrun.RootfsConfig{
			Target:    c.TargetRoot,
			Layers:    layers,
			SpecialFS: false,
		},
		Hostname:  hostnameFor(c),
		TargetUID: uid,
		TargetGID: gid,
		Groups:    groups,
		UIDMap:    uidMap,
		GIDMap:    gidMap,
		OuterUID:  outerUID,
		OuterGID:  outerGID,
		Payload: nsrun.Payload{
			Kind: nsrun.KindExec,
			Exec: &nsrun.ExecPayload{
				Argv: s.Command,
				Env:  envSlice(s.Context.Environ),
				Dir:  s.Context.Workdir,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	waitErr := handle.Cmd.Wait()
	exitCode, signal := rootfs.ExitStatusFor(waitErr)
	if signal != 0 {
		return &shoeboxerr.ChildSignaled{Signal: signal}
	}
	if exitCode != 0 {
		return &shoeboxerr.ChildExited{Code: exitCode}
	}
	return nil
}

func hostnameFor(c *types.Container) string {
	if len(c.ID) < 12 {
		return c.ID
	}
	return c.ID[:12]
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
