package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/shoebox/pkg/build"
	"github.com/cuemby/shoebox/pkg/dockerfile"
	"github.com/cuemby/shoebox/pkg/log"
	"github.com/cuemby/shoebox/pkg/netns"
	"github.com/cuemby/shoebox/pkg/nsrun"
	"github.com/cuemby/shoebox/pkg/rootfs"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
	"github.com/cuemby/shoebox/pkg/store"
	"github.com/cuemby/shoebox/pkg/types"
	"github.com/cuemby/shoebox/pkg/volume"
)

var runCmd = &cobra.Command{
	Use:   "run [CONTAINER_ID] [COMMAND...]",
	Short: "Run a container",
	Args:  cobra.ArbitraryArgs,
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("from", "", "clone a fresh container from IMAGE[:tag] instead of running an existing one")
	runCmd.Flags().String("entrypoint", "", "override the image's entrypoint")
	runCmd.Flags().StringArray("env", nil, "set an environment variable (K=V), may be repeated")
	runCmd.Flags().String("user", "", "run as USER instead of the image's default")
	runCmd.Flags().String("workdir", "", "override the image's working directory")
	runCmd.Flags().String("bridge", "", "give the container a private address on a bridge (name, \"auto\", or omit for none)")
	runCmd.Flags().String("ip", "", "the container's private address (required with --bridge)")
	runCmd.Flags().StringArray("link", nil, "link a running container as SRC:ALIAS, may be repeated")
	runCmd.Flags().Bool("rm", false, "remove the container once it exits")
	runCmd.Flags().IntP("target-uid", "U", -1, "outer uid the run namespace maps to (default: the caller)")
	runCmd.Flags().IntP("target-gid", "G", -1, "outer gid the run namespace maps to (default: the caller)")
}

func runRun(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	entrypointFlag, _ := cmd.Flags().GetString("entrypoint")
	envFlags, _ := cmd.Flags().GetStringArray("env")
	userFlag, _ := cmd.Flags().GetString("user")
	workdirFlag, _ := cmd.Flags().GetString("workdir")
	bridgeFlag, _ := cmd.Flags().GetString("bridge")
	ipFlag, _ := cmd.Flags().GetString("ip")
	linkFlags, _ := cmd.Flags().GetStringArray("link")
	remove, _ := cmd.Flags().GetBool("rm")
	targetUID, _ := cmd.Flags().GetInt("target-uid")
	targetGID, _ := cmd.Flags().GetInt("target-gid")

	s, err := newStore(cmd)
	if err != nil {
		return err
	}

	var container *types.Container
	var spec *types.ImageSpec
	var command []string

	if from != "" {
		image, tag, _ := strings.Cut(from, ":")
		if tag == "" {
			tag = "latest"
		}
		repo, err := newRegistry(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		id, err := newContainerID()
		if err != nil {
			return err
		}
		container, err = s.Create(id)
		if err != nil {
			return fmt.Errorf("create container: %w", err)
		}
		if err := repo.Unpack(container.TargetBase, image, tag, false); err != nil {
			return fmt.Errorf("unpack %s: %w", from, err)
		}
		meta, err := repo.Metadata(image, tag)
		if err != nil {
			return fmt.Errorf("metadata %s: %w", from, err)
		}
		spec, err = dockerfile.InheritFrom(meta)
		if err != nil {
			return err
		}
		// A cloned run container carries no pending build steps of its
		// own, even if the base image had ONBUILD triggers.
		spec.RunCommands = nil
		spec.Hostname = "h" + id[:8]
		if err := s.SaveMetadata(container, spec); err != nil {
			return fmt.Errorf("save metadata: %w", err)
		}
		command = args
	} else {
		if len(args) == 0 {
			return &shoeboxerr.ConfigError{Reason: "run requires a CONTAINER_ID or --from IMAGE"}
		}
		id, err := s.Resolve(args[0])
		if err != nil {
			return err
		}
		container = s.Container(id)
		spec, err = s.LoadMetadata(container)
		if err != nil {
			return fmt.Errorf("load metadata: %w", err)
		}
		command = args[1:]
	}

	entrypoint := spec.Entrypoint
	if entrypointFlag != "" {
		entrypoint = []string{entrypointFlag}
	}
	if len(command) == 0 {
		command = spec.Command
	}
	fullCommand := append(append([]string(nil), entrypoint...), command...)
	if len(fullCommand) == 0 {
		fullCommand = []string{"bash"}
	}

	runCtx := spec.Context.Clone()
	if userFlag != "" {
		runCtx.User = userFlag
	}
	if workdirFlag != "" {
		runCtx.Workdir = workdirFlag
	}
	for _, name := range []string{"TERM", "LANG"} {
		if v, ok := os.LookupEnv(name); ok {
			runCtx.Environ[name] = v
		}
	}

	links, err := resolveLinks(s, linkFlags)
	if err != nil {
		return err
	}
	for _, l := range links {
		env, err := l.Environ()
		if err != nil {
			return fmt.Errorf("link %s: %w", l.Alias, err)
		}
		for k, v := range env {
			runCtx.Environ[k] = v
		}
	}
	for _, kv := range envFlags {
		k, v, _ := strings.Cut(kv, "=")
		runCtx.Environ[k] = v
	}

	bridge, devType, containerIP, gateway, prefixLen, err := resolveNetwork(bridgeFlag, ipFlag)
	if err != nil {
		return err
	}

	hostsContent := generateHosts(containerIP, spec.Hostname, links)
	resolvContent, err := generateResolvConf(gateway)
	if err != nil {
		return err
	}

	mappings, err := volume.Resolve(container.VolumeRoot, spec.Volumes)
	if err != nil {
		return fmt.Errorf("resolve volumes: %w", err)
	}
	volumes := make(map[string]string, len(mappings))
	for _, m := range mappings {
		volumes[m.HostPath] = m.ContainerPath
	}

	layers := []string{container.TargetBase, container.TargetDelta}
	uid, gid, groups, err := build.ResolveIdentity(layers, runCtx.User)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	uidMap, gidMap, outerUID, outerGID, err := nsrun.ResolveUserNamespace(targetUID, targetGID)
	if err != nil {
		return fmt.Errorf("resolve id map: %w", err)
	}

	handle, err := nsrun.Run(nsrun.Options{
		Namespaces: types.Namespaces{
			Mount: true, UTS: true, IPC: true, PID: true, User: true,
			Network: bridge != "",
		},
		Rootfs: nsrun.RootfsConfig{
			Target:       container.TargetRoot,
			Layers:       layers,
			Volumes:      volumes,
			SpecialFS:    true,
			HostsContent: hostsContent,
			ResolvConf:   resolvContent,
		},
		Hostname:  spec.Hostname,
		TargetUID: uid,
		TargetGID: gid,
		Groups:    groups,
		UIDMap:    uidMap,
		GIDMap:    gidMap,
		OuterUID:  outerUID,
		OuterGID:  outerGID,
		Bridge:    bridge,
		DevType:   devType,
		NetIP:     containerIP,
		PrefixLen: prefixLen,
		Gateway:   gateway,
		Payload: nsrun.Payload{
			Kind: nsrun.KindExec,
			Exec: &nsrun.ExecPayload{
				Argv: fullCommand,
				Env:  envSliceFor(runCtx.Environ),
				Dir:  runCtx.Workdir,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	if err := s.WritePID(container, handle.Cmd.Process.Pid); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	if containerIP != "" {
		if err := s.WriteIPAddress(container, containerIP); err != nil {
			return fmt.Errorf("write ip address: %w", err)
		}
	}

	waitErr := handle.Cmd.Wait()

	if err := s.CleanupRuntimeFiles(container); err != nil {
		log.Errorf("cleanup runtime files", err)
	}

	if remove {
		if err := removeContainer(s, container.ID, false, targetUID, targetGID); err != nil {
			log.Errorf("--rm cleanup", err)
		}
	}

	exitCode, signal := rootfs.ExitStatusFor(waitErr)
	if signal != 0 {
		return &shoeboxerr.ChildSignaled{Signal: signal}
	}
	if exitCode != 0 {
		return &shoeboxerr.ChildExited{Code: exitCode}
	}
	return nil
}

// resolveLinks turns "--link SRC:ALIAS" flags into ContainerLink values,
// loading each source container's recorded address and exposed ports.
func resolveLinks(s *store.Store, flags []string) ([]types.ContainerLink, error) {
	links := make([]types.ContainerLink, 0, len(flags))
	for _, flag := range flags {
		src, alias, ok := strings.Cut(flag, ":")
		if !ok || alias == "" {
			return nil, &shoeboxerr.ConfigError{Reason: fmt.Sprintf("invalid --link %q, want SRC:ALIAS", flag)}
		}
		id, err := s.Resolve(src)
		if err != nil {
			return nil, err
		}
		source := s.Container(id)
		sourceSpec, err := s.LoadMetadata(source)
		if err != nil {
			return nil, fmt.Errorf("load metadata for linked container %s: %w", src, err)
		}
		ports := make([]types.PortMapping, 0, len(sourceSpec.Expose))
		for p := range sourceSpec.Expose {
			ports = append(ports, p)
		}
		links = append(links, types.ContainerLink{
			Alias:           alias,
			SourceContainer: source,
			Ports:           ports,
			TargetIP:        s.IPAddress(source),
		})
	}
	return links, nil
}

// resolveNetwork interprets --bridge's tri-state value: empty means no
// private networking, "auto" detects the usable bridge from
// /etc/lxc/lxc-usernet, anything else names the bridge directly.
func resolveNetwork(bridgeFlag, ipFlag string) (bridge, devType, containerIP, gateway string, prefixLen int, err error) {
	if bridgeFlag == "" {
		return "", "", "", "", 0, nil
	}
	devType = "veth"
	if bridgeFlag == "auto" {
		bridge, devType, err = netns.DetectBridge("")
		if err != nil {
			return "", "", "", "", 0, err
		}
		if bridge == "" {
			return "", "", "", "", 0, &shoeboxerr.ConfigError{Reason: "no usable bridge found in /etc/lxc/lxc-usernet"}
		}
	} else {
		bridge = bridgeFlag
	}
	if ipFlag == "" {
		return "", "", "", "", 0, &shoeboxerr.ConfigError{Reason: "--ip is required with --bridge"}
	}
	containerIP = ipFlag
	gw, plen, err := netns.Gateway(bridge)
	if err != nil {
		return "", "", "", "", 0, err
	}
	if gw != nil {
		gateway = gw.String()
		prefixLen = plen
	} else {
		prefixLen = 24
	}
	return bridge, devType, containerIP, gateway, prefixLen, nil
}

func envSliceFor(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
