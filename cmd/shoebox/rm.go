package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/shoebox/pkg/log"
	"github.com/cuemby/shoebox/pkg/nsrun"
	"github.com/cuemby/shoebox/pkg/rootfs"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
	"github.com/cuemby/shoebox/pkg/store"
	"github.com/cuemby/shoebox/pkg/types"
)

var rmCmd = &cobra.Command{
	Use:   "rm CONTAINER_ID...",
	Short: "Remove one or more containers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func init() {
	rmCmd.Flags().Bool("volumes", false, "also remove the container's declared volumes")
	rmCmd.Flags().IntP("target-uid", "U", -1, "outer uid the removal namespace maps to (default: the caller)")
	rmCmd.Flags().IntP("target-gid", "G", -1, "outer gid the removal namespace maps to (default: the caller)")
}

func runRm(cmd *cobra.Command, args []string) error {
	removeVolumes, _ := cmd.Flags().GetBool("volumes")
	targetUID, _ := cmd.Flags().GetInt("target-uid")
	targetGID, _ := cmd.Flags().GetInt("target-gid")

	s, err := newStore(cmd)
	if err != nil {
		return err
	}

	for _, ref := range args {
		id, err := s.Resolve(ref)
		if err != nil {
			return err
		}
		if err := removeContainer(s, id, removeVolumes, targetUID, targetGID); err != nil {
			return fmt.Errorf("rm %s: %w", ref, err)
		}
	}
	return nil
}

func removeContainer(s *store.Store, id string, removeVolumes bool, targetUID, targetGID int) error {
	c := s.Container(id)

	if err := os.Remove(c.TargetRoot); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove root mountpoint: %w", err)
	}

	for _, dir := range []string{c.TargetBase, c.TargetDelta} {
		if err := rmLayer(dir, targetUID, targetGID); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}

	if removeVolumes {
		if err := rmLayer(c.VolumeRoot, targetUID, targetGID); err != nil {
			return fmt.Errorf("remove volumes: %w", err)
		}
	} else {
		log.Warn(fmt.Sprintf("rm %s: preserving volumes", id))
	}

	if err := os.Remove(c.MetadataFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove metadata: %w", err)
	}

	if err := os.Remove(c.RuntimeDir); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) {
			log.Warn(fmt.Sprintf("rm %s: not empty, not removing", id))
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("remove runtime dir: %w", err)
		}
	}
	return nil
}

// rmLayer deletes dir's contents from inside a namespace child pivoted
// onto it, so the deletion honors the uid/gid mapping the layer's own
// files were created under rather than the caller's bare uid.
func rmLayer(dir string, targetUID, targetGID int) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	uidMap, gidMap, outerUID, outerGID, err := nsrun.ResolveUserNamespace(targetUID, targetGID)
	if err != nil {
		return fmt.Errorf("resolve id map: %w", err)
	}

	handle, err := nsrun.Run(nsrun.Options{
		Namespaces: types.Namespaces{Mount: true, User: true},
		Rootfs: nsrun.RootfsConfig{
			Target:    dir,
			SpecialFS: false,
		},
		UIDMap:   uidMap,
		GIDMap:   gidMap,
		OuterUID: outerUID,
		OuterGID: outerGID,
		Payload: nsrun.Payload{
			Kind:      nsrun.KindRemoveAll,
			RemoveAll: &nsrun.RemoveAllPayload{Path: "/"},
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
	return os.Remove(dir)
}
