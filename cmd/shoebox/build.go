package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/shoebox/pkg/build"
	"github.com/cuemby/shoebox/pkg/dockerfile"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
)

var buildCmd = &cobra.Command{
	Use:   "build BASE_DIR",
	Short: "Build an image from the Dockerfile in BASE_DIR",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().Bool("force", false, "re-download base image layers already cached locally")
	buildCmd.Flags().IntP("target-uid", "U", -1, "outer uid the build namespace maps to (default: the caller)")
	buildCmd.Flags().IntP("target-gid", "G", -1, "outer gid the build namespace maps to (default: the caller)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	baseDir := args[0]
	force, _ := cmd.Flags().GetBool("force")

	dockerfilePath := filepath.Join(baseDir, "Dockerfile")
	content, err := os.ReadFile(dockerfilePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", dockerfilePath, err)
	}

	repo, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	parser := &dockerfile.Parser{Resolver: repo}
	spec, err := parser.Evaluate(string(content), nil)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", dockerfilePath, err)
	}
	if spec == nil {
		return &shoeboxerr.ParseError{Reason: "Dockerfile produced no buildable image spec"}
	}

	containerID, err := newContainerID()
	if err != nil {
		return err
	}

	s, err := newStore(cmd)
	if err != nil {
		return err
	}
	container, err := s.Create(containerID)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	// The persisted hostname is derived from the container id, not taken
	// from the Dockerfile: "h"+id[:8], since a bare hex-leading hostname
	// confuses some resolvers.
	spec.Hostname = "h" + containerID[:8]

	if spec.BaseImageID != "" {
		if err := repo.UnpackID(container.TargetBase, spec.BaseImageID, force); err != nil {
			return fmt.Errorf("unpack base image: %w", err)
		}
	}

	if err := s.SaveMetadata(container, spec); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}

	targetUID, _ := cmd.Flags().GetInt("target-uid")
	targetGID, _ := cmd.Flags().GetInt("target-gid")
	if err := build.Execute(container, spec, targetUID, targetGID); err != nil {
		return err
	}

	fmt.Println(containerID)
	return nil
}
