package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull IMAGE",
	Short: "Download an image and all of its ancestor layers",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	pullCmd.Flags().String("tag", "latest", "image tag")
	pullCmd.Flags().Bool("force", false, "re-download layers already cached locally")
}

func runPull(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")
	force, _ := cmd.Flags().GetBool("force")

	repo, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	metas, err := repo.Pull(args[0], tag, force)
	if err != nil {
		return fmt.Errorf("pull %s:%s: %w", args[0], tag, err)
	}
	for _, m := range metas {
		fmt.Println(m.ID)
	}
	return nil
}
