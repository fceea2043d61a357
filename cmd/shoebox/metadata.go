package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata IMAGE",
	Short: "Print an image's Docker v1 metadata document",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetadata,
}

var ancestryCmd = &cobra.Command{
	Use:   "ancestry IMAGE",
	Short: "List an image's ancestor layer ids, base to leaf",
	Args:  cobra.ExactArgs(1),
	RunE:  runAncestry,
}

func init() {
	metadataCmd.Flags().String("tag", "latest", "image tag")
	ancestryCmd.Flags().String("tag", "latest", "image tag")
}

func runMetadata(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")
	repo, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	id, err := repo.ResolveTag(args[0], tag)
	if err != nil {
		return fmt.Errorf("resolve %s:%s: %w", args[0], tag, err)
	}
	meta, err := repo.DownloadMetadata(id, false)
	if err != nil {
		return fmt.Errorf("metadata %s:%s: %w", args[0], tag, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(meta)
}

func runAncestry(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")
	repo, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	ids, err := repo.Ancestry(args[0], tag)
	if err != nil {
		return fmt.Errorf("ancestry %s:%s: %w", args[0], tag, err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
