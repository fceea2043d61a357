package main

import (
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag CONTAINER TAG",
	Short: "Point a human-readable name at a container id",
	Args:  cobra.ExactArgs(2),
	RunE:  runTag,
}

var untagCmd = &cobra.Command{
	Use:   "untag TAG",
	Short: "Remove a tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntag,
}

func init() {
	tagCmd.Flags().Bool("force", false, "replace an existing tag of the same name")
}

func runTag(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	s, err := newStore(cmd)
	if err != nil {
		return err
	}
	return s.Tag(args[0], args[1], force)
}

func runUntag(cmd *cobra.Command, args []string) error {
	s, err := newStore(cmd)
	if err != nil {
		return err
	}
	return s.Untag(args[0])
}
