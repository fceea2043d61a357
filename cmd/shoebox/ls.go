package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List every container on this host",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().BoolP("quiet", "q", false, "print only container ids")
}

func runLs(cmd *cobra.Command, args []string) error {
	quiet, _ := cmd.Flags().GetBool("quiet")

	s, err := newStore(cmd)
	if err != nil {
		return err
	}
	ids, err := s.List()
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, id := range ids {
		fmt.Println(id)
		if quiet {
			continue
		}
		tags, err := s.Tags(id)
		if err != nil {
			return fmt.Errorf("list tags for %s: %w", id, err)
		}
		if len(tags) > 0 {
			fmt.Printf("  tags: %s\n", strings.Join(tags, " "))
		}
	}
	return nil
}
