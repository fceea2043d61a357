package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running containers and their process trees",
	Args:  cobra.NoArgs,
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	s, err := newStore(cmd)
	if err != nil {
		return err
	}
	ids, err := s.List()
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	pstreePath, pstreeErr := exec.LookPath("pstree")

	for _, id := range ids {
		c := s.Container(id)
		pid := s.PID(c)
		if pid == 0 {
			continue
		}
		fmt.Println(id)
		if ip := s.IPAddress(c); ip != "" {
			fmt.Printf("  ip address: %s\n", ip)
		}
		tags, err := s.Tags(id)
		if err != nil {
			return fmt.Errorf("list tags for %s: %w", id, err)
		}
		if len(tags) > 0 {
			fmt.Printf("  tags: %s\n", strings.Join(tags, " "))
		}
		if pstreeErr == nil {
			out, err := exec.Command(pstreePath, "-ap", strconv.Itoa(pid)).CombinedOutput()
			if err != nil {
				fmt.Printf("  pstree failed: %v\n", err)
				continue
			}
			fmt.Print(string(out))
			continue
		}
		printProcessSummary(pid)
	}
	return nil
}

// printProcessSummary stands in for pstree -ap when the binary isn't
// installed, printing the single line /proc exposes for the container's
// recorded pid rather than failing the whole command.
func printProcessSummary(pid int) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(raw) == 0 {
		fmt.Printf("  %d (process not found)\n", pid)
		return
	}
	argv := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	fmt.Printf("  %d %s\n", pid, strings.Join(argv, " "))
}
