// Command shoebox is an unprivileged, single-host container engine: it
// pulls Docker v1 images, builds them from a Dockerfile, and runs them
// inside a namespace sandbox without a root daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/shoebox/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "shoebox",
	Short: "An unprivileged, single-host Docker-compatible container engine",
}

func init() {
	rootCmd.PersistentFlags().String("shoebox-dir", "~/.shoebox", "base directory for downloads and container state")
	rootCmd.PersistentFlags().String("index-url", "", "docker image index (default: the public Docker Hub v1 index)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(untagCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(ancestryCmd)
}

func initLogging() {
	debug, _ := rootCmd.PersistentFlags().GetBool("debug")
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})

	dir, _ := rootCmd.PersistentFlags().GetString("shoebox-dir")
	log.Info(fmt.Sprintf("using state directory %s", dir))
	if debug {
		log.Debug("debug logging enabled")
	}
}
