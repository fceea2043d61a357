package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/shoebox/pkg/registry"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
	"github.com/cuemby/shoebox/pkg/store"
)

// newContainerID mints a fresh content-addressed id: 32 random bytes
// hex-encoded to a 64-character lowercase string, matching the shape
// store.IsContainerID expects.
func newContainerID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate container id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// shoeboxDir expands the --shoebox-dir flag, resolving a leading ~ to
// the invoking user's home directory the way every other shoebox path
// flag does.
func shoeboxDir(cmd *cobra.Command) (string, error) {
	raw, err := cmd.Flags().GetString("shoebox-dir")
	if err != nil {
		return "", err
	}
	if raw == "~" || len(raw) >= 2 && raw[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if raw == "~" {
			return home, nil
		}
		return filepath.Join(home, raw[2:]), nil
	}
	return raw, nil
}

func newStore(cmd *cobra.Command) (*store.Store, error) {
	dir, err := shoeboxDir(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create shoebox dir: %w", err)
	}
	return store.New(dir), nil
}

func newRegistry(cmd *cobra.Command) (*registry.Client, error) {
	dir, err := shoeboxDir(cmd)
	if err != nil {
		return nil, err
	}
	indexURL, err := cmd.Flags().GetString("index-url")
	if err != nil {
		return nil, err
	}
	return registry.New(indexURL, filepath.Join(dir, "images"))
}

// resolveContainer turns a container id or tag into its Store-backed id,
// returning a shoeboxerr.NotFound when neither resolves.
func resolveContainer(s *store.Store, ref string) (string, error) {
	return s.Resolve(ref)
}

// exitCodeFor maps a returned error to the process exit status: 1 for
// ordinary user/configuration errors, a child's own exit code when a
// subcommand propagates one.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exited *shoeboxerr.ChildExited
	if ok := asChildExited(err, &exited); ok {
		return exited.Code
	}
	return 1
}

func asChildExited(err error, target **shoeboxerr.ChildExited) bool {
	return errors.As(err, target)
}
