package registry

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const whiteoutPrefix = ".wh."

// extractLayer unpacks a single image layer tarball onto targetDir,
// applying overlay-style ".wh.NAME" whiteout markers as deletions of
// NAME rather than materializing the marker file itself. Layers served
// gzip-compressed are detected by their magic header and decompressed
// transparently.
func extractLayer(r io.Reader, targetDir string) error {
	br := bufio.NewReader(r)
	peek, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return fmt.Errorf("registry: peek layer: %w", err)
	}
	var src io.Reader = br
	if len(peek) == 2 && peek[0] == 0x1f && peek[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("registry: open gzip layer: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("registry: read layer entry: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		dir, base := filepath.Split(name)
		if strings.HasPrefix(base, whiteoutPrefix) {
			target := filepath.Join(targetDir, dir, strings.TrimPrefix(base, whiteoutPrefix))
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("registry: apply whiteout for %s: %w", target, err)
			}
			continue
		}

		target := filepath.Join(targetDir, name)
		if err := extractLayerEntry(tr, hdr, target); err != nil {
			return fmt.Errorf("registry: extract %s: %w", name, err)
		}
	}
}

func extractLayerEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode))
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, tr)
		return err
	case tar.TypeSymlink:
		_ = os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		return os.Link(filepath.Join(filepath.Dir(target), filepath.Base(hdr.Linkname)), target)
	default:
		return nil
	}
}
