package build

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cuemby/shoebox/pkg/nsrun"
	"github.com/cuemby/shoebox/pkg/rootfs"
	"github.com/cuemby/shoebox/pkg/shoeboxerr"
	"github.com/cuemby/shoebox/pkg/types"
	"github.com/ulikunitz/xz"
)

// copyOrAdd streams sources into a tar archive on the host side and
// extracts it into destination inside c's overlay, honoring COPY's
// "multiple sources need a trailing-slash directory destination" rule.
// ADD additionally fetches URL sources and unpacks recognized archive
// extensions instead of copying them verbatim.
func copyOrAdd(c *types.Container, sources []string, destination string, isAdd bool, targetUID, targetGID int) error {
	if len(sources) == 0 {
		return &shoeboxerr.ConfigError{Reason: "no sources given"}
	}
	untarDest, renameTo, err := resolveDestination(sources, destination, isAdd)
	if err != nil {
		return err
	}

	layers := []string{c.TargetBase, c.TargetDelta}
	uidMap, gidMap, outerUID, outerGID, err := nsrun.ResolveUserNamespace(targetUID, targetGID)
	if err != nil {
		return fmt.Errorf("resolve id map: %w", err)
	}

	handle, err := nsrun.Run(nsrun.Options{
		Namespaces: types.Namespaces{Mount: true, UTS: true, IPC: true, PID: true, User: true},
		Rootfs: nsrun.RootfsConfig{
			Target:    c.TargetRoot,
			Layers:    layers,
			SpecialFS: false,
		},
		Hostname: hostnameFor(c),
		UIDMap:   uidMap,
		GIDMap:   gidMap,
		OuterUID: outerUID,
		OuterGID: outerGID,
		Payload: nsrun.Payload{
			Kind:  nsrun.KindUntar,
			Untar: &nsrun.UntarPayload{Dest: untarDest},
		},
	})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	writeErr := streamSources(handle.TarSink, sources, renameTo, isAdd)
	closeErr := handle.TarSink.Close()
	waitErr := handle.Cmd.Wait()

	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return closeErr
	}
	exitCode, signal := rootfs.ExitStatusFor(waitErr)
	if signal != 0 {
		return &shoeboxerr.ChildSignaled{Signal: signal}
	}
	if exitCode != 0 {
		return &shoeboxerr.ChildExited{Code: exitCode}
	}
	return nil
}

// resolveDestination decides the namespace child's untar destination and,
// for the single-source/non-directory case, the name the one entry is
// renamed to. A trailing slash or more than one source always means
// destination is a directory; a recognized archive under ADD always
// expands as a directory regardless of trailing slash; otherwise a
// single file source is renamed to destination's basename.
func resolveDestination(sources []string, destination string, isAdd bool) (untarDest, renameTo string, err error) {
	destDir := strings.HasSuffix(destination, "/")
	if len(sources) > 1 {
		if !destDir {
			return "", "", &shoeboxerr.ConfigError{Reason: "multiple sources require a destination directory (trailing /)"}
		}
		return destination, "", nil
	}
	if destDir {
		return destination, "", nil
	}

	src := sources[0]
	if isAdd && isArchive(src) {
		return destination, "", nil
	}
	if isAdd && isURL(src) {
		return path.Dir(destination), path.Base(destination), nil
	}
	if info, statErr := os.Lstat(src); statErr == nil && info.IsDir() {
		return destination, "", nil
	}
	return path.Dir(destination), path.Base(destination), nil
}

func streamSources(w io.Writer, sources []string, renameTo string, isAdd bool) error {
	tw := tar.NewWriter(w)
	for _, src := range sources {
		switch {
		case isAdd && isURL(src):
			if err := addURLEntry(tw, src, renameTo); err != nil {
				return err
			}
		case isAdd && isArchive(src):
			if err := addArchiveContents(tw, src); err != nil {
				return err
			}
		default:
			if err := addPathEntry(tw, src, renameTo); err != nil {
				return err
			}
		}
	}
	return tw.Close()
}

// addPathEntry copies a local file or directory tree into tw. A
// directory's contents are flattened directly under the destination,
// matching COPY's "contents of the directory are copied" rule rather
// than nesting a directory named after src.
func addPathEntry(tw *tar.Writer, src, singleName string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		name := singleName
		if name == "" {
			name = filepath.Base(src)
		}
		return writeTarEntry(tw, src, info, name)
	}
	return filepath.Walk(src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return writeTarEntry(tw, p, fi, filepath.ToSlash(rel))
	})
}

func writeTarEntry(tw *tar.Writer, hostPath string, fi os.FileInfo, name string) error {
	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		l, err := os.Readlink(hostPath)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", hostPath, err)
		}
		link = l
	}
	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("build tar header for %s: %w", hostPath, err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func addURLEntry(tw *tar.Writer, url, renameTo string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &shoeboxerr.RegistryError{Op: "ADD " + url, Status: resp.Status}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	name := renameTo
	if name == "" {
		name = path.Base(url)
	}
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

var archiveExtensions = []string{".tar", ".tgz", ".tar.gz", ".tbz", ".tar.bz2", ".txz", ".tar.xz"}

func isArchive(src string) bool {
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(src, ext) {
			return true
		}
	}
	return false
}

// addArchiveContents decompresses and re-streams a recognized archive's
// entries into tw, so the namespace child's single untar extractor is
// the only place that needs to understand whiteouts and ownership.
func addArchiveContents(tw *tar.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(src, ".tgz") || strings.HasSuffix(src, ".tar.gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gunzip %s: %w", src, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(src, ".tbz") || strings.HasSuffix(src, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(src, ".txz") || strings.HasSuffix(src, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("unxz %s: %w", src, err)
		}
		r = xr
	default:
		r = f
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return err
			}
		}
	}
}
