package registry

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLayer produces a tar archive with one regular file at path
// containing content, or, if content is the sentinel "__whiteout__", a
// ".wh." marker for path instead.
func buildLayer(t *testing.T, path, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	name := path
	if content == "__whiteout__" {
		dir, base := filepath.Split(path)
		name = dir + ".wh." + base
		content = ""
	}
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestAncestryOrderingAndWhiteout exercises S7: an image whose registry
// ancestry is [top, mid, base] must be unpacked base -> mid -> top, so
// that the final content for any path is the topmost non-whiteout
// entry.
func TestAncestryOrderingAndWhiteout(t *testing.T) {
	const (
		base = "base000000000000000000000000000000000000000000000000000000000"
		mid  = "mid0000000000000000000000000000000000000000000000000000000000"
		top  = "top0000000000000000000000000000000000000000000000000000000000"
	)
	layers := map[string][]byte{
		base: buildLayer(t, "etc/passwd", "root:x:0:0::/root:/bin/sh\n"),
		mid:  buildLayer(t, "etc/motd", "hello\n"),
		top:  buildLayer(t, "etc/motd", "__whiteout__"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/repositories/acme/app/images", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Docker-Token", "tok")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/repositories/acme/app/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"latest": top})
	})
	mux.HandleFunc("/v1/images/"+top+"/ancestry", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{top, mid, base})
	})
	for id, raw := range layers {
		id, raw := id, raw
		mux.HandleFunc("/v1/images/"+id+"/layer", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(raw)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL, t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	ids, err := c.Ancestry("acme/app", "latest")
	require.NoError(t, err)
	assert.Equal(t, []string{base, mid, top}, ids, "Ancestry() must run base to leaf")

	target := t.TempDir()
	require.NoError(t, c.Unpack(target, "acme/app", "latest", false))

	_, err = os.Stat(filepath.Join(target, "etc", "motd"))
	assert.Truef(t, os.IsNotExist(err), "expected etc/motd to be removed by the top layer's whiteout, stat err = %v", err)

	passwd, err := os.ReadFile(filepath.Join(target, "etc", "passwd"))
	require.NoError(t, err, "expected etc/passwd from the base layer to survive")
	assert.Contains(t, string(passwd), "root:x:0:0")
}
