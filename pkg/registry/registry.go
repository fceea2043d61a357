// Package registry implements a Docker Registry v1 client: token
// authentication, tag resolution, ancestry walks, and image layer/
// metadata download with on-disk caching, plus a bbolt-backed cache for
// the tag-to-image-id lookups that would otherwise round-trip to the
// index on every pull or build.
package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/shoebox/pkg/dockerfile"
	"github.com/cuemby/shoebox/pkg/log"
)

var componentLog = log.WithComponent("registry")

// DefaultIndex is the public Docker Hub v1 index, matching the index
// this client's protocol was built against.
const DefaultIndex = "https://index.docker.io"

var tagCacheTTL = time.Hour

// Client talks to a Docker v1 registry: it first requests a token and
// the repository endpoints that actually serve the image, then issues
// every subsequent request against those endpoints.
type Client struct {
	IndexURL   string
	StorageDir string

	httpClient *http.Client
	token      string
	endpoints  []string

	tagCache *bolt.DB
}

// New returns a client rooted at indexURL, caching downloaded layers and
// metadata under storageDir. A tag-resolution cache is opened at
// storageDir/tags.db; failures to open it are non-fatal, the client
// simply always resolves tags against the index in that case.
func New(indexURL, storageDir string) (*Client, error) {
	if indexURL == "" {
		indexURL = DefaultIndex
	}
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("registry: create storage dir: %w", err)
	}

	c := &Client{
		IndexURL:   indexURL,
		StorageDir: storageDir,
		httpClient: &http.Client{Timeout: 0},
	}

	db, err := bolt.Open(filepath.Join(storageDir, "tags.db"), 0644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		componentLog.Warn().Err(err).Msg("tag cache unavailable, resolving tags against the index every time")
	} else {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte("tags"))
			return err
		}); err != nil {
			db.Close()
		} else {
			c.tagCache = db
		}
	}
	return c, nil
}

// Close releases the tag cache database.
func (c *Client) Close() error {
	if c.tagCache != nil {
		return c.tagCache.Close()
	}
	return nil
}

type cachedTag struct {
	ImageID   string    `json:"image_id"`
	CachedAt  time.Time `json:"cached_at"`
}

// requestAccess obtains a token and the repository endpoints for image,
// matching the X-Docker-Token / X-Docker-Endpoints handshake of the v1
// protocol.
func (c *Client) requestAccess(image string) error {
	url := fmt.Sprintf("%s/v1/repositories/%s/images", c.IndexURL, image)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Docker-Token", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry: request access to %s: %w", image, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry: request access to %s: status %s", image, resp.Status)
	}

	c.token = resp.Header.Get("X-Docker-Token")
	proto := strings.SplitN(c.IndexURL, ":", 2)[0]
	var endpoints []string
	for _, e := range strings.Split(resp.Header.Get("X-Docker-Endpoints"), ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		endpoints = append(endpoints, fmt.Sprintf("%s://%s", proto, e))
	}
	if len(endpoints) == 0 {
		endpoints = []string{c.IndexURL}
	}
	c.endpoints = endpoints
	return nil
}

// repoRequest issues a GET against path on each known endpoint in turn,
// returning the first 200 response (or the last non-200 error).
func (c *Client) repoRequest(path string) (*http.Response, error) {
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("registry: no repository endpoints, call requestAccess first")
	}
	var lastErr error
	for _, ep := range c.endpoints {
		req, err := http.NewRequest(http.MethodGet, ep+path, nil)
		if err != nil {
			return nil, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		lastErr = fmt.Errorf("registry: %s: status %s", ep+path, resp.Status)
		resp.Body.Close()
	}
	return nil, lastErr
}

func (c *Client) listTags(image string) (map[string]string, error) {
	resp, err := c.repoRequest(fmt.Sprintf("/v1/repositories/%s/tags", image))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var tags map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("registry: decode tags: %w", err)
	}
	return tags, nil
}

// ResolveTag returns the image id for image:tag, consulting the bbolt
// cache before the index when the cached entry is still within TTL.
func (c *Client) ResolveTag(image, tag string) (string, error) {
	cacheKey := image + ":" + tag
	if c.tagCache != nil {
		var cached cachedTag
		found := false
		_ = c.tagCache.View(func(tx *bolt.Tx) error {
			raw := tx.Bucket([]byte("tags")).Get([]byte(cacheKey))
			if raw == nil {
				return nil
			}
			if err := json.Unmarshal(raw, &cached); err == nil {
				found = true
			}
			return nil
		})
		if found && time.Since(cached.CachedAt) < tagCacheTTL {
			return cached.ImageID, nil
		}
	}

	if err := c.requestAccess(image); err != nil {
		return "", err
	}
	tags, err := c.listTags(image)
	if err != nil {
		return "", err
	}
	id, ok := tags[tag]
	if !ok {
		return "", fmt.Errorf("registry: unknown tag %s for image %s", tag, image)
	}

	if c.tagCache != nil {
		raw, _ := json.Marshal(cachedTag{ImageID: id, CachedAt: time.Now()})
		_ = c.tagCache.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte("tags")).Put([]byte(cacheKey), raw)
		})
	}
	return id, nil
}

func (c *Client) ancestors(imageID string) ([]string, error) {
	resp, err := c.repoRequest(fmt.Sprintf("/v1/images/%s/ancestry", imageID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("registry: decode ancestry: %w", err)
	}
	return ids, nil
}

// Ancestry returns image:tag's layer ids from base to leaf.
func (c *Client) Ancestry(image, tag string) ([]string, error) {
	if err := c.requestAccess(image); err != nil {
		return nil, err
	}
	tags, err := c.listTags(image)
	if err != nil {
		return nil, err
	}
	id, ok := tags[tag]
	if !ok {
		return nil, fmt.Errorf("registry: unknown tag %s for image %s", tag, image)
	}
	ids, err := c.ancestors(id)
	if err != nil {
		return nil, err
	}
	reverse(ids)
	return ids, nil
}

func (c *Client) imageMetadataRaw(imageID string) (*Metadata, error) {
	resp, err := c.repoRequest(fmt.Sprintf("/v1/images/%s/json", imageID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeMetadata(resp.Body)
}

// DownloadMetadata returns imageID's metadata, from the on-disk cache
// unless force is set or nothing is cached yet.
func (c *Client) DownloadMetadata(imageID string, force bool) (*Metadata, error) {
	path := filepath.Join(c.StorageDir, imageID+".json")
	if !force {
		if f, err := os.Open(path); err == nil {
			defer f.Close()
			return decodeMetadata(f)
		}
	}
	meta, err := c.imageMetadataRaw(imageID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return nil, fmt.Errorf("registry: cache metadata for %s: %w", imageID, err)
	}
	return meta, nil
}

// DownloadLayer saves imageID's filesystem layer tarball under
// StorageDir, returning its path. Already-downloaded layers are reused
// unless force is set.
func (c *Client) DownloadLayer(imageID string, force bool) (string, error) {
	path := filepath.Join(c.StorageDir, imageID)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	resp, err := c.repoRequest(fmt.Sprintf("/v1/images/%s/layer", imageID))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("registry: create layer file: %w", err)
	}
	defer f.Close()

	size := resp.Header.Get("Content-Length")
	downloaded := int64(0)
	buf := make([]byte, 1<<16)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return "", werr
			}
			downloaded += int64(n)
			componentLog.Debug().Str("image", imageID).Int64("downloaded_kb", downloaded>>10).Str("total", size).
				Msg("downloading layer")
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}
	return path, nil
}

// Pull resolves image:tag, downloads every ancestor layer and metadata
// file base-to-leaf, and returns their metadata in that order.
func (c *Client) Pull(image, tag string, force bool) ([]*Metadata, error) {
	targetID, err := c.ResolveTag(image, tag)
	if err != nil {
		return nil, err
	}
	ids, err := c.ancestorsReversed(targetID)
	if err != nil {
		return nil, err
	}
	out := make([]*Metadata, 0, len(ids))
	for _, id := range ids {
		if _, err := c.DownloadLayer(id, force); err != nil {
			return nil, fmt.Errorf("registry: download layer %s: %w", id, err)
		}
		meta, err := c.DownloadMetadata(id, force)
		if err != nil {
			return nil, fmt.Errorf("registry: download metadata %s: %w", id, err)
		}
		out = append(out, meta)
	}
	return out, nil
}

// Unpack pulls image:tag and extracts every layer, base to leaf, into
// targetDir.
func (c *Client) Unpack(targetDir, image, tag string, force bool) error {
	targetID, err := c.ResolveTag(image, tag)
	if err != nil {
		return err
	}
	return c.UnpackID(targetDir, targetID, force)
}

// UnpackID extracts every ancestor of an already-resolved image id, base
// to leaf, into targetDir. Used when a Dockerfile's FROM has already been
// resolved against the tag cache (pkg/build doesn't keep the original
// image:tag string around once inheritance has folded in the base's
// metadata).
func (c *Client) UnpackID(targetDir, imageID string, force bool) error {
	ids, err := c.ancestorsReversed(imageID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return err
	}
	for _, id := range ids {
		layer, err := c.DownloadLayer(id, force)
		if err != nil {
			return fmt.Errorf("registry: download layer %s: %w", id, err)
		}
		f, err := os.Open(layer)
		if err != nil {
			return err
		}
		err = extractLayer(f, targetDir)
		f.Close()
		if err != nil {
			return fmt.Errorf("registry: extract layer %s: %w", id, err)
		}
	}
	return nil
}

func (c *Client) ancestorsReversed(targetID string) ([]string, error) {
	ids, err := c.ancestors(targetID)
	if err != nil {
		return nil, err
	}
	reverse(ids)
	return ids, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Metadata resolves image:tag to an image id, loads that image's
// metadata (downloading it when it is not cached yet) and adapts it into
// the shape pkg/dockerfile's Resolver interface needs, so FROM directives
// can inherit from it.
func (c *Client) Metadata(image, tag string) (*dockerfile.Metadata, error) {
	id, err := c.ResolveTag(image, tag)
	if err != nil {
		return nil, err
	}
	meta, err := c.DownloadMetadata(id, false)
	if err != nil {
		return nil, err
	}
	return meta.ToDockerfileMetadata(), nil
}
