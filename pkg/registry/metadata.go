package registry

import (
	"encoding/json"
	"io"
	"time"

	"github.com/cuemby/shoebox/pkg/dockerfile"
)

// containerConfig mirrors Docker v1's "config"/"container_config" object
// inside image metadata JSON.
type containerConfig struct {
	Env          []string          `json:"Env"`
	Hostname     string            `json:"Hostname"`
	Entrypoint   []string          `json:"Entrypoint"`
	User         string            `json:"User"`
	Cmd          []string          `json:"Cmd"`
	WorkingDir   string            `json:"WorkingDir"`
	Volumes      map[string]struct{} `json:"Volumes"`
	OnBuild      []string          `json:"OnBuild"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts"`
}

// Metadata is the full Docker v1 image metadata document as served by
// /v1/images/{id}/json and persisted verbatim to {id}.json.
type Metadata struct {
	ID              string          `json:"id"`
	Parent          string          `json:"parent"`
	Created         time.Time       `json:"created"`
	Container       string          `json:"container"`
	ContainerConfig containerConfig `json:"container_config"`
	Config          containerConfig `json:"config"`
	OS              string          `json:"os"`
	Architecture    string          `json:"architecture"`
	DockerVersion   string          `json:"docker_version"`
	Size            int64           `json:"Size"`
}

func decodeMetadata(r io.Reader) (*Metadata, error) {
	var m Metadata
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ToDockerfileMetadata adapts the registry-protocol metadata shape into
// the narrower view pkg/dockerfile's Resolver interface needs.
func (m *Metadata) ToDockerfileMetadata() *dockerfile.Metadata {
	out := &dockerfile.Metadata{
		ID:         m.ID,
		Env:        m.Config.Env,
		User:       m.Config.User,
		WorkingDir: m.Config.WorkingDir,
		OnBuild:    m.Config.OnBuild,
		Entrypoint: m.Config.Entrypoint,
		Cmd:        m.Config.Cmd,
		Hostname:   m.Config.Hostname,
	}
	for port := range m.Config.ExposedPorts {
		out.ExposedPorts = append(out.ExposedPorts, port)
	}
	for vol := range m.Config.Volumes {
		out.Volumes = append(out.Volumes, vol)
	}
	return out
}

// ToEnvelope builds the Docker v1-shaped metadata document a store
// persists for a newly built or run container, mirroring the fields the
// registry protocol itself uses so a container can later be pushed
// through the same pipeline it was pulled through.
func ToEnvelope(containerID string, spec *EnvelopeInput) *Metadata {
	cfg := containerConfig{
		Env:        envSlice(spec.Environ),
		Hostname:   spec.Hostname,
		Entrypoint: spec.Entrypoint,
		User:       spec.User,
		Cmd:        spec.Command,
		WorkingDir: spec.Workdir,
		OnBuild:    spec.OnBuild,
	}
	if len(spec.Volumes) > 0 {
		cfg.Volumes = make(map[string]struct{}, len(spec.Volumes))
		for _, v := range spec.Volumes {
			cfg.Volumes[v] = struct{}{}
		}
	}
	if len(spec.ExposedPorts) > 0 {
		cfg.ExposedPorts = make(map[string]struct{}, len(spec.ExposedPorts))
		for _, p := range spec.ExposedPorts {
			cfg.ExposedPorts[p] = struct{}{}
		}
	}
	return &Metadata{
		ID:              containerID,
		Parent:          spec.BaseImageID,
		Created:         spec.CreatedAt,
		Container:       containerID,
		ContainerConfig: cfg,
		Config:          cfg,
		OS:              "linux",
		Architecture:    "amd64",
		DockerVersion:   "1.3.0",
	}
}

// EnvelopeInput is the store-facing projection of an ImageSpec needed to
// build a Metadata envelope, kept free of a pkg/types import cycle by
// naming every field explicitly.
type EnvelopeInput struct {
	Environ      map[string]string
	User         string
	Workdir      string
	Hostname     string
	Entrypoint   []string
	Command      []string
	Volumes      []string
	ExposedPorts []string
	OnBuild      []string
	BaseImageID  string
	CreatedAt    time.Time
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
