// Package types defines the data model shared by shoebox's filesystem
// composer, namespace orchestrator, Dockerfile evaluator, registry client
// and container store.
package types

import "time"

// PortMapping is a single exposed port and its transport protocol, as
// carried in Docker v1 image metadata ("80/tcp").
type PortMapping struct {
	Port     int
	Protocol string
}

// RunContext is the environment a build step or the container's own
// entrypoint executes under: accumulated ENV, the active USER, and the
// current WORKDIR.
type RunContext struct {
	Environ map[string]string
	User    string
	Workdir string
}

// Clone returns a deep copy of the context so directive evaluation can
// replace it without aliasing the parent's environment map.
func (c RunContext) Clone() RunContext {
	env := make(map[string]string, len(c.Environ))
	for k, v := range c.Environ {
		env[k] = v
	}
	return RunContext{Environ: env, User: c.User, Workdir: c.Workdir}
}

// ImageSpec is the fold accumulator that Dockerfile directives evaluate
// against. Every directive takes one ImageSpec and returns the next.
type ImageSpec struct {
	BaseImage   string
	BaseTag     string
	BaseImageID string

	Context RunContext

	RunCommands []BuildStep

	Expose   map[PortMapping]struct{}
	Volumes  map[string]struct{}
	Hostname string

	Entrypoint []string
	Command    []string

	// OnBuild holds directives deferred until this image is used as a
	// FROM base by a later build.
	OnBuild []Directive
}

// NewImageSpec returns the base accumulator an empty Dockerfile evaluation
// starts from.
func NewImageSpec() *ImageSpec {
	return &ImageSpec{
		Context: RunContext{
			Environ: map[string]string{
				"PATH": "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			},
			User:    "root",
			Workdir: "/",
		},
		Expose:  map[PortMapping]struct{}{},
		Volumes: map[string]struct{}{},
	}
}

// Clone returns a deep copy so an inherited (FROM) spec can be mutated by
// ONBUILD triggers without affecting the parent image's own record.
func (s *ImageSpec) Clone() *ImageSpec {
	c := *s
	c.Context = s.Context.Clone()
	c.RunCommands = append([]BuildStep(nil), s.RunCommands...)
	c.Expose = make(map[PortMapping]struct{}, len(s.Expose))
	for k := range s.Expose {
		c.Expose[k] = struct{}{}
	}
	c.Volumes = make(map[string]struct{}, len(s.Volumes))
	for k := range s.Volumes {
		c.Volumes[k] = struct{}{}
	}
	c.OnBuild = append([]Directive(nil), s.OnBuild...)
	return &c
}

// Directive is one parsed Dockerfile line. Evaluate folds it into the
// running ImageSpec, returning the next accumulator value.
type Directive interface {
	Evaluate(spec *ImageSpec) (*ImageSpec, error)
	String() string
	// OnbuildAllowed reports whether this directive may legally appear
	// as the payload of an ONBUILD line.
	OnbuildAllowed() bool
}

// BuildStep is one RUN, COPY or ADD accumulated during directive
// evaluation, to be executed in order once the spec is fully resolved.
type BuildStep interface {
	Describe() string
}

// RunStep executes a command inside the build namespace.
type RunStep struct {
	Command []string
	Context RunContext
}

func (s RunStep) Describe() string { return "RUN " + describeExec(s.Command) }

// CopyStep copies local build-context files into the image.
type CopyStep struct {
	Sources     []string
	Destination string
}

func (s CopyStep) Describe() string { return "COPY" }

// AddStep is like CopyStep but additionally fetches URLs and unpacks
// recognized archive formats.
type AddStep struct {
	Sources     []string
	Destination string
}

func (s AddStep) Describe() string { return "ADD" }

func describeExec(cmd []string) string {
	out := ""
	for i, c := range cmd {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

// Container is the on-disk, in-memory view of one container instance:
// its layer paths, declared volumes, and persisted Docker v1 metadata.
type Container struct {
	ID string

	RuntimeDir   string
	MetadataFile string
	TargetBase   string
	TargetDelta  string
	TargetRoot   string
	VolumeRoot   string
	PIDFile      string
	IPAddrFile   string

	Metadata *ImageSpec
}

// ContainerLink describes one "--link" relationship: the environment
// variables a dependent container receives that describe how to reach
// the linked container's exposed ports.
type ContainerLink struct {
	Alias            string
	SourceContainer  *Container
	Ports            []PortMapping
	TargetIP         string
}

// Environ returns the DOCKER-style link environment variables for this
// link, matching the naming scheme of `docker run --link`.
func (l *ContainerLink) Environ() (map[string]string, error) {
	env := map[string]string{}
	if len(l.Ports) == 0 {
		return nil, errNoExposedPorts
	}
	if l.TargetIP == "" {
		return nil, errNoIPAddress
	}
	label := upper(l.Alias)
	lowest := l.Ports[0]
	for _, p := range l.Ports[1:] {
		if p.Port < lowest.Port {
			lowest = p
		}
	}
	env[label+"_NAME"] = l.SourceContainer.ID
	env[label+"_PORT"] = addrURL(lowest, l.TargetIP)
	for _, p := range l.Ports {
		key := portKey(label, p)
		env[key] = addrURL(p, l.TargetIP)
		env[key+"_PROTO"] = upper(p.Protocol)
		env[key+"_PORT"] = itoa(p.Port)
		env[key+"_ADDR"] = l.TargetIP
	}
	return env, nil
}

// Namespaces bundles the set of Linux namespaces a run or build
// orchestration step unshares together. Fields default to false; callers
// opt a namespace in explicitly.
type Namespaces struct {
	Mount   bool
	UTS     bool
	IPC     bool
	PID     bool
	Network bool
	User    bool
}

// ImageMetadataEnvelope holds the id, parent, creation time and platform
// fields used when round-tripping Docker v1 image metadata. Kept separate from ImageSpec since they are
// store-assigned, not directive-derived.
type ImageMetadataEnvelope struct {
	ID              string
	Parent          string
	Created         time.Time
	OS              string
	Architecture    string
	DockerVersion   string
}
