package dockerfile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/shoebox/pkg/types"
)

// Resolver looks up a base image's persisted Docker v1 metadata so a
// FROM directive naming a tagged image (fetched from the registry when
// it is not cached locally) can fold that image's own config (env, user,
// workdir, exposed ports, volumes, ONBUILD triggers) into the new
// build's starting ImageSpec.
type Resolver interface {
	Metadata(image, tag string) (*Metadata, error)
}

// Metadata mirrors the fields of Docker v1 image JSON that a Dockerfile
// evaluation needs when inheriting from a FROM base.
type Metadata struct {
	ID           string
	Env          []string
	User         string
	WorkingDir   string
	ExposedPorts []string
	Volumes      []string
	OnBuild      []string
	Entrypoint   []string
	Cmd          []string
	Hostname     string
}

type fromDirective struct {
	image, tag string
	resolver   Resolver
}

func (d *fromDirective) String() string { return fmt.Sprintf("FROM %s:%s", d.image, d.tag) }
func (d *fromDirective) OnbuildAllowed() bool { return false }

func (d *fromDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	if spec.BaseImageID != "" {
		return nil, fmt.Errorf("dockerfile: multiple FROM directives are not supported")
	}
	if d.resolver == nil {
		spec.BaseImage = d.image
		spec.BaseTag = d.tag
		return spec, nil
	}
	meta, err := d.resolver.Metadata(d.image, d.tag)
	if err != nil {
		return nil, fmt.Errorf("dockerfile: resolve FROM %s:%s: %w", d.image, d.tag, err)
	}
	return InheritFrom(meta)
}

// InheritFrom builds the ImageSpec a build inherits from a resolved base
// image's metadata, firing any ONBUILD triggers the base image carried.
func InheritFrom(meta *Metadata) (*types.ImageSpec, error) {
	spec := types.NewImageSpec()
	spec.BaseImageID = meta.ID
	spec.Context.User = "root"
	if meta.User != "" {
		spec.Context.User = meta.User
	}
	spec.Context.Workdir = "/"
	if meta.WorkingDir != "" {
		spec.Context.Workdir = meta.WorkingDir
	}
	spec.Context.Environ = map[string]string{}
	for _, kv := range meta.Env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			spec.Context.Environ[parts[0]] = parts[1]
		}
	}
	for _, p := range meta.ExposedPorts {
		pm, err := parsePortSpec(p)
		if err != nil {
			return nil, err
		}
		spec.Expose[pm] = struct{}{}
	}
	for _, v := range meta.Volumes {
		spec.Volumes[v] = struct{}{}
	}
	spec.Entrypoint = meta.Entrypoint
	spec.Command = meta.Cmd
	spec.Hostname = meta.Hostname

	var onbuild []types.Directive
	for _, raw := range meta.OnBuild {
		directives, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("dockerfile: parse inherited ONBUILD %q: %w", raw, err)
		}
		onbuild = append(onbuild, directives...)
	}

	for _, d := range onbuild {
		var err error
		spec, err = d.Evaluate(spec)
		if err != nil {
			return nil, fmt.Errorf("dockerfile: evaluate inherited ONBUILD: %w", err)
		}
	}
	return spec, nil
}

func parsePortSpec(s string) (types.PortMapping, error) {
	parts := strings.SplitN(s, "/", 2)
	port, err := strconv.Atoi(parts[0])
	if err != nil {
		return types.PortMapping{}, fmt.Errorf("dockerfile: invalid port %q: %w", s, err)
	}
	proto := "tcp"
	if len(parts) == 2 {
		proto = parts[1]
	}
	return types.PortMapping{Port: port, Protocol: proto}, nil
}

type envDirective struct {
	pairs [][2]expandable
}

func (d *envDirective) String() string {
	var sb strings.Builder
	sb.WriteString("ENV")
	for _, p := range d.pairs {
		sb.WriteString(" ")
		sb.WriteString(string(p[0][0].(literalToken)))
	}
	return sb.String()
}
func (d *envDirective) OnbuildAllowed() bool { return true }

func (d *envDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	for _, p := range d.pairs {
		name := p[0].Expand(spec.Context.Environ)
		value := p[1].Expand(spec.Context.Environ)
		spec.Context.Environ[name] = value
	}
	return spec, nil
}

type workdirDirective struct{ value expandable }

func (d *workdirDirective) String() string               { return "WORKDIR" }
func (d *workdirDirective) OnbuildAllowed() bool          { return true }
func (d *workdirDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	spec.Context.Workdir = d.value.Expand(spec.Context.Environ)
	return spec, nil
}

type exposeDirective struct{ ports []expandable }

func (d *exposeDirective) String() string      { return "EXPOSE" }
func (d *exposeDirective) OnbuildAllowed() bool { return true }
func (d *exposeDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	for _, p := range d.ports {
		pm, err := parsePortSpec(p.Expand(spec.Context.Environ))
		if err != nil {
			return nil, err
		}
		spec.Expose[pm] = struct{}{}
	}
	return spec, nil
}

type addCopyDirective struct {
	sources []expandable
	dest    expandable
	isAdd   bool
}

func (d *addCopyDirective) String() string {
	if d.isAdd {
		return "ADD"
	}
	return "COPY"
}
func (d *addCopyDirective) OnbuildAllowed() bool { return true }

func (d *addCopyDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	env := spec.Context.Environ
	sources := make([]string, len(d.sources))
	for i, s := range d.sources {
		sources[i] = s.Expand(env)
	}
	dest := d.dest.Expand(env)
	if d.isAdd {
		spec.RunCommands = append(spec.RunCommands, types.AddStep{Sources: sources, Destination: dest})
	} else {
		spec.RunCommands = append(spec.RunCommands, types.CopyStep{Sources: sources, Destination: dest})
	}
	return spec, nil
}

type volumeDirective struct{ paths []expandable }

func (d *volumeDirective) String() string      { return "VOLUME" }
func (d *volumeDirective) OnbuildAllowed() bool { return true }
func (d *volumeDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	for _, p := range d.paths {
		spec.Volumes[p.Expand(spec.Context.Environ)] = struct{}{}
	}
	return spec, nil
}

type runDirective struct{ command []string }

func (d *runDirective) String() string      { return formatExec("RUN", d.command) }
func (d *runDirective) OnbuildAllowed() bool { return true }
func (d *runDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	spec.RunCommands = append(spec.RunCommands, types.RunStep{
		Command: d.command,
		Context: spec.Context.Clone(),
	})
	return spec, nil
}

type cmdDirective struct{ command []string }

func (d *cmdDirective) String() string      { return formatExec("CMD", d.command) }
func (d *cmdDirective) OnbuildAllowed() bool { return true }
func (d *cmdDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	spec.Command = d.command
	return spec, nil
}

type entrypointDirective struct{ command []string }

func (d *entrypointDirective) String() string      { return formatExec("ENTRYPOINT", d.command) }
func (d *entrypointDirective) OnbuildAllowed() bool { return true }
func (d *entrypointDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	spec.Entrypoint = d.command
	return spec, nil
}

type userDirective struct{ name expandable }

func (d *userDirective) String() string      { return "USER" }
func (d *userDirective) OnbuildAllowed() bool { return true }
func (d *userDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	spec.Context.User = d.name.Expand(spec.Context.Environ)
	return spec, nil
}

type maintainerDirective struct{ value string }

func (d *maintainerDirective) String() string      { return "MAINTAINER " + d.value }
func (d *maintainerDirective) OnbuildAllowed() bool { return false }
func (d *maintainerDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	return spec, nil
}

// insertDirective is the long-deprecated INSERT directive, kept as a
// documented no-op rather than an error since real-world Dockerfiles
// still occasionally carry it.
type insertDirective struct{}

func (d *insertDirective) String() string                                       { return "INSERT" }
func (d *insertDirective) OnbuildAllowed() bool                                 { return true }
func (d *insertDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) { return spec, nil }

type onbuildDirective struct{ inner types.Directive }

func (d *onbuildDirective) String() string      { return "ONBUILD " + d.inner.String() }
func (d *onbuildDirective) OnbuildAllowed() bool { return false }
func (d *onbuildDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	if !d.inner.OnbuildAllowed() {
		return nil, fmt.Errorf("dockerfile: directive %s not allowed in ONBUILD", d.inner)
	}
	spec.OnBuild = append(spec.OnBuild, d.inner)
	return spec, nil
}

// unparsedDirective is returned for any directive keyword this evaluator
// does not recognize. It parses successfully but raises UnparsedDirective
// the moment it is evaluated, rather than being silently skipped.
type unparsedDirective struct {
	name  string
	value string
}

func (d *unparsedDirective) String() string      { return d.name + " " + d.value }
func (d *unparsedDirective) OnbuildAllowed() bool { return true }
func (d *unparsedDirective) Evaluate(*types.ImageSpec) (*types.ImageSpec, error) {
	return nil, &UnparsedDirective{Name: d.name, Value: d.value}
}

// UnparsedDirective is returned by Evaluate when a directive keyword has
// no known handler.
type UnparsedDirective struct {
	Name  string
	Value string
}

func (e *UnparsedDirective) Error() string {
	return fmt.Sprintf("unparsed directive %s %s", e.Name, e.Value)
}

func formatExec(keyword string, cmd []string) string {
	if len(cmd) == 3 && cmd[0] == "/bin/sh" && cmd[1] == "-c" {
		return keyword + " " + cmd[2]
	}
	b, _ := json.Marshal(cmd)
	return keyword + " " + string(b)
}

func parseExecForm(value string) []string {
	var argv []string
	if err := json.Unmarshal([]byte(value), &argv); err == nil {
		return argv
	}
	return []string{"/bin/sh", "-c", value}
}
