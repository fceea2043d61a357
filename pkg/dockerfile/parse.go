package dockerfile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/shoebox/pkg/types"
)

// Parser builds directives with a FROM resolver attached, so FROM lines
// can inherit a base image's metadata from the registry/store cache.
type Parser struct {
	Resolver Resolver
}

// ParseFile parses every directive in content in order, without
// evaluating them.
func (p *Parser) ParseFile(content string) ([]types.Directive, error) {
	rawLines, err := lex(content)
	if err != nil {
		return nil, err
	}
	var out []types.Directive
	for _, rl := range rawLines {
		d, err := p.parseOne(rl.Name, rl.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
	}
	return out, nil
}

// Evaluate parses and folds every directive in content into base (or a
// fresh ImageSpec if base is nil).
func (p *Parser) Evaluate(content string, base *types.ImageSpec) (*types.ImageSpec, error) {
	directives, err := p.ParseFile(content)
	if err != nil {
		return nil, err
	}
	spec := base
	if spec == nil {
		spec = types.NewImageSpec()
	}
	for _, d := range directives {
		spec, err = d.Evaluate(spec)
		if err != nil {
			return nil, fmt.Errorf("dockerfile: evaluate %s: %w", d, err)
		}
	}
	return spec, nil
}

// Parse parses a single already-joined directive line (as ONBUILD's
// payload is) with no resolver attached. Exported for reuse by
// InheritFrom when replaying a base image's own ONBUILD strings.
func Parse(line string) ([]types.Directive, error) {
	name, value := splitName(strings.TrimSpace(line))
	p := &Parser{}
	return p.parseOne(name, value)
}

func (p *Parser) parseOne(name, value string) ([]types.Directive, error) {
	switch name {
	case "FROM":
		words := splitWords(value)
		if len(words) == 0 {
			return nil, fmt.Errorf("dockerfile: FROM requires an image name")
		}
		image := words[0]
		tag := "latest"
		if idx := strings.LastIndex(image, ":"); idx > 0 && !strings.Contains(image[idx:], "/") {
			tag = image[idx+1:]
			image = image[:idx]
		}
		return one(&fromDirective{image: image, tag: tag, resolver: p.Resolver})

	case "ENV":
		return parseEnv(value)

	case "WORKDIR":
		return one(&workdirDirective{value: parseValue(strings.TrimSpace(value))})

	case "EXPOSE":
		var ports []expandable
		for _, w := range splitWords(value) {
			ports = append(ports, parseValue(w))
		}
		return one(&exposeDirective{ports: ports})

	case "ADD", "COPY":
		words := splitWords(value)
		if len(words) < 2 {
			return nil, fmt.Errorf("dockerfile: %s requires a source and a destination", name)
		}
		var sources []expandable
		for _, w := range words[:len(words)-1] {
			sources = append(sources, parseValue(w))
		}
		return one(&addCopyDirective{
			sources: sources,
			dest:    parseValue(words[len(words)-1]),
			isAdd:   name == "ADD",
		})

	case "VOLUME":
		var paths []expandable
		for _, w := range volumeWords(value) {
			paths = append(paths, parseValue(w))
		}
		return one(&volumeDirective{paths: paths})

	case "RUN":
		return one(&runDirective{command: parseExecForm(value)})

	case "CMD":
		return one(&cmdDirective{command: parseExecForm(value)})

	case "ENTRYPOINT":
		return one(&entrypointDirective{command: parseExecForm(value)})

	case "USER":
		return one(&userDirective{name: parseValue(strings.TrimSpace(value))})

	case "MAINTAINER":
		return one(&maintainerDirective{value: value})

	case "INSERT":
		return one(&insertDirective{})

	case "HOSTNAME":
		return one(&hostnameDirective{value: parseValue(strings.TrimSpace(value))})

	case "ONBUILD":
		inner, err := Parse(value)
		if err != nil {
			return nil, err
		}
		if len(inner) != 1 {
			return nil, fmt.Errorf("dockerfile: ONBUILD must wrap exactly one directive")
		}
		if !inner[0].OnbuildAllowed() {
			return nil, fmt.Errorf("dockerfile: directive %s not allowed in ONBUILD", strings.Fields(value)[0])
		}
		return one(&onbuildDirective{inner: inner[0]})

	default:
		return one(&unparsedDirective{name: name, value: value})
	}
}

func one(d types.Directive) ([]types.Directive, error) { return []types.Directive{d}, nil }

// volumeWords splits a VOLUME directive's value into its declared
// paths, accepting either whitespace-separated bare words or a JSON
// array of strings (`VOLUME ["/data","/logs"]`), matching the two forms
// real-world Dockerfiles use.
func volumeWords(value string) []string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "[") {
		var words []string
		if err := json.Unmarshal([]byte(trimmed), &words); err == nil {
			return words
		}
	}
	return splitWords(value)
}

// parseEnv implements both ENV forms: "ENV NAME value with spaces" and
// "ENV NAME=value NAME2=value2 ...".
func parseEnv(value string) ([]types.Directive, error) {
	words := splitWords(value)
	if len(words) == 0 {
		return nil, fmt.Errorf("dockerfile: ENV requires at least one assignment")
	}
	if strings.Contains(words[0], "=") {
		var pairs [][2]expandable
		for _, w := range words {
			kv := strings.SplitN(w, "=", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("dockerfile: invalid ENV assignment %q", w)
			}
			pairs = append(pairs, [2]expandable{parseValue(kv[0]), parseValue(kv[1])})
		}
		return one(&envDirective{pairs: pairs})
	}
	name := words[0]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), name))
	return one(&envDirective{pairs: [][2]expandable{{parseValue(name), parseValue(rest)}}})
}

type hostnameDirective struct{ value expandable }

func (d *hostnameDirective) String() string      { return "HOSTNAME" }
func (d *hostnameDirective) OnbuildAllowed() bool { return true }
func (d *hostnameDirective) Evaluate(spec *types.ImageSpec) (*types.ImageSpec, error) {
	spec.Hostname = d.value.Expand(spec.Context.Environ)
	return spec, nil
}
