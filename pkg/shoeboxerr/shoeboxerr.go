// Package shoeboxerr defines the typed error kinds shoebox's components
// raise: malformed input, missing resources, registry failures,
// permission/mount failures, and a subprocess's signaled or non-zero
// exit. Call sites wrap these with
// fmt.Errorf("...: %w", err) the way the rest of the tree does, so
// errors.As/errors.Is still reach the typed value underneath.
package shoeboxerr

import "fmt"

// ConfigError reports malformed CLI input: an invalid tag/id shape, a
// missing required flag, a conflicting combination of flags.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// ParseError reports a Dockerfile that could not be lexed or parsed at
// all (as opposed to UnparsedDirective, which is a directive keyword
// with no handler; that is raised by pkg/dockerfile directly).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parse: " + e.Reason }

// NotFound reports a missing container, image or tag.
type NotFound struct {
	Kind string // "container", "image", "tag"
	Ref  string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref) }

// RegistryError reports a non-200/404 response or an endpoint list
// exhausted without success.
type RegistryError struct {
	Op     string
	Status string
}

func (e *RegistryError) Error() string { return fmt.Sprintf("registry: %s: %s", e.Op, e.Status) }

// PermissionError reports a failed mount, capability set, id-map
// application or setuid helper invocation. Many call sites downgrade
// this to a warning and fall back rather than propagating it; see
// pkg/rootfs's sysfs handling and pkg/idmap's single-entry fallback.
type PermissionError struct {
	Op  string
	Err error
}

func (e *PermissionError) Error() string { return fmt.Sprintf("permission: %s: %v", e.Op, e.Err) }
func (e *PermissionError) Unwrap() error { return e.Err }

// ChildSignaled reports a namespace child or build step killed by a
// signal rather than exiting normally.
type ChildSignaled struct {
	Signal int
}

func (e *ChildSignaled) Error() string { return fmt.Sprintf("child killed by signal %d", e.Signal) }

// ChildExited reports a namespace child or build step that ran to
// completion with a non-zero status.
type ChildExited struct {
	Code int
}

func (e *ChildExited) Error() string { return fmt.Sprintf("child exited with status %d", e.Code) }

// Unsupported reports a request this implementation deliberately does
// not serve: a stacked overlay of more than two layers, an archive
// format ADD does not recognize.
type Unsupported struct {
	Reason string
}

func (e *Unsupported) Error() string { return "unsupported: " + e.Reason }
