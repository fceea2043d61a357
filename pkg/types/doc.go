/*
Package types defines the data model shared across shoebox: the
ImageSpec a Dockerfile folds into, the Container a store tracks on disk,
and the small value types (PortMapping, ContainerLink) that tie
the build, run and registry packages together.

# Core Types

ImageSpec:
  - The accumulator every Dockerfile directive evaluates against.
  - Carries the running RunContext (env, user, workdir), accumulated
    RunCommands (RUN/COPY/ADD build steps), exposed ports, declared
    volumes, hostname, entrypoint/command and deferred ONBUILD
    directives.

Container:
  - The on-disk view of one container instance under
    {shoebox-dir}/containers/{id}: base/delta/root layer paths, the
    volume root, and the persisted metadata.json.

RunContext:
  - Environment, active user and working directory a build step or the
    container's own process executes under.

# Usage

Folding a Dockerfile:

	spec := types.NewImageSpec()
	for _, d := range directives {
		spec, err = d.Evaluate(spec)
	}

Describing a link's environment:

	env, err := link.Environ()
*/
package types
