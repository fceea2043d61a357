/*
Package log provides structured logging for shoebox using zerolog.

It wraps zerolog to give every component (rootfs composer, namespace
orchestrator, registry client, CLI) a consistent JSON or console logger
with timestamps and a configurable level, without threading a logger
instance through every function signature.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})
	buildLog := log.WithComponent("build")
	buildLog.Info().Str("container_id", id).Msg("running step")

WithComponent and WithContainerID return plain zerolog.Logger values
derived from the shared global Logger, so call sites can attach whatever
additional fields they need with zerolog's own With() builder.
*/
package log
