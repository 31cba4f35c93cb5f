// Package app wires the runtime core together for the command-line tool:
// it builds the instance-scoped logger, decodes an assembly manifest (or a
// directory of manifests, loaded in dependency order), links everything into
// a fresh runtime and reports what got linked. It is decoupled from any
// specific entrypoint.
package app
