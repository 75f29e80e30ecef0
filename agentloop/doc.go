// Package agentloop implements the execution substrate for an
// interactive coding agent: a sandbox of file and shell tools scoped to
// a working directory, a tool registry with JSON Schema definitions,
// and a session loop that alternates agent turns and user turns while
// snapshotting the working directory around each turn.
//
// Tool operations clamp out-of-range line requests where the original
// protocol tolerates it and return typed errors (ValidationError,
// NotFoundError, RangeError, ConflictError) where it does not. Every
// tool payload destined for the model is truncated to a fixed ceiling.
//
// The package emits structured SessionEvents instead of logging; the
// host application decides how to render or persist them.
package agentloop
