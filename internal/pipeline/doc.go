// Package pipeline composes named middleware stages into per-group
// request chains.
//
// Stages are registered by name with a factory and a priority. A group is
// a list of stage names; when a group is served, its stages are ordered by
// priority (highest first, ties keep their listed order, names without a
// priority go last) and wrapped right-to-left around a terminal handler.
// Each stage receives the next handler and may end the request by not
// calling it.
//
// Built chains are cached per group and rebuilt after any registry
// mutation. Unknown stage names are skipped with a warning in
// ModePermissive and fail the build with ErrUnknownStage in ModeStrict.
package pipeline
