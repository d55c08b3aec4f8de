package engine

import "errors"

var (
	// ErrNotOnHostPage means the attached document's URL does not match the
	// configured host page pattern; no operation touches the tree in that
	// state.
	ErrNotOnHostPage = errors.New("engine: not on host page")

	// ErrGroupNotFound means an activation named a group id the provider
	// does not know and carried no inline selection. Nothing was mutated.
	ErrGroupNotFound = errors.New("engine: group not found")

	// ErrSuperseded means a queued transition was replaced by a newer one
	// before it could run.
	ErrSuperseded = errors.New("engine: transition superseded")
)
