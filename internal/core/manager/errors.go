package manager

import "errors"

var (
	ErrUnknownActor  = errors.New("unknown actor")
	ErrActorExists   = errors.New("actor already spawned")
	ErrUnknownTree   = errors.New("unknown tree")
	ErrDuplicateTree = errors.New("tree already added")
	ErrClosed        = errors.New("manager is closed")
	ErrNotAttached   = errors.New("manager is not attached to a bus")
	ErrAttached      = errors.New("manager already attached to a bus")
)
