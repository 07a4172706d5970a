package bt

import (
	"errors"
	"fmt"
)

var (
	ErrLoad               = errors.New("load error")
	ErrStructure          = errors.New("structural error")
	ErrUnknownNodeType    = errors.New("unknown node type")
	ErrDuplicateNodeType  = errors.New("node type already registered")
	ErrEmptyDescription   = errors.New("description has no root node")
	ErrUnsupportedFormat  = errors.New("unsupported description format")
	ErrMissingAttribute   = errors.New("missing attribute")
	ErrMalformedAttribute = errors.New("malformed attribute")
)

// LoadError reports a node whose configuration could not be loaded.
// It matches ErrLoad with errors.Is.
type LoadError struct {
	Path      string // slash separated node path from the root, e.g. "root/0/1"
	Type      string
	Attribute string
	Err       error
}

func (e *LoadError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("load %s (%s): attribute %q: %v", e.Path, e.Type, e.Attribute, e.Err)
	}
	return fmt.Sprintf("load %s (%s): %v", e.Path, e.Type, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// StructuralError reports a node whose child count does not fit its kind.
// It matches ErrStructure with errors.Is.
type StructuralError struct {
	Path     string
	Type     string
	Kind     Kind
	Children int
}

func (e *StructuralError) Error() string {
	var want string
	switch e.Kind {
	case KindLeaf:
		want = "no children"
	case KindDecorator:
		want = "exactly one child"
	default:
		want = "at least one child"
	}
	return fmt.Sprintf("structure %s (%s): %s requires %s, got %d", e.Path, e.Type, e.Kind, want, e.Children)
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructure }
