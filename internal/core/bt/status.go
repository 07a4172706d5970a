package bt

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a node activation and the result of Update.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusRunning
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "Uninitialized"
	case StatusRunning:
		return "Running"
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether s ends an activation.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ParseStatus accepts the String form, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "uninitialized":
		return StatusUninitialized, nil
	case "running":
		return StatusRunning, nil
	case "success":
		return StatusSuccess, nil
	case "failure":
		return StatusFailure, nil
	default:
		return StatusUninitialized, fmt.Errorf("unknown status %q", s)
	}
}

// Kind tags the structural variant of a node type.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindDecorator
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "Leaf"
	case KindDecorator:
		return "Decorator"
	case KindComposite:
		return "Composite"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// acceptsChildren reports whether n children is a valid shape for k.
func (k Kind) acceptsChildren(n int) bool {
	switch k {
	case KindLeaf:
		return n == 0
	case KindDecorator:
		return n == 1
	case KindComposite:
		return n >= 1
	default:
		return false
	}
}
