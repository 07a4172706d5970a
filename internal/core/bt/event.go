package bt

// Event is a named signal. Events compare equal when their names are equal,
// so both == and Equal may be used.
type Event struct {
	name string
}

func NewEvent(name string) Event { return Event{name: name} }

func (e Event) Name() string { return e.name }

func (e Event) Equal(other Event) bool { return e.name == other.name }

// IsZero reports whether e carries no name.
func (e Event) IsZero() bool { return e.name == "" }

func (e Event) String() string { return e.name }
