package bt

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Attributes is the named-attribute view of a node description.
// Values are whatever the description decoder produced (string, bool, int, float64, ...).
type Attributes map[string]any

// AttributeError names the attribute a LoadConfiguration failure is about.
type AttributeError struct {
	Name string
	Err  error
}

func (e *AttributeError) Error() string { return fmt.Sprintf("attribute %q: %v", e.Name, e.Err) }

func (e *AttributeError) Unwrap() error { return e.Err }

func missing(name string) error {
	return &AttributeError{Name: name, Err: ErrMissingAttribute}
}

func malformed(name string, v any, want string) error {
	return &AttributeError{Name: name, Err: fmt.Errorf("%w: want %s, got %T(%v)", ErrMalformedAttribute, want, v, v)}
}

// Has reports whether name is present.
func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns the attribute as a string; non-string scalars are formatted.
func (a Attributes) String(name string) (string, bool) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", false
	}
	switch vv := v.(type) {
	case string:
		return vv, true
	case fmt.Stringer:
		return vv.String(), true
	case bool, int, int64, float64:
		return fmt.Sprint(vv), true
	default:
		return "", false
	}
}

// RequireString returns a non-empty string attribute or an *AttributeError.
func (a Attributes) RequireString(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", missing(name)
	}
	s, ok := a.String(name)
	if !ok {
		return "", malformed(name, v, "string")
	}
	if s == "" {
		return "", missing(name)
	}
	return s, nil
}

// StringOr returns the string attribute or def when absent.
func (a Attributes) StringOr(name, def string) (string, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := a.String(name)
	if !ok {
		return "", malformed(name, v, "string")
	}
	return s, nil
}

// IntOr returns the integer attribute or def when absent.
func (a Attributes) IntOr(name string, def int) (int, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch vv := v.(type) {
	case int:
		return vv, nil
	case int64:
		return int(vv), nil
	case uint64:
		return int(vv), nil
	case float64:
		if vv != math.Trunc(vv) {
			return 0, malformed(name, v, "integer")
		}
		return int(vv), nil
	case string:
		n, err := strconv.Atoi(vv)
		if err != nil {
			return 0, malformed(name, v, "integer")
		}
		return n, nil
	default:
		return 0, malformed(name, v, "integer")
	}
}

// FloatOr returns the numeric attribute or def when absent.
func (a Attributes) FloatOr(name string, def float64) (float64, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch vv := v.(type) {
	case float64:
		return vv, nil
	case int:
		return float64(vv), nil
	case int64:
		return float64(vv), nil
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		if err != nil {
			return 0, malformed(name, v, "number")
		}
		return f, nil
	default:
		return 0, malformed(name, v, "number")
	}
}

// BoolOr returns the boolean attribute or def when absent.
func (a Attributes) BoolOr(name string, def bool) (bool, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch vv := v.(type) {
	case bool:
		return vv, nil
	case string:
		b, err := strconv.ParseBool(vv)
		if err != nil {
			return false, malformed(name, v, "bool")
		}
		return b, nil
	default:
		return false, malformed(name, v, "bool")
	}
}

// DurationOr accepts Go duration strings ("250ms") or a number of milliseconds.
func (a Attributes) DurationOr(name string, def time.Duration) (time.Duration, error) {
	v, ok := a[name]
	if !ok || v == nil {
		return def, nil
	}
	switch vv := v.(type) {
	case time.Duration:
		return vv, nil
	case string:
		d, err := time.ParseDuration(vv)
		if err != nil {
			return 0, malformed(name, v, "duration")
		}
		return d, nil
	case int:
		return time.Duration(vv) * time.Millisecond, nil
	case int64:
		return time.Duration(vv) * time.Millisecond, nil
	case float64:
		return time.Duration(vv * float64(time.Millisecond)), nil
	default:
		return 0, malformed(name, v, "duration")
	}
}

// Decode copies the attributes into a struct tagged with `mapstructure:"..."`.
// Decoding is weakly typed, so "3" fills an int and "1s" fills a time.Duration.
// Fields without a matching attribute keep their value, so defaults can be
// set before decoding. Failures are *AttributeError naming the first bad field.
func (a Attributes) Decode(target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err = dec.Decode(map[string]any(a)); err != nil {
		return &AttributeError{Name: decodedField(err), Err: fmt.Errorf("%w: %v", ErrMalformedAttribute, err)}
	}
	return nil
}

// decodedField pulls the field name out of the first mapstructure message,
// which always quotes it first ("cannot parse 'count' as int: ...").
func decodedField(err error) string {
	var me *mapstructure.Error
	if !errors.As(err, &me) || len(me.Errors) == 0 {
		return ""
	}
	msg := me.Errors[0]
	start := strings.IndexByte(msg, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
