package bt

import (
	"bytes"
	"encoding/gob"
	"sort"
	"strings"
	"sync"
)

// Blackboard is the key/value store shared by the nodes of one tree instance.
// It is safe for concurrent use so a host may read it while the tree ticks.
type Blackboard interface {
	// Get retrieves a value by key. Returns (nil, false) if absent.
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	// Namespace returns a view whose keys are stored as "ns:key" in the parent.
	Namespace(ns string) Blackboard
	// Keys returns a sorted snapshot of the keys visible in this view.
	Keys() []string
	// MarshalBinary snapshots the whole store with gob. Values must be gob-encodable.
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(b []byte) error
}

// Lookup returns the value under key when it is present and of type T.
func Lookup[T any](bb Blackboard, key string) (T, bool) {
	var zero T
	v, ok := bb.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

type bbMap struct {
	mu     sync.RWMutex
	data   map[string]any
	prefix string
	root   *bbMap
}

// NewBlackboard creates an empty root blackboard.
func NewBlackboard() Blackboard {
	m := &bbMap{data: make(map[string]any)}
	m.root = m
	return m
}

func (b *bbMap) fullKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

func (b *bbMap) Get(key string) (any, bool) {
	bb := b.root
	full := b.fullKey(key)
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	v, ok := bb.data[full]
	return v, ok
}

func (b *bbMap) Set(key string, value any) {
	bb := b.root
	full := b.fullKey(key)
	bb.mu.Lock()
	bb.data[full] = value
	bb.mu.Unlock()
}

func (b *bbMap) Delete(key string) {
	bb := b.root
	full := b.fullKey(key)
	bb.mu.Lock()
	delete(bb.data, full)
	bb.mu.Unlock()
}

func (b *bbMap) Namespace(ns string) Blackboard {
	ns = strings.ReplaceAll(ns, ":", "_")
	return &bbMap{root: b.root, prefix: b.fullKey(ns)}
}

func (b *bbMap) Keys() []string {
	bb := b.root
	bb.mu.RLock()
	keys := make([]string, 0, len(bb.data))
	for k := range bb.data {
		keys = append(keys, k)
	}
	bb.mu.RUnlock()
	sort.Strings(keys)
	if b.prefix == "" {
		return keys
	}
	res := make([]string, 0)
	pref := b.prefix + ":"
	for _, k := range keys {
		if strings.HasPrefix(k, pref) {
			res = append(res, strings.TrimPrefix(k, pref))
		}
	}
	return res
}

func (b *bbMap) MarshalBinary() ([]byte, error) {
	bb := b.root
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(bb.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *bbMap) UnmarshalBinary(data []byte) error {
	restored := make(map[string]any)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&restored); err != nil {
		return err
	}
	bb := b.root
	bb.mu.Lock()
	bb.data = restored
	bb.mu.Unlock()
	return nil
}
