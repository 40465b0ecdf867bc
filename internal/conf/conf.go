// Package conf holds the cluster configuration as an ordered key/value
// mapping and serializes it in the Java properties format consumers of the
// generated site file expect.
package conf

import (
	"fmt"
	"os"

	"github.com/magiconair/properties"
)

// Pair is a single configuration entry.
type Pair struct {
	Key   string
	Value string
}

// Map is an ordered string to string mapping. Keys keep their first
// insertion order; setting an existing key overwrites its value in place.
// Keys and values are opaque, nothing is validated.
type Map struct {
	keys []string
	vals map[string]string
}

func New() *Map {
	return &Map{vals: make(map[string]string)}
}

// FromPairs builds a Map from pairs applied in order.
func FromPairs(pairs []Pair) *Map {
	m := New()
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

func (m *Map) Set(key, value string) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
}

func (m *Map) Get(key string) (string, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *Map) Len() int {
	return len(m.keys)
}

// Merge applies every entry of other, in other's order. A nil other is a
// no-op, so optional overrides can be passed through unchecked.
func (m *Map) Merge(other *Map) {
	if other == nil {
		return
	}
	for _, p := range other.Pairs() {
		m.Set(p.Key, p.Value)
	}
}

// Pairs returns the entries in key insertion order.
func (m *Map) Pairs() []Pair {
	pairs := make([]Pair, 0, len(m.keys))
	for _, k := range m.keys {
		pairs = append(pairs, Pair{Key: k, Value: m.vals[k]})
	}
	return pairs
}

// Clone returns an independent copy preserving order.
func (m *Map) Clone() *Map {
	return FromPairs(m.Pairs())
}

// Properties converts the mapping to its properties representation.
func (m *Map) Properties() *properties.Properties {
	p := properties.NewProperties()
	// values are opaque pass-through, ${...} must not be expanded
	p.DisableExpansion = true
	for _, pair := range m.Pairs() {
		_, _, _ = p.Set(pair.Key, pair.Value)
	}
	return p
}

// WriteFile serializes the mapping to path in properties format, overwriting
// any existing file. The file handle is released on every exit path and a
// close failure is surfaced when it is the only one.
func (m *Map) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating site file %s: %w", path, err)
	}
	defer func() {
		cerr := f.Close()
		if cerr != nil && err == nil {
			err = fmt.Errorf("closing site file %s: %w", path, cerr)
		}
	}()

	if _, err = m.Properties().Write(f, properties.UTF8); err != nil {
		return fmt.Errorf("writing site file %s: %w", path, err)
	}
	return nil
}
