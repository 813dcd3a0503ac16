// Package props provides the string-keyed property map attached to decoded
// table files (container metadata, table properties).
package props

import "sort"

// Map maps property names to values. Keys are unique; the last Set wins.
type Map map[string]string

// New returns an empty map.
func New() Map {
	return make(Map)
}

// Set stores value under key, replacing any previous value.
func (m Map) Set(key, value string) {
	m[key] = value
}

// Get returns the value for key, or "" when absent.
func (m Map) Get(key string) string {
	return m[key]
}

// Lookup returns the value for key and whether it was present.
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Len returns the number of properties.
func (m Map) Len() int {
	return len(m)
}

// Keys returns the property names in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy. Cloning a nil map yields an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
