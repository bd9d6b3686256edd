package utils

import (
	"encoding/json"
	"fmt"
	"sort"
)

// OrderedMap is a map that preserves key insertion order.
type OrderedMap struct {
	keys   []string
	values map[string]interface{}
}

// NewOrderedMap creates a new empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{
		keys:   make([]string, 0),
		values: make(map[string]interface{}),
	}
}

// Set sets the value for a key, preserving insertion order.
func (om *OrderedMap) Set(key string, value interface{}) {
	if _, exists := om.values[key]; !exists {
		om.keys = append(om.keys, key)
	}
	om.values[key] = value
}

// Get retrieves the value for a key.
func (om *OrderedMap) Get(key string) (interface{}, bool) {
	v, ok := om.values[key]
	return v, ok
}

// Len returns the number of entries.
func (om *OrderedMap) Len() int {
	return len(om.keys)
}

// Keys returns the keys in insertion order.
func (om *OrderedMap) Keys() []string {
	return append([]string(nil), om.keys...)
}

// SortedKeys returns the keys in lexical order.
func (om *OrderedMap) SortedKeys() []string {
	keys := om.Keys()
	sort.Strings(keys)
	return keys
}

// CanonicalJSON encodes the entries as a JSON array of [key, value] pairs
// sorted by key. Equal maps always produce identical bytes, whatever order
// the entries were inserted in.
func (om *OrderedMap) CanonicalJSON() ([]byte, error) {
	pairs := make([][2]interface{}, 0, len(om.keys))
	for _, k := range om.SortedKeys() {
		pairs = append(pairs, [2]interface{}{k, om.values[k]})
	}
	out, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return out, nil
}
