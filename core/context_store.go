package core

import (
	"reflect"
	"sort"
	"sync"
)

// ContextStore is the mutable key/value map shared by reference between every
// participant, condition, action and the orchestrator of one group session.
// It is created from caller supplied seed data and never reset mid-session.
//
// Access is guarded by a RWMutex so actions executed in parallel by the tool
// executor may mutate it safely.
type ContextStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewContextStore creates a store seeded with a copy of seed (may be nil).
func NewContextStore(seed map[string]any) *ContextStore {
	data := make(map[string]any, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &ContextStore{data: data}
}

// Get returns the value and existence flag for a key.
func (s *ContextStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *ContextStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Update merges delta into the store.
func (s *ContextStore) Update(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.data[k] = v
	}
}

// Remove deletes key and reports whether it was present.
func (s *ContextStore) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Contains reports whether key is present.
func (s *ContextStore) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns the sorted key set.
func (s *ContextStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a shallow copy of the current contents.
func (s *ContextStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Truthy reports whether key holds a truthy value. Missing keys are false.
func (s *ContextStore) Truthy(key string) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	return IsTruthy(v)
}

// IsTruthy applies the loose truthiness used by named conditions: nil, false,
// numeric zero, the empty string and empty collections are false.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
