package results

import (
	"encoding/json"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Fields is the per-iteration result record. Keys keep insertion order so
// CSV and HTML columns come out in the order a case set them.
type Fields struct {
	mu     sync.RWMutex
	values *orderedmap.OrderedMap[string, any]
}

// NewFields returns an empty record.
func NewFields() *Fields {
	return &Fields{values: orderedmap.New[string, any]()}
}

// Set stores value under key, keeping the original position of existing keys.
func (f *Fields) Set(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values.Set(key, value)
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values.Get(key)
}

// GetString returns the value under key formatted as a string.
func (f *Fields) GetString(key string) string {
	value, ok := f.Get(key)
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, f.values.Len())
	for pair := f.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values.Len()
}

// Clone returns an independent copy.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	f.mu.RLock()
	defer f.mu.RUnlock()
	for pair := f.values.Oldest(); pair != nil; pair = pair.Next() {
		out.values.Set(pair.Key, pair.Value)
	}
	return out
}

func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(f.values)
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	values := orderedmap.New[string, any]()
	if err := json.Unmarshal(data, values); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = values
	return nil
}
