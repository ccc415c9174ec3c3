// Package state provides the thread-safe key/value store shared across
// trigger layers, with per-layer private scratch space and durable
// snapshot/restore through SQLite.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/types"
)

// Store holds global state plus per-layer scratch space. All access goes
// through the store's own lock; no other structure shares it.
type Store struct {
	mu     sync.RWMutex
	global map[string]any
	layers map[types.Layer]map[string]any
}

// Snapshot is a deep copy of the full store contents. Copies never alias
// live state.
type Snapshot struct {
	Timestamp time.Time                 `json:"timestamp"`
	Global    map[string]any            `json:"global_state"`
	Layers    map[string]map[string]any `json:"layer_states"`
}

// NewStore creates an empty store with scratch space for every layer.
func NewStore() *Store {
	s := &Store{
		global: make(map[string]any),
		layers: make(map[types.Layer]map[string]any),
	}
	for _, layer := range types.AllLayers() {
		s.layers[layer] = make(map[string]any)
	}
	return s
}

// Get returns a global value.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.global[key]
	return v, ok
}

// Set writes a global value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.global[key] = value
	s.mu.Unlock()
}

// Update applies multiple global writes atomically.
func (s *Store) Update(values map[string]any) {
	s.mu.Lock()
	for k, v := range values {
		s.global[k] = v
	}
	s.mu.Unlock()
}

// Delete removes a global key, reporting whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.global[key]; !ok {
		return false
	}
	delete(s.global, key)
	return true
}

// LayerGet returns a value from a layer's scratch space.
func (s *Store) LayerGet(layer types.Layer, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.layers[layer]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// LayerSet writes a value into a layer's scratch space.
func (s *Store) LayerSet(layer types.Layer, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.layers[layer]
	if !ok {
		m = make(map[string]any)
		s.layers[layer] = m
	}
	m[key] = value
}

// ClearLayer empties one layer's scratch space.
func (s *Store) ClearLayer(layer types.Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers[layer] = make(map[string]any)
}

// Clear empties the global map. Layer scratch space is untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	s.global = make(map[string]any)
	s.mu.Unlock()
	logging.Info("state", "Global state cleared")
}

// Snapshot returns a deep copy of everything for diagnostics and export.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Timestamp: time.Now(),
		Global:    deepCopyMap(s.global),
		Layers:    make(map[string]map[string]any, len(s.layers)),
	}
	for layer, m := range s.layers {
		snap.Layers[layer.String()] = deepCopyMap(m)
	}
	return snap
}

// LoadSnapshot replaces the store's contents with a snapshot's. Unknown
// layer names are logged and skipped.
func (s *Store) LoadSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = deepCopyMap(snap.Global)
	s.layers = make(map[types.Layer]map[string]any)
	for _, layer := range types.AllLayers() {
		s.layers[layer] = make(map[string]any)
	}
	for name, m := range snap.Layers {
		layer, err := types.ParseLayer(name)
		if err != nil {
			logging.Warn("state", "Unknown layer in snapshot: %s", name)
			continue
		}
		s.layers[layer] = deepCopyMap(m)
	}
}

// ExportJSON writes the full snapshot to a file.
func (s *Store) ExportJSON(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	logging.Info("state", "Exported state to %s", path)
	return nil
}

// ImportJSON replaces the store's contents from a file written by ExportJSON.
func (s *Store) ImportJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	s.LoadSnapshot(snap)
	logging.Info("state", "Imported state from %s", path)
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		// scalars are immutable
		return val
	}
}
