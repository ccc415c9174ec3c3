package trigger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/types"
)

// Registry holds all triggers, grouped by layer and sorted by in-layer
// priority. Reads return copies of the layer lists so evaluation never
// holds the registry lock.
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]*Trigger
	byLayer  map[types.Layer][]*Trigger
}

// LayerStats summarizes one layer's triggers.
type LayerStats struct {
	Total           int
	Enabled         int
	TotalExecutions int
	TotalSuccesses  int
}

// RegistryStats summarizes the whole registry.
type RegistryStats struct {
	TotalTriggers   int
	EnabledTriggers int
	Layers          map[string]LayerStats
}

// NewRegistry creates an empty trigger registry.
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]*Trigger),
		byLayer:  make(map[types.Layer][]*Trigger),
	}
}

// Register inserts or replaces a trigger by id and re-sorts its layer's
// list by ascending priority.
func (r *Registry) Register(t *Trigger) error {
	if t == nil {
		return fmt.Errorf("nil trigger")
	}
	if t.ID == "" {
		return fmt.Errorf("trigger id required")
	}
	if t.Condition == nil {
		return fmt.Errorf("trigger %s: condition required", t.ID)
	}
	if t.Action.Handler == "" {
		return fmt.Errorf("trigger %s: action handler required", t.ID)
	}
	if t.Layer < types.LayerReflex || t.Layer > types.LayerSystem {
		return fmt.Errorf("trigger %s: invalid layer %d", t.ID, int(t.Layer))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.triggers[t.ID]; ok {
		logging.Info("registry", "Trigger %s already registered, replacing", t.ID)
		r.removeFromLayerLocked(old)
	}

	r.triggers[t.ID] = t
	r.byLayer[t.Layer] = append(r.byLayer[t.Layer], t)
	sort.SliceStable(r.byLayer[t.Layer], func(i, j int) bool {
		return r.byLayer[t.Layer][i].Priority < r.byLayer[t.Layer][j].Priority
	})

	logging.Debug("registry", "Registered trigger %q (id=%s) in layer %s", t.Name, t.ID, t.Layer)
	return nil
}

func (r *Registry) removeFromLayerLocked(t *Trigger) {
	list := r.byLayer[t.Layer]
	for i, cur := range list {
		if cur == t {
			r.byLayer[t.Layer] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Get returns the trigger with the given id.
func (r *Registry) Get(id string) (*Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[id]
	return t, ok
}

// TriggersForLayer returns the enabled triggers of a layer in ascending
// priority order. The slice is a copy; callers may iterate lock-free.
func (r *Registry) TriggersForLayer(layer types.Layer) []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byLayer[layer]
	out := make([]*Trigger, 0, len(list))
	for _, t := range list {
		if t.Enabled() {
			out = append(out, t)
		}
	}
	return out
}

// Enable marks a trigger eligible for evaluation.
func (r *Registry) Enable(id string) bool {
	if t, ok := r.Get(id); ok {
		t.Enable()
		logging.Info("registry", "Enabled trigger %s", id)
		return true
	}
	return false
}

// Disable removes a trigger from evaluation without unregistering it.
func (r *Registry) Disable(id string) bool {
	if t, ok := r.Get(id); ok {
		t.Disable()
		logging.Info("registry", "Disabled trigger %s", id)
		return true
	}
	return false
}

// UpdateStats records an execution outcome for a trigger.
func (r *Registry) UpdateStats(id string, success bool, duration time.Duration) {
	t, ok := r.Get(id)
	if !ok {
		logging.Warn("registry", "UpdateStats for unknown trigger %s", id)
		return
	}
	t.RecordExecution(success, time.Now())
	logging.Debug("registry", "Trigger %s stats: executions=%d success_rate=%.1f%% duration=%s",
		id, t.Stats().ExecutionCount, t.SuccessRate(), duration)
}

// Len returns the number of registered triggers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triggers)
}

// Statistics returns per-layer totals.
func (r *Registry) Statistics() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalTriggers: len(r.triggers),
		Layers:        make(map[string]LayerStats),
	}
	for _, t := range r.triggers {
		if t.Enabled() {
			stats.EnabledTriggers++
		}
	}
	for _, layer := range types.AllLayers() {
		ls := LayerStats{}
		for _, t := range r.byLayer[layer] {
			ls.Total++
			if t.Enabled() {
				ls.Enabled++
			}
			ts := t.Stats()
			ls.TotalExecutions += ts.ExecutionCount
			ls.TotalSuccesses += ts.SuccessCount
		}
		stats.Layers[layer.String()] = ls
	}
	return stats
}

// Clear removes every trigger. Full reset only; triggers are never deleted
// individually during normal operation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = make(map[string]*Trigger)
	r.byLayer = make(map[types.Layer][]*Trigger)
	logging.Info("registry", "Cleared all triggers")
}
