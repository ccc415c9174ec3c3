// Package coordinator orchestrates one evaluation cycle per world-state
// snapshot: layers are walked in priority order, the first satisfied
// trigger in the first satisfied layer produces the cycle's output, and
// the SYSTEM layer runs as an independent background pass that never
// blocks the foreground.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kore-ai/brain/internal/audit"
	"github.com/kore-ai/brain/internal/dispatch"
	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/state"
	"github.com/kore-ai/brain/internal/trigger"
	"github.com/kore-ai/brain/internal/types"
)

// Decision is the single action a cycle selects.
type Decision struct {
	Action        string         `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	SourceTrigger string         `json:"source_trigger"`
	Layer         types.Layer    `json:"layer"`
	Duration      time.Duration  `json:"-"`
}

// Statistics summarizes coordinator activity plus component stats.
type Statistics struct {
	TotalChecks      int64
	TotalFired       int64
	ActiveLayer      string
	LayerFires       map[string]int64
	Registry         trigger.RegistryStats
	Evaluations      int64
	CustomConditions int
	Dispatcher       dispatch.Stats
}

// Health is the result of a health check.
type Health struct {
	Healthy        bool
	TriggersLoaded bool
	Err            string
}

// Options configure optional collaborators.
type Options struct {
	Recorder audit.Recorder
}

// Coordinator owns the registry, evaluator, dispatcher, and state store
// explicitly; there are no ambient globals.
type Coordinator struct {
	registry   *trigger.Registry
	evaluator  *trigger.Evaluator
	dispatcher *dispatch.Dispatcher
	store      *state.Store
	recorder   audit.Recorder

	mu          sync.Mutex
	activeLayer types.Layer // 0 = idle
	interrupt   bool
	layerFires  map[types.Layer]int64

	totalChecks   atomic.Int64
	totalFired    atomic.Int64
	systemRunning atomic.Bool
}

// New creates a coordinator.
func New(registry *trigger.Registry, evaluator *trigger.Evaluator, dispatcher *dispatch.Dispatcher, store *state.Store, opts Options) *Coordinator {
	rec := opts.Recorder
	if rec == nil {
		rec = audit.NopRecorder{}
	}
	return &Coordinator{
		registry:   registry,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		store:      store,
		recorder:   rec,
		layerFires: make(map[types.Layer]int64),
	}
}

// Process runs one evaluation cycle against a snapshot. Foreground layers
// are visited by ascending priority; the first firing trigger wins and
// remaining layers are skipped. When no foreground trigger fires, a SYSTEM
// pass is spun off in the background (skipped if the previous pass is
// still running) and nil is returned.
func (c *Coordinator) Process(ctx context.Context, snapshot types.Snapshot) *Decision {
	c.totalChecks.Add(1)

	c.store.Set("last_game_state", snapshot)
	c.store.Set("last_check_timestamp", time.Now().UnixMilli())

	for _, layer := range types.ForegroundLayers() {
		if c.takeInterrupt() {
			logging.Warn("coordinator", "Cycle interrupted before layer %s", layer)
			break
		}
		if d := c.checkLayer(ctx, layer, snapshot); d != nil {
			logging.Info("coordinator", "Layer %s produced action: %s", layer, d.Action)
			return d
		}
	}

	if c.systemRunning.CompareAndSwap(false, true) {
		go func() {
			defer c.systemRunning.Store(false)
			// detach from the foreground cycle's cancellation
			if d := c.checkLayer(context.WithoutCancel(ctx), types.LayerSystem, snapshot); d != nil {
				logging.Debug("coordinator", "Background SYSTEM action: %s", d.Action)
			}
		}()
	}

	return nil
}

// checkLayer walks a layer's enabled triggers in priority order and
// dispatches the first whose condition holds. A trigger's dispatch failure
// is recorded and evaluation proceeds to the next trigger; one failing
// rule never blocks the rest of the layer.
func (c *Coordinator) checkLayer(ctx context.Context, layer types.Layer, snapshot types.Snapshot) *Decision {
	c.setActiveLayer(layer)
	defer c.setActiveLayer(0)

	triggers := c.registry.TriggersForLayer(layer)
	if len(triggers) == 0 {
		return nil
	}
	logging.Debug("coordinator", "Checking %d triggers in layer %s", len(triggers), layer)

	for _, t := range triggers {
		if !t.CanFire(time.Now()) {
			continue
		}
		if !c.evaluator.Evaluate(t.Condition, snapshot) {
			continue
		}

		logging.Info("coordinator", "Trigger %q met in layer %s, dispatching", t.Name, layer)
		result := c.dispatcher.Execute(ctx, t.Action, snapshot)

		c.registry.UpdateStats(t.ID, result.Success, result.Duration)
		c.mu.Lock()
		c.layerFires[layer]++
		c.mu.Unlock()
		if result.Success {
			c.totalFired.Add(1)
		}

		c.record(ctx, t, layer, result)

		if !result.Success {
			logging.Warn("coordinator", "Trigger %q dispatched but failed: %s", t.Name, result.Err)
			continue
		}
		return decisionFrom(t, layer, result)
	}
	return nil
}

func decisionFrom(t *trigger.Trigger, layer types.Layer, result dispatch.Result) *Decision {
	d := &Decision{
		Action:        t.Action.Handler,
		Params:        t.Action.Params,
		SourceTrigger: t.ID,
		Layer:         layer,
		Duration:      result.Duration,
	}
	// handlers may override the command they emit
	if result.Request != nil {
		d.Action = result.Request.Action
		d.Params = result.Request.Params
		d.Reason = result.Request.Reason
	}
	return d
}

func (c *Coordinator) record(ctx context.Context, t *trigger.Trigger, layer types.Layer, result dispatch.Result) {
	rec := audit.Record{
		TriggerID:   t.ID,
		TriggerName: t.Name,
		Layer:       layer.String(),
		Action:      t.Action.Handler,
		Success:     result.Success,
		DurationMS:  float64(result.Duration) / float64(time.Millisecond),
		Error:       result.Err,
		At:          time.Now(),
	}
	if err := c.recorder.Record(ctx, rec); err != nil {
		logging.Warn("coordinator", "Failed to record audit entry for %s: %v", t.ID, err)
	}
}

func (c *Coordinator) setActiveLayer(layer types.Layer) {
	c.mu.Lock()
	c.activeLayer = layer
	c.mu.Unlock()
}

// RequestInterrupt asks the current cycle to stop before its next layer if
// the requesting layer outranks the one being processed. Advisory only:
// the trigger currently dispatching always finishes.
func (c *Coordinator) RequestInterrupt(layer types.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeLayer != 0 && layer < c.activeLayer {
		c.interrupt = true
		logging.Info("coordinator", "Interrupt requested by %s (current: %s)", layer, c.activeLayer)
	}
}

func (c *Coordinator) takeInterrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupt {
		c.interrupt = false
		return true
	}
	return false
}

// Statistics returns coordinator and component totals.
func (c *Coordinator) Statistics() Statistics {
	c.mu.Lock()
	fires := make(map[string]int64, len(c.layerFires))
	for layer, n := range c.layerFires {
		fires[layer.String()] = n
	}
	active := ""
	if c.activeLayer != 0 {
		active = c.activeLayer.String()
	}
	c.mu.Unlock()

	return Statistics{
		TotalChecks:      c.totalChecks.Load(),
		TotalFired:       c.totalFired.Load(),
		ActiveLayer:      active,
		LayerFires:       fires,
		Registry:         c.registry.Statistics(),
		Evaluations:      c.evaluator.EvaluationCount(),
		CustomConditions: c.evaluator.CustomFuncCount(),
		Dispatcher:       c.dispatcher.Statistics(),
	}
}

// ResetStatistics zeroes the coordinator's counters.
func (c *Coordinator) ResetStatistics() {
	c.mu.Lock()
	c.layerFires = make(map[types.Layer]int64)
	c.mu.Unlock()
	c.totalChecks.Store(0)
	c.totalFired.Store(0)
	logging.Info("coordinator", "Statistics reset")
}

// HealthCheck runs a cycle against a synthetic snapshot. The system is
// healthy when the cycle completes.
func (c *Coordinator) HealthCheck(ctx context.Context) Health {
	h := Health{TriggersLoaded: c.registry.Len() > 0}
	c.Process(ctx, types.Snapshot{"healthcheck": true})
	h.Healthy = true
	return h
}
