package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kore-ai/brain/internal/audit"
	"github.com/kore-ai/brain/internal/dispatch"
	"github.com/kore-ai/brain/internal/state"
	"github.com/kore-ai/brain/internal/trigger"
	"github.com/kore-ai/brain/internal/types"
)

type fixture struct {
	registry   *trigger.Registry
	evaluator  *trigger.Evaluator
	dispatcher *dispatch.Dispatcher
	store      *state.Store
	recorder   *audit.MemoryRecorder
	coord      *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry:   trigger.NewRegistry(),
		evaluator:  trigger.NewEvaluator(),
		dispatcher: dispatch.NewDispatcher(),
		store:      state.NewStore(),
		recorder:   &audit.MemoryRecorder{},
	}
	f.coord = New(f.registry, f.evaluator, f.dispatcher, f.store, Options{Recorder: f.recorder})
	return f
}

func (f *fixture) addTrigger(t *testing.T, id string, layer types.Layer, priority int, cooldown time.Duration, cond trigger.Condition, handler string) {
	t.Helper()
	if err := f.registry.Register(&trigger.Trigger{
		ID:        id,
		Name:      id,
		Layer:     layer,
		Priority:  priority,
		Cooldown:  cooldown,
		Condition: cond,
		Action:    trigger.Action{Handler: handler},
	}); err != nil {
		t.Fatal(err)
	}
}

func echoHandler(action string) dispatch.Handler {
	return func(context.Context, map[string]any, types.Snapshot) (*types.ActionRequest, error) {
		return &types.ActionRequest{Action: action}, nil
	}
}

func lowHP() types.Snapshot {
	return types.Snapshot{
		"character": map[string]any{"hp_percent": 15.0},
		"combat":    map[string]any{"in_combat": true},
	}
}

func hpBelow(threshold float64) trigger.Condition {
	return &trigger.SimpleCondition{Field: "character.hp_percent", Operator: "<", Value: threshold}
}

func TestLayerPrecedence(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("heal", echoHandler("use_item"))
	f.dispatcher.Register("attack", echoHandler("attack"))

	// both conditions hold, but REFLEX outranks TACTICAL
	f.addTrigger(t, "emergency_heal", types.LayerReflex, 1, 0, hpBelow(30), "heal")
	f.addTrigger(t, "engage", types.LayerTactical, 1, 0,
		&trigger.SimpleCondition{Field: "combat.in_combat", Operator: "==", Value: true}, "attack")

	d := f.coord.Process(context.Background(), lowHP())
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.SourceTrigger != "emergency_heal" || d.Layer != types.LayerReflex {
		t.Errorf("decision from %s/%s, want emergency_heal/REFLEX", d.SourceTrigger, d.Layer)
	}
	if d.Action != "use_item" {
		t.Errorf("action = %q", d.Action)
	}
}

func TestPriorityWithinLayer(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("a", echoHandler("a"))
	f.dispatcher.Register("b", echoHandler("b"))

	f.addTrigger(t, "second", types.LayerReflex, 5, 0, hpBelow(100), "b")
	f.addTrigger(t, "first", types.LayerReflex, 1, 0, hpBelow(100), "a")

	d := f.coord.Process(context.Background(), lowHP())
	if d == nil || d.SourceTrigger != "first" {
		t.Fatalf("decision = %+v, want trigger %q", d, "first")
	}
}

func TestCooldownGating(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("heal", echoHandler("use_item"))
	f.addTrigger(t, "emergency_heal", types.LayerReflex, 1, 5*time.Second, hpBelow(30), "heal")

	ctx := context.Background()
	if d := f.coord.Process(ctx, lowHP()); d == nil {
		t.Fatal("first cycle should fire")
	}
	if d := f.coord.Process(ctx, lowHP()); d != nil {
		t.Fatalf("second cycle fired during cooldown: %+v", d)
	}

	// backdate the last execution past the cooldown window
	trig, _ := f.registry.Get("emergency_heal")
	trig.RecordExecution(true, time.Now().Add(-6*time.Second))
	if d := f.coord.Process(ctx, lowHP()); d == nil {
		t.Fatal("cycle after cooldown should fire again")
	}
}

func TestDispatchFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("broken", func(context.Context, map[string]any, types.Snapshot) (*types.ActionRequest, error) {
		return nil, errors.New("no potions left")
	})
	f.dispatcher.Register("flee", echoHandler("move"))

	f.addTrigger(t, "heal_first", types.LayerReflex, 1, 0, hpBelow(30), "broken")
	f.addTrigger(t, "flee_second", types.LayerReflex, 2, 0, hpBelow(30), "flee")

	d := f.coord.Process(context.Background(), lowHP())
	if d == nil || d.SourceTrigger != "flee_second" {
		t.Fatalf("decision = %+v, want the fallback trigger", d)
	}

	records := f.recorder.Records()
	if len(records) != 2 {
		t.Fatalf("audit records = %d, want 2", len(records))
	}
	if records[0].TriggerID != "heal_first" || records[0].Success {
		t.Errorf("first record = %+v", records[0])
	}
	if records[0].Error != "no potions left" {
		t.Errorf("failure error = %q", records[0].Error)
	}
	if records[1].TriggerID != "flee_second" || !records[1].Success {
		t.Errorf("second record = %+v", records[1])
	}
}

func TestNoTriggerFires(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("heal", echoHandler("use_item"))
	f.addTrigger(t, "emergency_heal", types.LayerReflex, 1, 0, hpBelow(30), "heal")

	healthy := types.Snapshot{"character": map[string]any{"hp_percent": 95.0}}
	if d := f.coord.Process(context.Background(), healthy); d != nil {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if len(f.recorder.Records()) != 0 {
		t.Error("no dispatch should mean no audit records")
	}
}

func TestSnapshotStoredInState(t *testing.T) {
	f := newFixture(t)
	snap := lowHP()
	f.coord.Process(context.Background(), snap)

	stored, ok := f.store.Get("last_game_state")
	if !ok {
		t.Fatal("snapshot not stored")
	}
	if _, ok := stored.(types.Snapshot)["character"]; !ok {
		t.Errorf("stored snapshot = %v", stored)
	}
	if _, ok := f.store.Get("last_check_timestamp"); !ok {
		t.Error("check timestamp not stored")
	}
}

func TestBackgroundSystemLayer(t *testing.T) {
	f := newFixture(t)
	fired := make(chan struct{}, 1)
	f.dispatcher.Register("maintain", func(context.Context, map[string]any, types.Snapshot) (*types.ActionRequest, error) {
		fired <- struct{}{}
		return nil, nil
	})
	f.addTrigger(t, "maintenance", types.LayerSystem, 1, 0, hpBelow(100), "maintain")

	// SYSTEM runs in the background; the foreground cycle returns nil
	if d := f.coord.Process(context.Background(), lowHP()); d != nil {
		t.Fatalf("SYSTEM must not produce a foreground decision, got %+v", d)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("background SYSTEM pass never dispatched")
	}
}

func TestHandlerOverridesAction(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("smart_heal", func(context.Context, map[string]any, types.Snapshot) (*types.ActionRequest, error) {
		return &types.ActionRequest{
			Action: "use_item",
			Params: map[string]any{"item_name": "White Potion"},
			Reason: "hp critical",
		}, nil
	})
	f.addTrigger(t, "heal", types.LayerReflex, 1, 0, hpBelow(30), "smart_heal")

	d := f.coord.Process(context.Background(), lowHP())
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Action != "use_item" || d.Params["item_name"] != "White Potion" || d.Reason != "hp critical" {
		t.Errorf("decision = %+v", d)
	}
}

func TestInterruptSkipsNextCycle(t *testing.T) {
	f := newFixture(t)
	// the handler raises an interrupt on behalf of a higher layer while the
	// TACTICAL layer is active
	f.dispatcher.Register("attack", func(context.Context, map[string]any, types.Snapshot) (*types.ActionRequest, error) {
		f.coord.RequestInterrupt(types.LayerReflex)
		return &types.ActionRequest{Action: "attack"}, nil
	})
	f.addTrigger(t, "engage", types.LayerTactical, 1, 0, hpBelow(100), "attack")

	ctx := context.Background()
	if d := f.coord.Process(ctx, lowHP()); d == nil {
		t.Fatal("first cycle should fire")
	}
	// the pending interrupt aborts the next cycle's layer walk
	if d := f.coord.Process(ctx, lowHP()); d != nil {
		t.Fatalf("interrupted cycle produced %+v", d)
	}
	// interrupt is consumed; normal service resumes
	if d := f.coord.Process(ctx, lowHP()); d == nil {
		t.Fatal("third cycle should fire")
	}
}

func TestInterruptFromLowerLayerIgnored(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("heal", func(context.Context, map[string]any, types.Snapshot) (*types.ActionRequest, error) {
		// CONSCIOUS does not outrank the active REFLEX layer
		f.coord.RequestInterrupt(types.LayerConscious)
		return &types.ActionRequest{Action: "use_item"}, nil
	})
	f.addTrigger(t, "heal", types.LayerReflex, 1, 0, hpBelow(30), "heal")

	ctx := context.Background()
	f.coord.Process(ctx, lowHP())
	if d := f.coord.Process(ctx, lowHP()); d == nil {
		t.Fatal("ignored interrupt must not abort the next cycle")
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Register("heal", echoHandler("use_item"))
	f.addTrigger(t, "heal", types.LayerReflex, 1, 0, hpBelow(30), "heal")

	ctx := context.Background()
	f.coord.Process(ctx, lowHP())
	f.coord.Process(ctx, types.Snapshot{"character": map[string]any{"hp_percent": 95.0}})

	stats := f.coord.Statistics()
	if stats.TotalChecks != 2 {
		t.Errorf("checks = %d", stats.TotalChecks)
	}
	if stats.TotalFired != 1 {
		t.Errorf("fired = %d", stats.TotalFired)
	}
	if stats.LayerFires["REFLEX"] != 1 {
		t.Errorf("layer fires = %v", stats.LayerFires)
	}
	if stats.Registry.TotalTriggers != 1 {
		t.Errorf("registry totals = %+v", stats.Registry)
	}
	if stats.Evaluations == 0 {
		t.Error("evaluator count not surfaced")
	}

	f.coord.ResetStatistics()
	stats = f.coord.Statistics()
	if stats.TotalChecks != 0 || stats.TotalFired != 0 || len(stats.LayerFires) != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	h := f.coord.HealthCheck(context.Background())
	if !h.Healthy {
		t.Error("empty coordinator should still be healthy")
	}
	if h.TriggersLoaded {
		t.Error("no triggers are loaded")
	}

	f.dispatcher.Register("noop", echoHandler("noop"))
	f.addTrigger(t, "t", types.LayerReflex, 1, 0,
		&trigger.SimpleCondition{Field: "never", Operator: "==", Value: 1}, "noop")

	h = f.coord.HealthCheck(context.Background())
	if !h.Healthy || !h.TriggersLoaded {
		t.Errorf("health = %+v", h)
	}
}
