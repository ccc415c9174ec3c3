package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kore-ai/brain/internal/types"
)

const sampleConfig = `
triggers:
  - trigger_id: emergency_heal
    name: Emergency Heal
    layer: REFLEX
    priority: 1
    cooldown: 5
    condition:
      type: simple
      field: character.hp_percent
      operator: "<"
      value: 30
    action:
      handler: use_item
      params:
        item_name: Red Potion
      timeout: 2

  - trigger_id: nested_compound
    name: Nested Compound
    layer: TACTICAL
    priority: 2
    cooldown: 1
    condition:
      type: compound
      compound_operator: AND
      checks:
        - type: simple
          field: combat.in_combat
          operator: "=="
          value: true
        - type: compound
          compound_operator: OR
          checks:
            - type: simple
              field: character.sp_percent
              operator: ">"
              value: 10
            - type: custom
              function: has_potion
    action:
      handler: attack
      mode: concurrent

  - trigger_id: disabled_one
    name: Disabled
    layer: CONSCIOUS
    priority: 1
    cooldown: 0
    enabled: false
    condition:
      type: simple
      field: x
      operator: "=="
      value: 1
    action:
      handler: noop

  - trigger_id: bad_layer
    name: Bad Layer
    layer: NOPE
    priority: 1
    cooldown: 0
    condition:
      type: simple
      field: x
      operator: "=="
      value: 1
    action:
      handler: noop

  - trigger_id: bad_condition
    name: Bad Condition
    layer: REFLEX
    priority: 1
    cooldown: 0
    condition:
      type: mystery
    action:
      handler: noop

queue:
  conflicts:
    move: [skill, attack]
  durations:
    move: 2.5

tuning:
  safe_distance_cells: 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Triggers) != 5 {
		t.Fatalf("expected 5 trigger entries, got %d", len(cfg.Triggers))
	}
	if cfg.Tuning["safe_distance_cells"] != 5 {
		t.Errorf("tuning not loaded: %v", cfg.Tuning)
	}
	if d := cfg.Queue.BuildDurations()["move"]; d != 2500*time.Millisecond {
		t.Errorf("move duration = %s, want 2.5s", d)
	}
}

func TestLoadTriggersSkipsMalformed(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	loaded := LoadTriggers(cfg, r)

	// bad_layer and bad_condition are skipped, the rest load
	if loaded != 3 {
		t.Errorf("loaded = %d, want 3", loaded)
	}
	if _, ok := r.Get("bad_layer"); ok {
		t.Error("malformed trigger must not be registered")
	}
	if _, ok := r.Get("emergency_heal"); !ok {
		t.Error("well-formed trigger missing")
	}
}

func TestBuildTrigger(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	heal, err := cfg.Triggers[0].Build()
	if err != nil {
		t.Fatal(err)
	}
	if heal.Layer != types.LayerReflex || heal.Priority != 1 {
		t.Errorf("layer/priority = %s/%d", heal.Layer, heal.Priority)
	}
	if heal.Cooldown != 5*time.Second {
		t.Errorf("cooldown = %s", heal.Cooldown)
	}
	if heal.Action.Timeout != 2*time.Second {
		t.Errorf("timeout = %s", heal.Action.Timeout)
	}
	if heal.Action.Mode != ModeSynchronous {
		t.Errorf("default mode = %s", heal.Action.Mode)
	}
	simple, ok := heal.Condition.(*SimpleCondition)
	if !ok {
		t.Fatalf("condition type %T", heal.Condition)
	}
	if simple.Field != "character.hp_percent" || simple.Operator != "<" {
		t.Errorf("condition = %+v", simple)
	}
}

func TestBuildNestedCompound(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	trig, err := cfg.Triggers[1].Build()
	if err != nil {
		t.Fatal(err)
	}
	if trig.Action.Mode != ModeConcurrent {
		t.Errorf("mode = %s", trig.Action.Mode)
	}

	and, ok := trig.Condition.(*CompoundCondition)
	if !ok {
		t.Fatalf("condition type %T", trig.Condition)
	}
	if len(and.Checks) != 2 {
		t.Fatalf("AND checks = %d", len(and.Checks))
	}
	or, ok := and.Checks[1].(*CompoundCondition)
	if !ok {
		t.Fatalf("nested type %T", and.Checks[1])
	}
	if or.Operator != "OR" || len(or.Checks) != 2 {
		t.Errorf("nested OR = %+v", or)
	}
	if _, ok := or.Checks[1].(*CustomCondition); !ok {
		t.Errorf("custom leaf type %T", or.Checks[1])
	}
}

func TestBuildDisabledTrigger(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	trig, err := cfg.Triggers[2].Build()
	if err != nil {
		t.Fatal(err)
	}
	if trig.Enabled() {
		t.Error("enabled: false should build a disabled trigger")
	}
}

func TestParseConditionErrors(t *testing.T) {
	cases := []map[string]any{
		nil,
		{"type": "simple"},                                           // missing field/operator
		{"type": "simple", "field": "x", "operator": "~="},           // bad operator
		{"type": "compound", "compound_operator": "AND"},             // no checks
		{"type": "custom"},                                           // no function
		{"type": "expr", "source": "1 +"},                            // bad expression
		{"type": "compound", "compound_operator": "AND", "checks": []any{"x"}}, // non-map check
	}
	for i, doc := range cases {
		if _, err := ParseCondition(doc); err == nil {
			t.Errorf("case %d: expected error for %v", i, doc)
		}
	}
}
