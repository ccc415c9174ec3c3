package trigger

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/types"
)

// Config is the declarative document enumerating triggers plus queue and
// tuning settings. Product-tuning constants (danger-zone thresholds and the
// like) belong in the Tuning map, not in code.
type Config struct {
	Triggers []TriggerConfig `yaml:"triggers"`
	Queue    QueueConfig     `yaml:"queue"`
	Tuning   map[string]any  `yaml:"tuning"`
}

// TriggerConfig is one trigger entry as it appears in the document.
type TriggerConfig struct {
	TriggerID   string         `yaml:"trigger_id"`
	Name        string         `yaml:"name"`
	Layer       string         `yaml:"layer"`
	Priority    int            `yaml:"priority"`
	Condition   map[string]any `yaml:"condition"`
	Action      ActionConfig   `yaml:"action"`
	Cooldown    float64        `yaml:"cooldown"` // seconds
	Enabled     *bool          `yaml:"enabled"`  // nil = enabled
	Description string         `yaml:"description"`
	Tags        []string       `yaml:"tags"`
}

// ActionConfig is a trigger's action entry.
type ActionConfig struct {
	Handler string         `yaml:"handler"`
	Params  map[string]any `yaml:"params"`
	Mode    string         `yaml:"mode"`    // synchronous (default) or concurrent
	Timeout float64        `yaml:"timeout"` // seconds, 0 = unbounded
}

// QueueConfig overrides the action queue's conflict matrix and duration
// table. Empty maps keep the defaults.
type QueueConfig struct {
	Conflicts map[string][]string `yaml:"conflicts"`
	Durations map[string]float64  `yaml:"durations"` // seconds
}

// LoadConfig reads and decodes a config document.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Build converts a config entry into a Trigger.
func (tc TriggerConfig) Build() (*Trigger, error) {
	if tc.TriggerID == "" {
		return nil, fmt.Errorf("trigger_id required")
	}
	layer, err := types.ParseLayer(tc.Layer)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", tc.TriggerID, err)
	}
	cond, err := ParseCondition(tc.Condition)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", tc.TriggerID, err)
	}
	if tc.Action.Handler == "" {
		return nil, fmt.Errorf("trigger %s: action handler required", tc.TriggerID)
	}
	mode := tc.Action.Mode
	if mode == "" {
		mode = ModeSynchronous
	}
	if mode != ModeSynchronous && mode != ModeConcurrent {
		return nil, fmt.Errorf("trigger %s: unknown execution mode %q", tc.TriggerID, mode)
	}

	t := &Trigger{
		ID:        tc.TriggerID,
		Name:      tc.Name,
		Layer:     layer,
		Priority:  tc.Priority,
		Condition: cond,
		Action: Action{
			Handler: tc.Action.Handler,
			Params:  tc.Action.Params,
			Mode:    mode,
			Timeout: secondsToDuration(tc.Action.Timeout),
		},
		Cooldown:    secondsToDuration(tc.Cooldown),
		Description: tc.Description,
		Tags:        tc.Tags,
	}
	if tc.Enabled != nil && !*tc.Enabled {
		t.Disable()
	}
	return t, nil
}

// LoadTriggers registers every well-formed trigger from a config into the
// registry. Malformed entries are logged and skipped; the rest of the load
// proceeds. Returns the number registered.
func LoadTriggers(cfg *Config, registry *Registry) int {
	loaded := 0
	for _, tc := range cfg.Triggers {
		t, err := tc.Build()
		if err != nil {
			logging.Warn("config", "Skipping trigger %s: %v", tc.TriggerID, err)
			continue
		}
		if err := registry.Register(t); err != nil {
			logging.Warn("config", "Skipping trigger %s: %v", tc.TriggerID, err)
			continue
		}
		loaded++
	}
	logging.Info("config", "Loaded %d/%d triggers", loaded, len(cfg.Triggers))
	return loaded
}

// ParseCondition decodes a tagged condition document. Compound conditions
// nest arbitrarily.
func ParseCondition(doc map[string]any) (Condition, error) {
	if doc == nil {
		return nil, fmt.Errorf("condition required")
	}
	condType, _ := doc["type"].(string)

	switch condType {
	case "simple":
		field, _ := doc["field"].(string)
		op, _ := doc["operator"].(string)
		if field == "" || op == "" {
			return nil, fmt.Errorf("simple condition requires field and operator")
		}
		if !validOperator(op) {
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		return &SimpleCondition{Field: field, Operator: op, Value: doc["value"]}, nil

	case "compound":
		op, _ := doc["compound_operator"].(string)
		rawChecks, _ := doc["checks"].([]any)
		if len(rawChecks) == 0 {
			return nil, fmt.Errorf("compound condition requires checks")
		}
		checks := make([]Condition, 0, len(rawChecks))
		for i, raw := range rawChecks {
			sub, ok := toStringMap(raw)
			if !ok {
				return nil, fmt.Errorf("compound check %d is not a mapping", i)
			}
			check, err := ParseCondition(sub)
			if err != nil {
				return nil, fmt.Errorf("compound check %d: %w", i, err)
			}
			checks = append(checks, check)
		}
		return &CompoundCondition{Operator: op, Checks: checks}, nil

	case "custom":
		fn, _ := doc["function"].(string)
		params, _ := toStringMap(doc["custom_params"])
		if fn == "" {
			// legacy shape: name inside custom_params
			fn, _ = params["function_name"].(string)
		}
		if fn == "" {
			return nil, fmt.Errorf("custom condition requires function name")
		}
		return &CustomCondition{Function: fn, Params: params}, nil

	case "expr":
		src, _ := doc["source"].(string)
		return NewExprCondition(src)

	default:
		return nil, fmt.Errorf("unknown condition type %q", condType)
	}
}

// BuildDurations converts the config duration table to time.Durations.
func (qc QueueConfig) BuildDurations() map[string]time.Duration {
	if len(qc.Durations) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(qc.Durations))
	for k, v := range qc.Durations {
		out[k] = secondsToDuration(v)
	}
	return out
}

func validOperator(op string) bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpIn, OpNotIn, OpContains:
		return true
	}
	return false
}

// toStringMap accepts both map[string]any and yaml's map[any]any decode.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
