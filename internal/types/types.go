package types

import (
	"fmt"
	"strings"
)

// Layer is a priority band for triggers. Lower value = evaluated first.
type Layer int

const (
	LayerReflex       Layer = 1 // emergency responses, sub-second
	LayerTactical     Layer = 2 // combat decisions
	LayerSubconscious Layer = 3 // routine tasks
	LayerConscious    Layer = 4 // strategic planning
	LayerSystem       Layer = 5 // background maintenance, never blocks foreground
)

// ForegroundLayers returns the layers evaluated sequentially per cycle,
// in priority order. SYSTEM is excluded: it runs as a background pass.
func ForegroundLayers() []Layer {
	return []Layer{LayerReflex, LayerTactical, LayerSubconscious, LayerConscious}
}

// AllLayers returns every layer, foreground first.
func AllLayers() []Layer {
	return []Layer{LayerReflex, LayerTactical, LayerSubconscious, LayerConscious, LayerSystem}
}

func (l Layer) String() string {
	switch l {
	case LayerReflex:
		return "REFLEX"
	case LayerTactical:
		return "TACTICAL"
	case LayerSubconscious:
		return "SUBCONSCIOUS"
	case LayerConscious:
		return "CONSCIOUS"
	case LayerSystem:
		return "SYSTEM"
	default:
		return fmt.Sprintf("LAYER(%d)", int(l))
	}
}

// ParseLayer converts a config string like "REFLEX" to a Layer.
func ParseLayer(s string) (Layer, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REFLEX":
		return LayerReflex, nil
	case "TACTICAL":
		return LayerTactical, nil
	case "SUBCONSCIOUS":
		return LayerSubconscious, nil
	case "CONSCIOUS":
		return LayerConscious, nil
	case "SYSTEM":
		return LayerSystem, nil
	default:
		return 0, fmt.Errorf("unknown layer: %q", s)
	}
}

// Snapshot is a world-state document: an arbitrarily nested key/value tree
// as decoded from JSON or YAML.
type Snapshot = map[string]any

// ActionRequest is the command an action handler emits for the game client.
type ActionRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Reason string         `json:"reason,omitempty"`
}
