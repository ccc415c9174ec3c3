package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kore-ai/brain/internal/audit"
	"github.com/kore-ai/brain/internal/coordinator"
	"github.com/kore-ai/brain/internal/dispatch"
	"github.com/kore-ai/brain/internal/queue"
	"github.com/kore-ai/brain/internal/state"
	"github.com/kore-ai/brain/internal/sysmon"
	"github.com/kore-ai/brain/internal/trigger"
	"github.com/kore-ai/brain/internal/types"
)

// command is what gets shipped to the game client for each released action.
type command struct {
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	ActionID string         `json:"action_id"`
	Source   string         `json:"source_trigger,omitempty"`
	Layer    string         `json:"layer,omitempty"`
}

func main() {
	log.Println("brain - decision-scheduling core")
	log.Println("================================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}
	configPath := os.Getenv("TRIGGER_CONFIG")
	if configPath == "" {
		configPath = "config/triggers.yaml"
	}
	os.MkdirAll(statePath, 0755)

	cfg, err := trigger.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load trigger config: %v", err)
	}

	registry := trigger.NewRegistry()
	loaded := trigger.LoadTriggers(cfg, registry)
	if loaded == 0 {
		log.Println("[main] Warning: no triggers loaded")
	}

	evaluator := trigger.NewEvaluator()
	sysmon.RegisterConditions(evaluator)

	dispatcher := dispatch.NewDispatcher()
	registerPassthroughHandlers(dispatcher, cfg)

	store := state.NewStore()
	stateDB := filepath.Join(statePath, "system", "state.db")
	if err := store.Restore(stateDB); err != nil {
		log.Printf("[main] No prior state restored: %v", err)
	}

	recorder, err := audit.OpenSQLite(filepath.Join(statePath, "system"))
	if err != nil {
		log.Fatalf("Failed to open audit database: %v", err)
	}
	defer recorder.Close()

	coord := coordinator.New(registry, evaluator, dispatcher, store, coordinator.Options{Recorder: recorder})
	actions := queue.New(queue.Options{
		Conflicts: cfg.Queue.Conflicts,
		Durations: cfg.Queue.BuildDurations(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("[main] Shutting down...")
		cancel()
	}()

	if h := coord.HealthCheck(ctx); !h.Healthy {
		log.Fatalf("Health check failed: %s", h.Err)
	}

	run(ctx, coord, actions)

	if err := store.Persist(stateDB); err != nil {
		log.Printf("[main] Failed to persist state: %v", err)
	}
	log.Println("[main] Goodbye")
}

// run reads world-state snapshots as JSON lines on stdin and writes
// released action commands as JSON lines on stdout.
func run(ctx context.Context, coord *coordinator.Coordinator, actions *queue.Queue) {
	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var snapshot types.Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snapshot); err != nil {
			log.Printf("[main] Skipping malformed snapshot: %v", err)
			continue
		}

		decision := coord.Process(ctx, snapshot)
		if decision != nil {
			actions.Enqueue(decision.Action, decision.Params, layerPriority(decision.Layer))
		}

		for {
			released := actions.GetNextAction()
			if released == nil {
				break
			}
			cmd := command{
				Action:   released.Type,
				Params:   released.Params,
				ActionID: released.ID,
			}
			if decision != nil {
				cmd.Source = decision.SourceTrigger
				cmd.Layer = decision.Layer.String()
			}
			if err := out.Encode(cmd); err != nil {
				log.Printf("[main] Failed to emit command: %v", err)
			}
			// completion feedback from the game client arrives out of
			// band; the stdin harness treats emission as completion
			actions.MarkComplete(released.ID, true)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[main] Snapshot stream error: %v", err)
	}
}

// registerPassthroughHandlers gives every handler name in the config a
// handler that echoes the trigger's params as the outgoing command. Real
// deployments replace these with game-specific handlers before starting
// the coordinator.
func registerPassthroughHandlers(d *dispatch.Dispatcher, cfg *trigger.Config) {
	seen := make(map[string]bool)
	for _, tc := range cfg.Triggers {
		name := tc.Action.Handler
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		handler := name
		d.Register(name, func(_ context.Context, params map[string]any, _ types.Snapshot) (*types.ActionRequest, error) {
			return &types.ActionRequest{Action: handler, Params: params}, nil
		})
	}
}

func layerPriority(layer types.Layer) int {
	switch layer {
	case types.LayerReflex:
		return 10
	case types.LayerTactical:
		return 8
	case types.LayerSubconscious:
		return 5
	case types.LayerConscious:
		return 3
	default:
		return 1
	}
}
