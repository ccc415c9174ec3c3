// Package audit produces structured records for every trigger dispatch.
// Storage belongs to an external collaborator; the SQLite recorder here is
// the reference implementation used by the brain binary.
package audit

import (
	"context"
	"sync"
	"time"
)

// Record describes one trigger dispatch, successful or not.
type Record struct {
	TriggerID   string
	TriggerName string
	Layer       string
	Action      string
	Success     bool
	DurationMS  float64
	Error       string
	At          time.Time
}

// Recorder receives audit records. Implementations must be safe for
// concurrent use; a failing recorder must not disturb the cycle.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) error { return nil }

// MemoryRecorder keeps records in memory, mainly for tests and inspection.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemoryRecorder) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
