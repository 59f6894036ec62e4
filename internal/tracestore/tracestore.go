// Package tracestore persists the per-request Trace the orchestrator
// builds for observability (spec §5): every span's timing, the RQ score
// and reason codes, the fallback outcome, verification result, and final
// confidence/decision. Persistence is fire-and-forget — the orchestrator
// never blocks the response on a trace write — so both implementations
// are sized and shaped for that: a bounded in-memory ring buffer for
// single-instance deployments, and a pgx-backed table for durable
// deployments, following the same Store-interface-plus-MemoryStore-plus-
// PostgresStore shape as internal/chunkstore.
package tracestore

import (
	"context"
	"sync"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

// Store persists request traces and looks them up by id.
type Store interface {
	Save(ctx context.Context, trace domain.Trace) error
	Get(ctx context.Context, id string) (domain.Trace, bool, error)
}

// DefaultCapacity bounds the in-memory ring buffer so a long-running
// process without a database backing doesn't grow unbounded.
const DefaultCapacity = 1000

// MemoryStore is a bounded in-process ring buffer of recent traces.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Trace
	order    []string
	capacity int
}

// NewMemoryStore creates a ring buffer holding at most capacity traces.
// capacity <= 0 selects DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{byID: make(map[string]domain.Trace), capacity: capacity}
}

func (s *MemoryStore) Save(_ context.Context, trace domain.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[trace.ID]; !exists {
		s.order = append(s.order, trace.ID)
	}
	s.byID[trace.ID] = trace

	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Trace, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trace, ok := s.byID[id]
	return trace, ok, nil
}

var _ Store = (*MemoryStore)(nil)
