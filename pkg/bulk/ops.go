package bulk

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/kartenwerk/bulkops/pkg/store"
)

// Deleter is the slice of the store client the delete op needs.
type Deleter interface {
	Delete(ctx context.Context, id string, expectedVersion int) store.MutationResult
}

// Updater is the slice of the store client the move op needs.
type Updater interface {
	Update(ctx context.Context, id string, patch map[string]any, expectedVersion int) (store.Entity, store.MutationResult)
}

// DeleteOp returns an Op deleting each entity at its snapshot version.
// Version conflicts, not-found and transport failures all surface as item
// errors and are counted, never propagated as run errors.
func DeleteOp(d Deleter) Op {
	return func(ctx context.Context, entity store.Entity) error {
		return d.Delete(ctx, entity.ID, entity.Version).AsError()
	}
}

// MoveOp returns an Op reassigning each entity to targetDeckID at its
// snapshot version.
func MoveOp(u Updater, targetDeckID string) Op {
	return func(ctx context.Context, entity store.Entity) error {
		_, result := u.Update(ctx, entity.ID, map[string]any{"deckId": targetDeckID}, entity.Version)
		return result.AsError()
	}
}

// ExportSink collects entity snapshots from concurrent export ops. Arrival
// order within a chunk is nondeterministic; WriteJSONLines sorts by id so
// the artifact is stable.
type ExportSink struct {
	mu       sync.Mutex
	entities []store.Entity
}

// Op returns the collecting operation for this sink.
func (s *ExportSink) Op() Op {
	return func(_ context.Context, entity store.Entity) error {
		s.mu.Lock()
		s.entities = append(s.entities, entity)
		s.mu.Unlock()
		return nil
	}
}

// Len returns the number of collected entities.
func (s *ExportSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// WriteJSONLines writes the collected snapshots to w, one JSON object per
// line, sorted by entity id.
func (s *ExportSink) WriteJSONLines(w io.Writer) error {
	s.mu.Lock()
	sorted := make([]store.Entity, len(s.entities))
	copy(sorted, s.entities)
	s.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	enc := json.NewEncoder(w)
	for _, entity := range sorted {
		if err := enc.Encode(entity); err != nil {
			return err
		}
	}
	return nil
}
