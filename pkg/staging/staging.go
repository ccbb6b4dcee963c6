// Package staging implements the trash-with-undo state machine: entities
// marked for deletion are held in batches with a fixed grace period, during
// which undo is a pure in-memory removal. When a batch's timer fires (or a
// caller commits directly) the batch is removed from the area before any
// network call, so a racing undo and commit resolve exactly once.
package staging

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kartenwerk/bulkops/pkg/bulk"
	"github.com/kartenwerk/bulkops/pkg/store"
)

// Prometheus metrics for the staging area.
var (
	stagedEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulkops_staged_entities",
		Help: "Entities currently staged for deletion",
	})

	batchesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkops_batches_resolved_total",
		Help: "Batches resolved by outcome (committed or undone)",
	}, []string{"outcome"})

	undosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkops_undos_total",
		Help: "Undo operations by scope (entity or batch)",
	}, []string{"scope"})
)

// PendingDeletion is one staged entity. Owned exclusively by the Area; an
// entity has at most one PendingDeletion at a time.
type PendingDeletion struct {
	EntityID  string       `json:"entityId"`
	Entity    store.Entity `json:"entity"`
	BatchID   string       `json:"batchId"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// SecondsRemaining returns the whole seconds left until automatic commit,
// never negative.
func (p PendingDeletion) SecondsRemaining(now time.Time) int {
	secs := int(math.Round(p.ExpiresAt.Sub(now).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

// batch groups entities staged together: one countdown, one undo action.
type batch struct {
	id        string
	members   map[string]struct{}
	order     []string // staging order, drives chunk order at commit
	timer     *TimerHandle
	expiresAt time.Time
}

func (b *batch) detach(entityID string) {
	delete(b.members, entityID)
	for i, id := range b.order {
		if id == entityID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// CommitResultFunc receives the outcome of a committed batch for UI
// reporting ("N deleted, M failed"), independent of per-item success.
type CommitResultFunc func(batchID string, outcome bulk.Outcome)

// Config holds staging area configuration.
type Config struct {
	// ChunkSize bounds concurrent deletes during commit.
	ChunkSize int

	// Notifier receives undo offers when batches are staged. Defaults to
	// NopNotifier.
	Notifier UndoNotifier

	// OnCommitResult, if set, is called after every committed batch.
	OnCommitResult CommitResultFunc

	// OnProgress, if set, receives per-chunk progress during commit.
	OnProgress bulk.ProgressFunc
}

// Area is the deletion staging area. The visible "Trash" view is a read of
// this area via ListStaged.
type Area struct {
	mu      sync.Mutex
	pending map[string]*PendingDeletion
	batches map[string]*batch

	deleter bulk.Deleter
	config  Config
	logger  zerolog.Logger
}

// NewArea creates a staging area that commits deletions through deleter.
func NewArea(deleter bulk.Deleter, cfg Config) (*Area, error) {
	if deleter == nil {
		return nil, fmt.Errorf("deleter is required")
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = bulk.DefaultChunkSize
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}

	return &Area{
		pending: make(map[string]*PendingDeletion),
		batches: make(map[string]*batch),
		deleter: deleter,
		config:  cfg,
		logger:  log.With().Str("component", "staging-area").Logger(),
	}, nil
}

// NewBatchID returns a fresh batch identifier.
func NewBatchID() string {
	return uuid.NewString()
}

// Stage marks entities for deferred deletion under a new batch with
// expiresAt fixed at now+grace, and schedules the batch's one-shot commit.
// An entity already staged elsewhere is first detached from its prior batch;
// a prior batch left empty is discarded and its timer canceled. An empty
// batchID or non-positive grace is a caller bug.
func (a *Area) Stage(entities []store.Entity, batchID string, grace time.Duration) error {
	if batchID == "" {
		return fmt.Errorf("batch id is required")
	}
	if grace <= 0 {
		return fmt.Errorf("grace period must be positive (got %v)", grace)
	}
	if len(entities) == 0 {
		return nil
	}

	a.mu.Lock()

	if _, exists := a.batches[batchID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("batch %q already exists", batchID)
	}

	expiresAt := time.Now().Add(grace)
	b := &batch{
		id:        batchID,
		members:   make(map[string]struct{}, len(entities)),
		expiresAt: expiresAt,
	}

	for _, entity := range entities {
		if prev, ok := a.pending[entity.ID]; ok {
			if prev.BatchID == batchID {
				// Duplicate id within this staging call.
				b.detach(entity.ID)
			} else {
				a.detachLocked(prev)
			}
		}

		a.pending[entity.ID] = &PendingDeletion{
			EntityID:  entity.ID,
			Entity:    entity,
			BatchID:   batchID,
			ExpiresAt: expiresAt,
		}
		b.members[entity.ID] = struct{}{}
		b.order = append(b.order, entity.ID)
	}

	b.timer = Schedule(grace, func() {
		if _, err := a.CommitBatch(context.Background(), batchID); err != nil {
			a.logger.Error().Err(err).Str("batch_id", batchID).Msg("Timed commit failed")
		}
	})
	a.batches[batchID] = b

	stagedEntities.Set(float64(len(a.pending)))
	count := len(b.members)
	a.mu.Unlock()

	a.logger.Info().
		Str("batch_id", batchID).
		Int("entities", count).
		Dur("grace", grace).
		Msg("Staged entities for deletion")

	a.config.Notifier.OfferUndo(UndoOffer{
		Title:       fmt.Sprintf("%d cards moved to trash", count),
		Description: "They will be deleted when the countdown ends.",
		Duration:    grace,
		Undo:        func() { a.UndoBatch(batchID) },
	})

	return nil
}

// detachLocked removes a pending deletion and collapses its batch if that
// was the last member. Caller holds a.mu.
func (a *Area) detachLocked(p *PendingDeletion) {
	delete(a.pending, p.EntityID)

	b, ok := a.batches[p.BatchID]
	if !ok {
		return
	}
	b.detach(p.EntityID)
	if len(b.members) == 0 {
		b.timer.Cancel()
		delete(a.batches, b.id)
		a.logger.Debug().Str("batch_id", b.id).Msg("Batch collapsed, timer canceled")
	}
}

// IsStaged reports whether the entity is currently staged for deletion.
func (a *Area) IsStaged(entityID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[entityID]
	return ok
}

// ListStaged returns all pending deletions ordered by expiry, soonest first.
// This backs the trash view.
func (a *Area) ListStaged() []PendingDeletion {
	a.mu.Lock()
	list := make([]PendingDeletion, 0, len(a.pending))
	for _, p := range a.pending {
		list = append(list, *p)
	}
	a.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].ExpiresAt.Equal(list[j].ExpiresAt) {
			return list[i].ExpiresAt.Before(list[j].ExpiresAt)
		}
		return list[i].EntityID < list[j].EntityID
	})
	return list
}

// UndoEntity removes one entity from the staging area. No store call is
// made; undo is purely local and always safe. Unknown ids are a no-op (the
// commit may have won the race).
func (a *Area) UndoEntity(entityID string) {
	a.mu.Lock()
	p, ok := a.pending[entityID]
	if !ok {
		a.mu.Unlock()
		return
	}
	a.detachLocked(p)
	stagedEntities.Set(float64(len(a.pending)))
	a.mu.Unlock()

	undosTotal.WithLabelValues("entity").Inc()
	a.logger.Info().Str("entity_id", entityID).Msg("Undid staged deletion")
}

// UndoBatch removes every pending deletion in the batch and cancels its
// timer. Unknown batch ids are a no-op.
func (a *Area) UndoBatch(batchID string) {
	a.mu.Lock()
	b, ok := a.batches[batchID]
	if !ok {
		a.mu.Unlock()
		return
	}

	for id := range b.members {
		delete(a.pending, id)
	}
	b.timer.Cancel()
	delete(a.batches, batchID)
	count := len(b.members)
	stagedEntities.Set(float64(len(a.pending)))
	a.mu.Unlock()

	undosTotal.WithLabelValues("batch").Inc()
	batchesResolved.WithLabelValues("undone").Inc()
	a.logger.Info().
		Str("batch_id", batchID).
		Int("entities", count).
		Msg("Undid staged batch")
}

// CommitBatch performs the staged deletions of a batch. Invoked by the batch
// timer, or directly for an immediate confirm flow. The batch and its
// pending deletions leave the area before the first store call, so a
// concurrent undo arriving after commit has begun observes nothing to undo.
// The batch never returns to the area, whatever the per-item outcomes; the
// trash view cannot show a stuck entry. An unknown batchID is a no-op with a
// zero outcome (the other racer already resolved it).
func (a *Area) CommitBatch(ctx context.Context, batchID string) (bulk.Outcome, error) {
	a.mu.Lock()
	b, ok := a.batches[batchID]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug().Str("batch_id", batchID).Msg("Commit found no batch, already resolved")
		return bulk.Outcome{}, nil
	}

	// Remove before acting. From here on the batch is committed exactly once.
	b.timer.Cancel()
	delete(a.batches, batchID)
	snapshots := make([]store.Entity, 0, len(b.order))
	for _, id := range b.order {
		if p, ok := a.pending[id]; ok {
			snapshots = append(snapshots, p.Entity)
			delete(a.pending, id)
		}
	}
	stagedEntities.Set(float64(len(a.pending)))
	a.mu.Unlock()

	a.logger.Info().
		Str("batch_id", batchID).
		Int("entities", len(snapshots)).
		Msg("Committing batch")

	outcome, err := bulk.Run(ctx, "delete", snapshots, a.config.ChunkSize, bulk.DeleteOp(a.deleter), a.config.OnProgress)
	if err != nil {
		// Argument errors only; the batch is already gone from staging.
		return outcome, fmt.Errorf("commit batch %s: %w", batchID, err)
	}

	batchesResolved.WithLabelValues("committed").Inc()

	if len(outcome.FailedIDs) > 0 {
		a.logger.Warn().
			Str("batch_id", batchID).
			Int("succeeded", len(outcome.SucceededIDs)).
			Int("failed", len(outcome.FailedIDs)).
			Msg("Batch committed with partial failures")
	}

	if a.config.OnCommitResult != nil {
		a.config.OnCommitResult(batchID, outcome)
	}

	return outcome, nil
}

// StagedCount returns the number of staged entities.
func (a *Area) StagedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
