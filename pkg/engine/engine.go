// Package engine wires the selection resolver, the deletion staging area and
// the chunked executor into the three bulk flows a caller uses: delete with
// an undo window, move, and export.
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kartenwerk/bulkops/pkg/bulk"
	"github.com/kartenwerk/bulkops/pkg/selection"
	"github.com/kartenwerk/bulkops/pkg/staging"
	"github.com/kartenwerk/bulkops/pkg/store"
)

// Store is the card API surface the engine consumes.
type Store interface {
	selection.Lister
	bulk.Deleter
	bulk.Updater
}

// Config holds engine tunables.
type Config struct {
	// GracePeriod is the undo window before a staged deletion commits.
	GracePeriod time.Duration

	// ChunkSize bounds concurrent mutations per chunk.
	ChunkSize int

	// SelectionCap bounds all-matching selections.
	SelectionCap int

	// PageSize is the resolver's fetch page size.
	PageSize int

	// ConfirmThreshold is the deletion size at which typed confirmation is
	// required.
	ConfirmThreshold int

	// ConfirmWord is the literal word for typed confirmation.
	ConfirmWord string

	// Notifier receives undo offers. Defaults to staging.NopNotifier.
	Notifier staging.UndoNotifier

	// OnProgress receives per-chunk progress for all flows.
	OnProgress bulk.ProgressFunc

	// OnCommitResult receives outcomes of committed deletion batches.
	OnCommitResult staging.CommitResultFunc
}

// DefaultConfig returns safe engine defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod:      30 * time.Second,
		ChunkSize:        bulk.DefaultChunkSize,
		SelectionCap:     selection.DefaultCap,
		PageSize:         selection.DefaultPageSize,
		ConfirmThreshold: 100,
		ConfirmWord:      "DELETE",
	}
}

// Engine coordinates bulk mutations against one store.
type Engine struct {
	store    Store
	resolver *selection.Resolver
	area     *staging.Area
	gate     Gate
	config   Config
	logger   zerolog.Logger
}

// New creates an engine over the given store.
func New(st Store, cfg Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = bulk.DefaultChunkSize
	}
	if cfg.ConfirmThreshold < 1 {
		cfg.ConfirmThreshold = 100
	}
	if cfg.ConfirmWord == "" {
		cfg.ConfirmWord = "DELETE"
	}

	resolver, err := selection.NewResolver(st, selection.Config{
		Cap:      cfg.SelectionCap,
		PageSize: cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	area, err := staging.NewArea(st, staging.Config{
		ChunkSize:      cfg.ChunkSize,
		Notifier:       cfg.Notifier,
		OnCommitResult: cfg.OnCommitResult,
		OnProgress:     cfg.OnProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("staging area: %w", err)
	}

	return &Engine{
		store:    st,
		resolver: resolver,
		area:     area,
		gate:     Gate{Threshold: cfg.ConfirmThreshold, Word: cfg.ConfirmWord},
		config:   cfg,
		logger:   log.With().Str("component", "bulk-engine").Logger(),
	}, nil
}

// Resolver exposes the selection resolver so the presentation layer can feed
// it loaded pages.
func (e *Engine) Resolver() *selection.Resolver {
	return e.resolver
}

// Staging exposes the staging area backing the trash view.
func (e *Engine) Staging() *staging.Area {
	return e.area
}

// DeleteReceipt reports what DeleteSelection did.
type DeleteReceipt struct {
	// BatchID identifies the staged batch; empty when nothing was staged.
	BatchID string

	// Staged is the number of entities placed in the trash.
	Staged int

	// Truncated is true when the safety cap cut the selection short.
	Truncated bool

	// Required carries the unmet confirmation requirement when staging was
	// refused; the caller re-invokes with a matching Confirmation.
	Required *ConfirmSpec
}

// DeleteSelection resolves sel, enforces the confirmation gate, and stages
// the result for deferred deletion with the configured grace period. On
// ErrConfirmationRequired the receipt's Required field describes what to ask
// the user; nothing has been staged.
func (e *Engine) DeleteSelection(ctx context.Context, sel selection.Selection, filter store.FilterParams, confirm Confirmation) (DeleteReceipt, error) {
	resolved, err := e.resolver.Resolve(ctx, sel, filter)
	if err != nil {
		return DeleteReceipt{}, err
	}
	if len(resolved.Items) == 0 {
		return DeleteReceipt{Truncated: resolved.Truncated}, nil
	}

	if !e.gate.Satisfied(len(resolved.Items), confirm) {
		spec := e.gate.SpecFor(len(resolved.Items))
		e.logger.Debug().
			Int("count", len(resolved.Items)).
			Str("level", string(spec.Level)).
			Msg("Deletion refused pending confirmation")
		return DeleteReceipt{Truncated: resolved.Truncated, Required: &spec}, ErrConfirmationRequired
	}

	batchID := staging.NewBatchID()
	if err := e.area.Stage(resolved.Items, batchID, e.config.GracePeriod); err != nil {
		return DeleteReceipt{}, fmt.Errorf("stage: %w", err)
	}

	return DeleteReceipt{
		BatchID:   batchID,
		Staged:    len(resolved.Items),
		Truncated: resolved.Truncated,
	}, nil
}

// MoveSelection resolves sel and reassigns every entity to targetDeckID
// immediately (no grace period). Per-item failures are reported in the
// outcome, never as an error.
func (e *Engine) MoveSelection(ctx context.Context, sel selection.Selection, filter store.FilterParams, targetDeckID string) (bulk.Outcome, bool, error) {
	if targetDeckID == "" {
		return bulk.Outcome{}, false, fmt.Errorf("target deck id is required")
	}

	resolved, err := e.resolver.Resolve(ctx, sel, filter)
	if err != nil {
		return bulk.Outcome{}, false, err
	}

	outcome, err := bulk.Run(ctx, "move", resolved.Items, e.config.ChunkSize, bulk.MoveOp(e.store, targetDeckID), e.config.OnProgress)
	if err != nil {
		return outcome, resolved.Truncated, err
	}

	return outcome, resolved.Truncated, nil
}

// ExportSelection resolves sel and writes the snapshots to w as JSON lines,
// sorted by entity id.
func (e *Engine) ExportSelection(ctx context.Context, sel selection.Selection, filter store.FilterParams, w io.Writer) (bulk.Outcome, bool, error) {
	resolved, err := e.resolver.Resolve(ctx, sel, filter)
	if err != nil {
		return bulk.Outcome{}, false, err
	}

	var sink bulk.ExportSink
	outcome, err := bulk.Run(ctx, "export", resolved.Items, e.config.ChunkSize, sink.Op(), e.config.OnProgress)
	if err != nil {
		return outcome, resolved.Truncated, err
	}

	if err := sink.WriteJSONLines(w); err != nil {
		return outcome, resolved.Truncated, fmt.Errorf("write export: %w", err)
	}

	return outcome, resolved.Truncated, nil
}

// Summary renders an outcome as user-facing result text: full success reads
// as a success message, partial failure as a warning with both counts.
func Summary(action string, outcome bulk.Outcome) string {
	succeeded := len(outcome.SucceededIDs)
	failed := len(outcome.FailedIDs)
	if failed == 0 {
		return fmt.Sprintf("%d cards %s", succeeded, pastTense(action))
	}
	return fmt.Sprintf("%d cards %s, %d failed", succeeded, pastTense(action), failed)
}

func pastTense(action string) string {
	switch action {
	case "delete":
		return "deleted"
	case "move":
		return "moved"
	case "export":
		return "exported"
	default:
		return action
	}
}
