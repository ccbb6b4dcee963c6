// Package bulk runs per-entity mutations in bounded concurrent chunks with
// partial-failure accounting. One executor run serves bulk delete, bulk
// move, and bulk export alike; only the per-item operation differs.
package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/kartenwerk/bulkops/pkg/store"
)

// Prometheus metrics for executor runs.
var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkops_items_total",
		Help: "Total items processed by the chunked executor, by action and result",
	}, []string{"action", "result"})

	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulkops_chunk_duration_seconds",
		Help:    "Duration of one executor chunk by action",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"action"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkops_runs_total",
		Help: "Total executor runs by action",
	}, []string{"action"})
)

// DefaultChunkSize bounds in-flight mutations per chunk. Independent of the
// selection size, which may be in the thousands.
const DefaultChunkSize = 50

// Op is one entity's mutation. A nil return counts the entity as succeeded;
// any error counts it as failed without affecting its siblings.
type Op func(ctx context.Context, entity store.Entity) error

// Progress reports cumulative counts after each completed chunk.
type Progress struct {
	Processed int
	Succeeded int
	Failed    int
	Total     int
	Action    string
}

// ProgressFunc receives a Progress after every chunk settles. May be nil.
type ProgressFunc func(Progress)

// Outcome accumulates per-item results across all chunks.
//
// Conservation holds at every observation point:
// len(SucceededIDs) + len(FailedIDs) == Processed, and Processed equals the
// input length once the run returns.
type Outcome struct {
	SucceededIDs []string
	FailedIDs    []string
	Processed    int
}

// Run partitions items into consecutive chunks of at most chunkSize and
// executes op on every item, concurrently within a chunk and strictly in
// order across chunks. Chunk i+1 does not start until every op of chunk i
// has settled. Item failures never abort the run; the only returned error is
// an argument error, which indicates a caller bug.
func Run(ctx context.Context, action string, items []store.Entity, chunkSize int, op Op, onChunk ProgressFunc) (Outcome, error) {
	if chunkSize < 1 {
		return Outcome{}, fmt.Errorf("chunk size must be >= 1 (got %d)", chunkSize)
	}
	if op == nil {
		return Outcome{}, fmt.Errorf("op is required")
	}

	runsTotal.WithLabelValues(action).Inc()

	outcome := Outcome{
		SucceededIDs: make([]string, 0, len(items)),
		FailedIDs:    make([]string, 0),
	}

	log.Debug().
		Str("action", action).
		Int("items", len(items)).
		Int("chunk_size", chunkSize).
		Msg("Starting chunked run")

	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		chunkStart := time.Now()
		results := make([]error, len(chunk))

		var wg sync.WaitGroup
		for i, entity := range chunk {
			wg.Add(1)
			go func(i int, entity store.Entity) {
				defer wg.Done()
				results[i] = op(ctx, entity)
			}(i, entity)
		}
		wg.Wait()

		chunkDuration.WithLabelValues(action).Observe(time.Since(chunkStart).Seconds())

		for i, err := range results {
			outcome.Processed++
			if err != nil {
				outcome.FailedIDs = append(outcome.FailedIDs, chunk[i].ID)
				itemsTotal.WithLabelValues(action, "failed").Inc()
				log.Warn().
					Err(err).
					Str("action", action).
					Str("id", chunk[i].ID).
					Msg("Item mutation failed")
				continue
			}
			outcome.SucceededIDs = append(outcome.SucceededIDs, chunk[i].ID)
			itemsTotal.WithLabelValues(action, "succeeded").Inc()
		}

		if onChunk != nil {
			onChunk(Progress{
				Processed: outcome.Processed,
				Succeeded: len(outcome.SucceededIDs),
				Failed:    len(outcome.FailedIDs),
				Total:     len(items),
				Action:    action,
			})
		}
	}

	log.Info().
		Str("action", action).
		Int("succeeded", len(outcome.SucceededIDs)).
		Int("failed", len(outcome.FailedIDs)).
		Msg("Chunked run complete")

	return outcome, nil
}
