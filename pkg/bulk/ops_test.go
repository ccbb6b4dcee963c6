package bulk

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartenwerk/bulkops/pkg/store"
)

type fakeDeleter struct {
	mu      sync.Mutex
	calls   []string
	results map[string]store.MutationResult
}

func (f *fakeDeleter) Delete(_ context.Context, id string, _ int) store.MutationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if r, ok := f.results[id]; ok {
		return r
	}
	return store.MutationResult{Status: store.StatusOK}
}

type fakeUpdater struct {
	mu      sync.Mutex
	patches []map[string]any
	result  store.MutationResult
}

func (f *fakeUpdater) Update(_ context.Context, id string, patch map[string]any, version int) (store.Entity, store.MutationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return store.Entity{ID: id, Version: version + 1}, f.result
}

func TestDeleteOp(t *testing.T) {
	d := &fakeDeleter{results: map[string]store.MutationResult{
		"gone":     {Status: store.StatusNotFound},
		"stale":    {Status: store.StatusVersionConflict},
		"unlucky":  {Status: store.StatusTransport, Err: assert.AnError},
		"deleted1": {Status: store.StatusOK},
	}}
	op := DeleteOp(d)

	assert.NoError(t, op(context.Background(), store.Entity{ID: "deleted1", Version: 3}))
	assert.Error(t, op(context.Background(), store.Entity{ID: "gone"}))
	assert.Error(t, op(context.Background(), store.Entity{ID: "stale"}))
	assert.Error(t, op(context.Background(), store.Entity{ID: "unlucky"}))
	assert.Equal(t, []string{"deleted1", "gone", "stale", "unlucky"}, d.calls)
}

func TestMoveOp(t *testing.T) {
	u := &fakeUpdater{result: store.MutationResult{Status: store.StatusOK}}
	op := MoveOp(u, "deck-spanish")

	err := op(context.Background(), store.Entity{ID: "card-1", Version: 2})
	require.NoError(t, err)
	require.Len(t, u.patches, 1)
	assert.Equal(t, map[string]any{"deckId": "deck-spanish"}, u.patches[0])
}

func TestMoveOp_Conflict(t *testing.T) {
	u := &fakeUpdater{result: store.MutationResult{Status: store.StatusVersionConflict}}
	op := MoveOp(u, "deck-spanish")

	assert.Error(t, op(context.Background(), store.Entity{ID: "card-1", Version: 2}))
}

func TestExportSink_SortedJSONLines(t *testing.T) {
	sink := &ExportSink{}
	op := sink.Op()

	// Deliberately out of order, as a concurrent chunk would deliver them.
	for _, id := range []string{"card-3", "card-1", "card-2"} {
		require.NoError(t, op(context.Background(), store.Entity{ID: id, Version: 1, DeckID: "d1"}))
	}
	assert.Equal(t, 3, sink.Len())

	var buf bytes.Buffer
	require.NoError(t, sink.WriteJSONLines(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"card-1"`)
	assert.Contains(t, lines[1], `"card-2"`)
	assert.Contains(t, lines[2], `"card-3"`)
}

func TestExportSink_WithExecutor(t *testing.T) {
	sink := &ExportSink{}
	items := makeEntities(12)

	outcome, err := Run(context.Background(), "export", items, 5, sink.Op(), nil)
	require.NoError(t, err)
	assert.Len(t, outcome.SucceededIDs, 12)
	assert.Equal(t, 12, sink.Len())
}
