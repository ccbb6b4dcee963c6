package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartenwerk/bulkops/pkg/bulk"
	"github.com/kartenwerk/bulkops/pkg/selection"
	"github.com/kartenwerk/bulkops/pkg/store"
)

// fakeStore implements the full Store surface over an in-memory dataset.
type fakeStore struct {
	mu      sync.Mutex
	items   []store.Entity
	deleted []string
	moved   map[string]string
}

func newFakeStore(n int) *fakeStore {
	f := &fakeStore{moved: make(map[string]string)}
	for i := 1; i <= n; i++ {
		f.items = append(f.items, store.Entity{ID: fmt.Sprintf("card-%04d", i), Version: 1, DeckID: "deck-a"})
	}
	return f
}

func (f *fakeStore) List(_ context.Context, _ store.FilterParams, page, pageSize int) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := (page - 1) * pageSize
	if start >= len(f.items) {
		return store.Page{Total: len(f.items)}, nil
	}
	end := start + pageSize
	if end > len(f.items) {
		end = len(f.items)
	}
	return store.Page{Items: f.items[start:end], Total: len(f.items)}, nil
}

func (f *fakeStore) Delete(_ context.Context, id string, _ int) store.MutationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return store.MutationResult{Status: store.StatusOK}
}

func (f *fakeStore) Update(_ context.Context, id string, patch map[string]any, version int) (store.Entity, store.MutationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if deck, ok := patch["deckId"].(string); ok {
		f.moved[id] = deck
	}
	return store.Entity{ID: id, Version: version + 1}, store.MutationResult{Status: store.StatusOK}
}

func (f *fakeStore) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func newTestEngine(t *testing.T, st Store, cfg Config) *Engine {
	t.Helper()
	e, err := New(st, cfg)
	require.NoError(t, err)
	return e
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestDeleteSelection_SmallStagesWithDialogConfirm(t *testing.T) {
	st := newFakeStore(20)
	cfg := DefaultConfig()
	cfg.GracePeriod = time.Hour
	e := newTestEngine(t, st, cfg)

	receipt, err := e.DeleteSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{},
		Confirmation{Acknowledged: true})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.BatchID)
	assert.Equal(t, 20, receipt.Staged)
	assert.False(t, receipt.Truncated)

	// Staged, not deleted: the store is untouched until the grace elapses.
	assert.Zero(t, st.deleteCount())
	assert.Equal(t, 20, e.Staging().StagedCount())
}

func TestDeleteSelection_LargeRequiresTypedConfirmation(t *testing.T) {
	// 150 matching cards against a threshold of 100.
	st := newFakeStore(150)
	cfg := DefaultConfig()
	cfg.GracePeriod = time.Hour
	e := newTestEngine(t, st, cfg)

	receipt, err := e.DeleteSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{},
		Confirmation{Acknowledged: true})
	require.ErrorIs(t, err, ErrConfirmationRequired)

	require.NotNil(t, receipt.Required)
	assert.Equal(t, ConfirmTyped, receipt.Required.Level)
	assert.Equal(t, "DELETE", receipt.Required.ConfirmWord)
	assert.Empty(t, receipt.BatchID)
	assert.Zero(t, e.Staging().StagedCount(), "nothing staged while unconfirmed")

	// Typing the word lets the same call through.
	receipt, err = e.DeleteSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{},
		Confirmation{TypedWord: "DELETE"})
	require.NoError(t, err)
	assert.Equal(t, 150, receipt.Staged)
	assert.Equal(t, 150, e.Staging().StagedCount())
}

func TestDeleteSelection_EmptySelection(t *testing.T) {
	st := newFakeStore(5)
	e := newTestEngine(t, st, DefaultConfig())

	receipt, err := e.DeleteSelection(context.Background(),
		selection.Selection{IDs: []string{"never-loaded"}}, store.FilterParams{},
		Confirmation{Acknowledged: true})
	require.NoError(t, err)
	assert.Empty(t, receipt.BatchID)
	assert.Zero(t, receipt.Staged)
}

func TestDeleteSelection_TruncatedSelection(t *testing.T) {
	st := newFakeStore(30)
	cfg := DefaultConfig()
	cfg.SelectionCap = 10
	cfg.PageSize = 10
	cfg.GracePeriod = time.Hour
	e := newTestEngine(t, st, cfg)

	receipt, err := e.DeleteSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{},
		Confirmation{Acknowledged: true})
	require.NoError(t, err)
	assert.True(t, receipt.Truncated)
	assert.Equal(t, 10, receipt.Staged)
}

func TestDeleteSelection_UndoThenNoDeletes(t *testing.T) {
	st := newFakeStore(3)
	cfg := DefaultConfig()
	cfg.GracePeriod = 50 * time.Millisecond
	e := newTestEngine(t, st, cfg)

	receipt, err := e.DeleteSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{},
		Confirmation{Acknowledged: true})
	require.NoError(t, err)

	e.Staging().UndoBatch(receipt.BatchID)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, st.deleteCount())
}

func TestMoveSelection(t *testing.T) {
	st := newFakeStore(8)
	e := newTestEngine(t, st, DefaultConfig())

	outcome, truncated, err := e.MoveSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{}, "deck-b")
	require.NoError(t, err)

	assert.False(t, truncated)
	assert.Len(t, outcome.SucceededIDs, 8)
	assert.Empty(t, outcome.FailedIDs)
	assert.Equal(t, "deck-b", st.moved["card-0003"])
}

func TestMoveSelection_RequiresTargetDeck(t *testing.T) {
	e := newTestEngine(t, newFakeStore(1), DefaultConfig())

	_, _, err := e.MoveSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{}, "")
	assert.Error(t, err)
}

func TestExportSelection(t *testing.T) {
	st := newFakeStore(4)
	e := newTestEngine(t, st, DefaultConfig())

	var buf bytes.Buffer
	outcome, truncated, err := e.ExportSelection(context.Background(),
		selection.Selection{AllMatching: true}, store.FilterParams{}, &buf)
	require.NoError(t, err)

	assert.False(t, truncated)
	assert.Len(t, outcome.SucceededIDs, 4)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "card-0001")
	assert.Contains(t, lines[3], "card-0004")
}

func TestSummary(t *testing.T) {
	ok := bulk.Outcome{SucceededIDs: []string{"a", "b", "c"}}
	assert.Equal(t, "3 cards deleted", Summary("delete", ok))
	assert.Equal(t, "3 cards moved", Summary("move", ok))

	partial := bulk.Outcome{SucceededIDs: []string{"a"}, FailedIDs: []string{"b", "c"}}
	assert.Equal(t, "1 cards deleted, 2 failed", Summary("delete", partial))
	assert.Equal(t, "1 cards exported, 2 failed", Summary("export", partial))
}
