package staging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartenwerk/bulkops/pkg/bulk"
	"github.com/kartenwerk/bulkops/pkg/store"
)

type recordingDeleter struct {
	mu      sync.Mutex
	calls   []string
	failIDs map[string]store.MutationStatus
}

func (d *recordingDeleter) Delete(_ context.Context, id string, _ int) store.MutationResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, id)
	if status, ok := d.failIDs[id]; ok {
		return store.MutationResult{Status: status}
	}
	return store.MutationResult{Status: store.StatusOK}
}

func (d *recordingDeleter) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recordingDeleter) calledIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	offers []UndoOffer
}

func (n *recordingNotifier) OfferUndo(offer UndoOffer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, offer)
}

func entities(ids ...string) []store.Entity {
	out := make([]store.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Entity{ID: id, Version: 1})
	}
	return out
}

func newTestArea(t *testing.T, deleter bulk.Deleter, cfg Config) *Area {
	t.Helper()
	area, err := NewArea(deleter, cfg)
	require.NoError(t, err)
	return area
}

func TestNewArea_RequiresDeleter(t *testing.T) {
	_, err := NewArea(nil, Config{})
	assert.Error(t, err)
}

func TestStage_ArgumentErrors(t *testing.T) {
	area := newTestArea(t, &recordingDeleter{}, Config{})

	assert.Error(t, area.Stage(entities("a"), "", time.Minute), "empty batch id")
	assert.Error(t, area.Stage(entities("a"), "b1", 0), "zero grace")
	assert.Error(t, area.Stage(entities("a"), "b1", -time.Second), "negative grace")

	require.NoError(t, area.Stage(entities("a"), "b1", time.Hour))
	assert.Error(t, area.Stage(entities("b"), "b1", time.Hour), "duplicate batch id")
}

func TestStage_EmptyIsNoop(t *testing.T) {
	notifier := &recordingNotifier{}
	area := newTestArea(t, &recordingDeleter{}, Config{Notifier: notifier})

	require.NoError(t, area.Stage(nil, "b1", time.Hour))
	assert.Zero(t, area.StagedCount())
	assert.Empty(t, notifier.offers, "no offer for an empty staging")
}

func TestStage_ThenTimedCommit(t *testing.T) {
	// Stage three cards with a short grace, watch them leave the trash and
	// arrive at the store.
	deleter := &recordingDeleter{}
	committed := make(chan bulk.Outcome, 1)

	area := newTestArea(t, deleter, Config{
		OnCommitResult: func(_ string, outcome bulk.Outcome) {
			committed <- outcome
		},
	})

	require.NoError(t, area.Stage(entities("c1", "c2", "c3"), "b1", 30*time.Millisecond))

	staged := area.ListStaged()
	require.Len(t, staged, 3)
	assert.True(t, area.IsStaged("c2"))

	select {
	case outcome := <-committed:
		assert.Len(t, outcome.SucceededIDs, 3)
		assert.Empty(t, outcome.FailedIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("batch never committed")
	}

	assert.Zero(t, area.StagedCount())
	assert.False(t, area.IsStaged("c2"))
	assert.Equal(t, 3, deleter.callCount())
}

func TestUndoEntity(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	require.NoError(t, area.Stage(entities("c1"), "b1", time.Hour))
	require.True(t, area.IsStaged("c1"))

	area.UndoEntity("c1")

	assert.Zero(t, area.StagedCount())
	assert.Zero(t, deleter.callCount(), "undo must not touch the store")

	// The batch collapsed with its last member; committing it is a no-op.
	outcome, err := area.CommitBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Zero(t, outcome.Processed)
	assert.Zero(t, deleter.callCount())
}

func TestUndoEntity_UnknownIsNoop(t *testing.T) {
	area := newTestArea(t, &recordingDeleter{}, Config{})
	area.UndoEntity("never-staged")
}

func TestUndoBatch(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	require.NoError(t, area.Stage(entities("c1", "c2"), "b1", 40*time.Millisecond))
	area.UndoBatch("b1")

	assert.Zero(t, area.StagedCount())

	// Past the original grace: the canceled timer must not resurrect the
	// commit.
	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, deleter.callCount())
}

func TestUndoBatch_ViaNotifierOffer(t *testing.T) {
	deleter := &recordingDeleter{}
	notifier := &recordingNotifier{}
	area := newTestArea(t, deleter, Config{Notifier: notifier})

	require.NoError(t, area.Stage(entities("c1", "c2"), "b1", time.Hour))

	require.Len(t, notifier.offers, 1)
	offer := notifier.offers[0]
	assert.Equal(t, "2 cards moved to trash", offer.Title)
	assert.Equal(t, time.Hour, offer.Duration)

	offer.Undo()
	assert.Zero(t, area.StagedCount())
}

func TestRestage_MovesEntityBetweenBatches(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	require.NoError(t, area.Stage(entities("x", "y"), "b1", 50*time.Millisecond))
	require.NoError(t, area.Stage(entities("x"), "b2", time.Hour))

	// x belongs to b2 now; only y remains under b1.
	staged := area.ListStaged()
	byID := map[string]PendingDeletion{}
	for _, p := range staged {
		byID[p.EntityID] = p
	}
	require.Len(t, byID, 2)
	assert.Equal(t, "b2", byID["x"].BatchID)
	assert.Equal(t, "b1", byID["y"].BatchID)

	// When b1's timer fires it commits y alone; x stays staged under b2.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"y"}, deleter.calledIDs())
	assert.True(t, area.IsStaged("x"))
}

func TestRestage_LastMemberCollapsesOldBatch(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	require.NoError(t, area.Stage(entities("x"), "b1", 40*time.Millisecond))
	require.NoError(t, area.Stage(entities("x"), "b2", time.Hour))

	// b1 is gone; its defunct timer must never fire.
	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, deleter.callCount())
	assert.True(t, area.IsStaged("x"))
}

func TestStage_DuplicateIDWithinCall(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	dupes := []store.Entity{
		{ID: "x", Version: 1},
		{ID: "x", Version: 2},
	}
	require.NoError(t, area.Stage(dupes, "b1", time.Hour))

	assert.Equal(t, 1, area.StagedCount())

	// The later snapshot wins.
	staged := area.ListStaged()
	require.Len(t, staged, 1)
	assert.Equal(t, 2, staged[0].Entity.Version)
}

func TestCommitBatch_Direct(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	require.NoError(t, area.Stage(entities("c1", "c2"), "b1", time.Hour))

	outcome, err := area.CommitBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, outcome.SucceededIDs, 2)
	assert.Zero(t, area.StagedCount())
}

func TestCommitBatch_UnknownIsNoop(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	outcome, err := area.CommitBatch(context.Background(), "no-such-batch")
	require.NoError(t, err)
	assert.Zero(t, outcome.Processed)
	assert.Zero(t, deleter.callCount())
}

func TestCommitBatch_ExactlyOnceUnderRace(t *testing.T) {
	// Commit and undo race for the same batch; whoever loses must observe a
	// no-op. Delete calls are counted to prove at-most-once.
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	require.NoError(t, area.Stage(entities("c1", "c2", "c3"), "b1", time.Hour))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = area.CommitBatch(context.Background(), "b1")
	}()
	go func() {
		defer wg.Done()
		area.UndoBatch("b1")
	}()
	wg.Wait()

	calls := deleter.callCount()
	assert.True(t, calls == 0 || calls == 3,
		"batch must resolve exactly once (got %d delete calls)", calls)
	assert.Zero(t, area.StagedCount())

	// A second commit after the race is resolved is always a no-op.
	outcome, err := area.CommitBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Zero(t, outcome.Processed)
	assert.Equal(t, calls, deleter.callCount())
}

func TestCommitBatch_PartialFailure(t *testing.T) {
	deleter := &recordingDeleter{failIDs: map[string]store.MutationStatus{
		"c2": store.StatusVersionConflict,
		"c4": store.StatusNotFound,
	}}
	area := newTestArea(t, deleter, Config{ChunkSize: 2})

	require.NoError(t, area.Stage(entities("c1", "c2", "c3", "c4", "c5"), "b1", time.Hour))

	outcome, err := area.CommitBatch(context.Background(), "b1")
	require.NoError(t, err, "partial failure is data, not an error")
	assert.Len(t, outcome.SucceededIDs, 3)
	assert.ElementsMatch(t, []string{"c2", "c4"}, outcome.FailedIDs)

	// Failed items do not return to the trash.
	assert.Zero(t, area.StagedCount())
}

func TestListStaged_OrderedByExpiry(t *testing.T) {
	area := newTestArea(t, &recordingDeleter{}, Config{})

	require.NoError(t, area.Stage(entities("z-late"), "b1", 2*time.Hour))
	require.NoError(t, area.Stage(entities("a-soon", "b-soon"), "b2", time.Hour))

	staged := area.ListStaged()
	require.Len(t, staged, 3)
	ids := make([]string, 0, 3)
	for _, p := range staged {
		ids = append(ids, p.EntityID)
	}
	assert.Equal(t, []string{"a-soon", "b-soon", "z-late"}, ids)
}

func TestSecondsRemaining(t *testing.T) {
	now := time.Now()
	p := PendingDeletion{ExpiresAt: now.Add(29*time.Second + 700*time.Millisecond)}
	assert.Equal(t, 30, p.SecondsRemaining(now))

	p.ExpiresAt = now.Add(-time.Second)
	assert.Equal(t, 0, p.SecondsRemaining(now), "never negative")
}

func TestStage_ManyBatchesIndependent(t *testing.T) {
	deleter := &recordingDeleter{}
	area := newTestArea(t, deleter, Config{})

	for i := 0; i < 5; i++ {
		id := NewBatchID()
		require.NoError(t, area.Stage(entities(fmt.Sprintf("card-%d", i)), id, time.Hour))
	}
	assert.Equal(t, 5, area.StagedCount())
}
