package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("subscriber channel closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
	}
}

func newDoc(t *testing.T) *Document {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d, err := New(ctx, "ABC123", map[string]any{
		"players": []string{"alice"},
		"creator": "alice",
	})
	require.NoError(t, err)
	return d
}

func TestDocument_SubscribeGetsCurrentThenWrites(t *testing.T) {
	d := newDoc(t)
	ctx := context.Background()

	ch, cancel, err := d.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	first := recvSnapshot(t, ch, 100*time.Millisecond)
	assert.Equal(t, int64(1), first.Version)
	assert.True(t, first.Exists)

	_, err = d.Update(ctx, engine.Update{}.Union(engine.Field("players"), "bob"))
	require.NoError(t, err)

	next := recvSnapshot(t, ch, 100*time.Millisecond)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, []any{"alice", "bob"}, next.Fields["players"])
}

func TestDocument_NoOpWriteKeepsVersion(t *testing.T) {
	d := newDoc(t)
	ctx := context.Background()

	ch, cancel, err := d.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()
	_ = recvSnapshot(t, ch, 100*time.Millisecond)

	snap, err := d.Update(ctx, engine.Update{}.Union(engine.Field("players"), "alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)

	recvNoSnapshot(t, ch, 50*time.Millisecond)
}

func TestDocument_SlowSubscriberConvergesOnLatest(t *testing.T) {
	d := newDoc(t)
	ctx := context.Background()

	ch, cancel, err := d.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	for _, p := range []string{"bob", "carol", "dave"} {
		_, err := d.Update(ctx, engine.Update{}.Union(engine.Field("players"), p))
		require.NoError(t, err)
	}

	snap := recvSnapshot(t, ch, 100*time.Millisecond)
	assert.Equal(t, int64(4), snap.Version)
	assert.Len(t, snap.Fields["players"], 4)
}

func TestDocument_ConditionalWriteConflicts(t *testing.T) {
	d := newDoc(t)
	ctx := context.Background()

	_, err := d.Update(ctx, engine.Update{}.Set(engine.Field("gameStarted"), true))
	require.NoError(t, err)

	_, err = d.Update(ctx, engine.Update{}.Set(engine.Field("gameEnded"), true).Conditional(1))
	require.True(t, errors.Is(err, ErrConflict), "want ErrConflict, got %v", err)

	snap, err := d.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Fields["gameEnded"])
}

func TestDocument_DeleteNotifiesAndCloses(t *testing.T) {
	d := newDoc(t)
	ctx := context.Background()

	ch, cancel, err := d.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()
	_ = recvSnapshot(t, ch, 100*time.Millisecond)

	_, err = d.Update(ctx, engine.Update{DeleteDoc: true})
	require.NoError(t, err)

	gone := recvSnapshot(t, ch, 100*time.Millisecond)
	assert.False(t, gone.Exists)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after delete")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after delete")
	}

	_, err = d.Get(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSnapshot_SessionDecodesRecord(t *testing.T) {
	fields, err := ApplyOps(nil, engine.Update{}.
		Set(engine.Field("creator"), "alice").
		Set(engine.Field("roles"), map[string]string{"alice": "Imposter"}).
		Increment(engine.Field("imposterHistory", "alice"), 1).Ops)
	require.NoError(t, err)

	sess, err := Snapshot{Exists: true, Fields: fields}.Session()
	require.NoError(t, err)
	assert.Equal(t, engine.RoleImposter, sess.Roles["alice"])
	assert.Equal(t, 1, sess.ImposterHistory["alice"])

	gone, err := Snapshot{}.Session()
	require.NoError(t, err)
	assert.Nil(t, gone)
}
