package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedoc/internal/ir"
)

var (
	testKey = ir.Key{Space: "counter", ID: "c-1"}
	alice   = ir.Client{Agent: "alice", Authority: "test"}
)

// testLog builds the history x: 0 -> 1 -> 3 -> 6 with a connected client
// added in change 2.
func testLog() []ir.Change {
	return []ir.Change{
		{Seq: 1, Who: &alice, Request: `{"command":"construct"}`,
			Forward: ir.IRObject{"__seq": ir.IRInt(1), "x": ir.IRInt(1)},
			Reverse: ir.IRObject{"__seq": ir.IRInt(0), "x": ir.IRInt(0)}},
		{Seq: 2, Who: &alice, Request: `{"command":"connect"}`,
			Forward: ir.IRObject{"__seq": ir.IRInt(2), "x": ir.IRInt(3), "__clients": ir.IRObject{"1": alice.Object()}},
			Reverse: ir.IRObject{"__seq": ir.IRInt(1), "x": ir.IRInt(1), "__clients": ir.IRObject{"1": ir.IRNull{}}}},
		{Seq: 3, Request: `{"command":"invalidate"}`,
			Forward: ir.IRObject{"__seq": ir.IRInt(3), "x": ir.IRInt(6)},
			Reverse: ir.IRObject{"__seq": ir.IRInt(2), "x": ir.IRInt(3)}},
	}
}

// implementations runs fn against every DataService.
func implementations(t *testing.T, fn func(t *testing.T, log Log)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "docs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func seed(t *testing.T, log Log) {
	t.Helper()
	ctx := context.Background()
	changes := testLog()
	require.NoError(t, log.Initialize(ctx, testKey, changes[0]))
	require.NoError(t, log.Patch(ctx, testKey, changes[1:]...))
}

func TestDataService_GetReturnsHead(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		seed(t, log)

		got, err := log.Get(context.Background(), testKey)

		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Seq)
		assert.Equal(t, ir.IRInt(6), got.Patch["x"])
		assert.Equal(t, ir.IRObject{"1": alice.Object()}, got.Patch["__clients"])
	})
}

func TestDataService_InitializeTwice(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		seed(t, log)

		err := log.Initialize(context.Background(), testKey, testLog()[0])

		assert.ErrorIs(t, err, ErrExists)
	})
}

func TestDataService_UnknownDocument(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		ctx := context.Background()

		_, err := log.Get(ctx, testKey)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, log.Patch(ctx, testKey, testLog()[1]), ErrNotFound)
		assert.ErrorIs(t, log.Delete(ctx, testKey), ErrNotFound)
		_, err = log.Changes(ctx, testKey)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDataService_ChangesRoundTrip(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		seed(t, log)

		got, err := log.Changes(context.Background(), testKey)

		require.NoError(t, err)
		assert.Equal(t, testLog(), got)
	})
}

func TestDataService_ComputeRewind(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		seed(t, log)

		got, err := log.Compute(context.Background(), testKey, ComputeRewind, 1)

		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Seq)
		assert.Equal(t, 2, got.Reads)
		assert.Equal(t, ir.IRInt(1), got.Patch["x"])
		assert.Equal(t, ir.IRInt(1), got.Patch["__seq"])
		assert.Equal(t, ir.IRObject{"1": ir.IRNull{}}, got.Patch["__clients"], "alice had not connected at seq 1")
	})
}

func TestDataService_ComputeHeadPatch(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		seed(t, log)

		got, err := log.Compute(context.Background(), testKey, ComputeHeadPatch, 2)

		require.NoError(t, err)
		assert.Equal(t, ir.IRObject{"__seq": ir.IRInt(3), "x": ir.IRInt(6)}, got.Patch)
	})
}

func TestDataService_Delete(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		ctx := context.Background()
		seed(t, log)

		require.NoError(t, log.Delete(ctx, testKey))

		_, err := log.Get(ctx, testKey)
		assert.ErrorIs(t, err, ErrNotFound)
		// The key can be reused.
		assert.NoError(t, log.Initialize(ctx, testKey, testLog()[0]))
		changes, err := log.Changes(ctx, testKey)
		require.NoError(t, err)
		assert.Len(t, changes, 1)
	})
}

func TestDataService_Verify(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		seed(t, log)

		report, err := Verify(context.Background(), log, testKey)

		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, int64(3), report.HeadSeq)
		assert.Equal(t, 3, report.Changes)
		assert.Equal(t, report.HeadHash, report.FoldHash)
	})
}

func TestDataService_SnapshotAt(t *testing.T) {
	implementations(t, func(t *testing.T, log Log) {
		ctx := context.Background()
		seed(t, log)

		snap, err := SnapshotAt(ctx, log, testKey, 2)
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(3), snap["x"])

		_, err = SnapshotAt(ctx, log, testKey, 9)
		assert.ErrorContains(t, err, "out of range")
	})
}

func TestStore_PatchRejectsGaps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	changes := testLog()
	require.NoError(t, s.Initialize(ctx, testKey, changes[0]))

	err := s.Patch(ctx, testKey, changes[2])

	assert.ErrorContains(t, err, "does not follow")
	got, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq, "a refused patch changes nothing")
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := Open(path)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Seq)

	docs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, testKey, docs[0].Key)
	assert.Equal(t, int64(3), docs[0].Seq)
}

func TestStore_ComputeWithoutHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seed(t, s)
	_, err := s.DB().Exec(`DELETE FROM changes WHERE seq = 2`)
	require.NoError(t, err)

	_, err = s.Compute(ctx, testKey, ComputeRewind, 1)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	report, err := Verify(ctx, s, testKey)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, report.Gaps)
	assert.False(t, report.OK())
}

func TestMemory_Hooks(t *testing.T) {
	m := NewMemory()
	var seen []int64
	m.OnChange(func(key ir.Key, c ir.Change) { seen = append(seen, c.Seq) })
	seed(t, m)

	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.Equal(t, []ir.Key{testKey}, m.Keys())

	m.FailPatches(assert.AnError)
	assert.ErrorIs(t, m.Patch(context.Background(), testKey, ir.Change{Seq: 4}), assert.AnError)
	m.FailComputes(assert.AnError)
	_, err := m.Compute(context.Background(), testKey, ComputeRewind, 1)
	assert.ErrorIs(t, err, assert.AnError)
	m.FailDeletes(assert.AnError)
	assert.ErrorIs(t, m.Delete(context.Background(), testKey), assert.AnError)
}
