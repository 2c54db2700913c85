package ledger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulohaalves-github/update-bitrix/internal/gspn"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:", slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestMarkPropagated_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.MarkPropagated(ctx, 42, "4171234567")
	require.NoError(t, err)
	assert.True(t, created)

	// Second call for the same pair is a no-op, not an error.
	created, err = s.MarkPropagated(ctx, 42, "4171234567")
	require.NoError(t, err)
	assert.False(t, created)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMarkPropagated_DistinctOrdersAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.MarkPropagated(ctx, 1, "417AAA")
	require.NoError(t, err)
	assert.True(t, created)

	// Same sequence number under a different order key is a new pair.
	created, err = s.MarkPropagated(ctx, 1, "417BBB")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestIsPropagated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.IsPropagated(ctx, 7, "417AAA")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = s.MarkPropagated(ctx, 7, "417AAA")
	require.NoError(t, err)

	done, err = s.IsPropagated(ctx, 7, "417AAA")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFilterNew_PreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []gspn.LogRow{
		{SeqNo: 1, OrderKey: "417AAA"},
		{SeqNo: 2, OrderKey: "417AAA"},
		{SeqNo: 3, OrderKey: "417AAA"},
		{SeqNo: 4, OrderKey: "417AAA"},
	}

	_, err := s.MarkPropagated(ctx, 2, "417AAA")
	require.NoError(t, err)
	_, err = s.MarkPropagated(ctx, 4, "417AAA")
	require.NoError(t, err)

	got := s.FilterNew(ctx, rows, "417AAA")
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].SeqNo)
	assert.Equal(t, int64(3), got[1].SeqNo)
}

func TestFilterNew_SkipsRowsWithoutSeqNo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []gspn.LogRow{
		{SeqNo: 0, OrderKey: "417AAA", ChangedDate: "20260101"},
		{SeqNo: 5, OrderKey: "417AAA"},
	}

	got := s.FilterNew(ctx, rows, "417AAA")
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].SeqNo)

	// The malformed row was not recorded either.
	done, err := s.IsPropagated(ctx, 0, "417AAA")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMarkBatch_PartialSuccessIsKept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pairs := []Pair{
		{SeqNo: 10, OrderKey: "417AAA"},
		{SeqNo: 10, OrderKey: "417AAA"}, // duplicate within the batch
		{SeqNo: 11, OrderKey: "417AAA"},
	}

	require.NoError(t, s.MarkBatch(ctx, pairs))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpen_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/ledger.db"
	ctx := context.Background()

	s, err := Open(ctx, path, slog.Default())
	require.NoError(t, err)

	_, err = s.MarkPropagated(ctx, 99, "417ZZZ")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Records persist across process restarts.
	s, err = Open(ctx, path, slog.Default())
	require.NoError(t, err)
	defer s.Close()

	done, err := s.IsPropagated(ctx, 99, "417ZZZ")
	require.NoError(t, err)
	assert.True(t, done)
}
