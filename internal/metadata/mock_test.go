package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, it RecordIterator) []Record {
	t.Helper()
	defer it.Close()
	var out []Record
	for {
		r, err := it.Next()
		if errors.Is(err, ErrDone) {
			return out
		}
		require.NoError(t, err)
		out = append(out, r)
	}
}

func TestMockStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	m.Add(Record{ID: "b", DeleteFlag: true})
	m.Add(Record{ID: "a", DeleteFlag: true, RefCount: 1})
	m.Add(Record{ID: "c"})

	it, err := m.Query(ctx, Filter{DeleteFlag: Bool(true)})
	require.NoError(t, err)
	got := drain(t, it)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	it, err = m.Query(ctx, Filter{DeleteFlag: Bool(true), RefCount: Int64(0)})
	require.NoError(t, err)
	got = drain(t, it)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Len(t, m.Queries(), 2)
}

func TestMockStoreIteratorSkipsDeletedRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	m.Add(Record{ID: "a"})
	m.Add(Record{ID: "b"})

	it, err := m.Query(ctx, Filter{})
	require.NoError(t, err)
	defer it.Close()

	first, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)

	require.NoError(t, m.Delete(ctx, "b"))
	_, err = it.Next()
	assert.ErrorIs(t, err, ErrDone)
}

func TestMockStoreUpdateAndDeleteNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()

	err := m.UpdateFields(ctx, "missing", Fields{IsValid: Bool(true)})
	assert.True(t, IsNotFound(err))
	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "missing", recErr.ID)

	assert.True(t, IsNotFound(m.Delete(ctx, "missing")))
}

func TestMockStoreInjectedErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	m.Add(Record{ID: "a"})
	boom := errors.New("boom")

	m.SetUpdateError("a", boom)
	assert.ErrorIs(t, m.UpdateFields(ctx, "a", Fields{DeleteFlag: Bool(true)}), boom)
	m.SetUpdateError("a", nil)
	require.NoError(t, m.UpdateFields(ctx, "a", Fields{DeleteFlag: Bool(true)}))
	r, ok := m.Record("a")
	require.True(t, ok)
	assert.True(t, r.DeleteFlag)

	m.SetQueryError(boom)
	_, err := m.Query(ctx, Filter{})
	assert.ErrorIs(t, err, boom)

	m.SetDeleteError("a", boom)
	assert.ErrorIs(t, m.Delete(ctx, "a"), boom)
	assert.Equal(t, 1, m.Len())
}

func TestMockStoreClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	require.NoError(t, m.Close())

	_, err := m.Query(ctx, Filter{})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, m.UpdateFields(ctx, "a", Fields{}), ErrStoreClosed)
	assert.ErrorIs(t, m.Delete(ctx, "a"), ErrStoreClosed)
	assert.ErrorIs(t, m.Ping(ctx), ErrStoreClosed)
}

func TestMockStoreEphemeral(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()

	v1, err := m.PutEphemeral(ctx, "/lease", []byte("a"), WithEphemeralExpectNotExists())
	require.NoError(t, err)

	_, err = m.PutEphemeral(ctx, "/lease", []byte("b"), WithEphemeralExpectNotExists())
	assert.ErrorIs(t, err, ErrVersionMismatch)

	v2, err := m.PutEphemeral(ctx, "/lease", []byte("a"), WithEphemeralExpectedVersion(v1))
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	assert.ErrorIs(t, m.DeleteKey(ctx, "/lease", WithDeleteExpectedVersion(v1)), ErrVersionMismatch)
	require.NoError(t, m.DeleteKey(ctx, "/lease", WithDeleteExpectedVersion(v2)))

	res, err := m.Get(ctx, "/lease")
	require.NoError(t, err)
	assert.False(t, res.Exists)

	_, err = m.PutEphemeral(ctx, "/lease", []byte("c"))
	require.NoError(t, err)
	m.ExpireSession()
	res, err = m.Get(ctx, "/lease")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestMockStoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMockStore()
	m.Add(Record{ID: "a"})
	m.Add(Record{ID: "b"})
	m.Add(Record{ID: "c"})
	m.MarkCorrupt("b")

	it, err := m.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.OpenIterators())

	r, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID)

	_, err = it.Next()
	assert.ErrorIs(t, err, ErrInvalidRecord)
	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "b", recErr.ID)

	r, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, "c", r.ID)

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.Equal(t, 0, m.OpenIterators())
}
