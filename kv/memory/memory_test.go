package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authlane/access"
)

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	existed, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreValueSizeLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(4)

	err := s.Put(ctx, "k", []byte("too large"))
	assert.ErrorIs(t, err, access.ErrValueTooLarge)

	require.NoError(t, s.Put(ctx, "k", []byte("ok")))
}

func TestUpdateCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)
	require.NoError(t, s.Put(ctx, "a", []byte("1")))

	err := s.Update(ctx, func(tx access.Tx) error {
		if err := tx.Put("b", []byte("2")); err != nil {
			return err
		}
		_, err := tx.Delete("a")
		return err
	})
	require.NoError(t, err)

	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
	v, ok, _ := s.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestUpdateRollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)
	require.NoError(t, s.Put(ctx, "a", []byte("1")))

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx access.Tx) error {
		if err := tx.Put("b", []byte("2")); err != nil {
			return err
		}
		if _, err := tx.Delete("a"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing staged may have leaked out.
	v, ok, _ := s.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
}

func TestUpdateReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(0)

	err := s.Update(ctx, func(tx access.Tx) error {
		if err := tx.Put("k", []byte("v")); err != nil {
			return err
		}
		v, ok, err := tx.Get("k")
		if err != nil {
			return err
		}
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), v)

		if _, err := tx.Delete("k"); err != nil {
			return err
		}
		_, ok, err = tx.Get("k")
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)

	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestBackendNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(0)

	s1 := b.Namespace("one")
	s2 := b.Namespace("two")

	require.NoError(t, s1.Put(ctx, "k", []byte("v1")))
	_, ok, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Same namespace resolves to the same store.
	again := b.Namespace("one")
	v, ok, err := again.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}
