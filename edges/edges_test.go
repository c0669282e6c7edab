package edges

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Add(Edge{Src: "acct-1", Dst: "app1", Tag: TagAuthorizes})
	s.Add(Edge{Src: "acct-1", Dst: "app2", Tag: TagAuthorizes})
	s.Add(Edge{Src: "acct-2", Dst: "app1", Tag: TagAuthorizes})
	// Duplicates collapse.
	s.Add(Edge{Src: "acct-1", Dst: "app1", Tag: TagAuthorizes})

	found, err := s.Query(ctx, Query{Src: "acct-1", Tag: TagAuthorizes})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.Query(ctx, Query{Dst: "app1"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.Query(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, found, 3)

	s.Remove(Edge{Src: "acct-1", Dst: "app1", Tag: TagAuthorizes})
	found, err = s.Query(ctx, Query{Src: "acct-1"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "app2", found[0].Dst)
}
