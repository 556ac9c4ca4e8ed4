package graphstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newConnected(t *testing.T, path string) *Store {
	t.Helper()
	clock := epoch
	s := New(Options{Path: path, Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}})
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Disconnect(context.Background()) })
	return s
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(64)
	assert.Equal(t, 64, e.Dimensions())

	a := e.Embed("Deployment failed after migration")
	b := e.Embed("deployment FAILED after migration!")
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	assert.True(t, isZero(e.Embed("  ... !!")))
}

func TestOperationsRequireConnect(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	_, err := s.AddFact(ctx, "k", "v", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.Search(ctx, "v", 3)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.Link(ctx, "a", "b", "r"), ErrNotConnected)
}

func TestSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t, "")

	deploy, err := s.AddFact(ctx, "deploy", "the deployment failed after the database migration", nil)
	require.NoError(t, err)
	_, err = s.AddFact(ctx, "lunch", "pizza was ordered for the team lunch", nil)
	require.NoError(t, err)

	matches, err := s.Search(ctx, "why did the deployment fail", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, deploy.ID, matches[0].Node.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	matches, err = s.Search(ctx, "deployment", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSearchEmptyStore(t *testing.T) {
	s := newConnected(t, "")
	matches, err := s.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestGetRelatedWalksBothDirections(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t, "")

	a, _ := s.AddFact(ctx, "a", "schema migration added a column", nil)
	b, _ := s.AddFact(ctx, "b", "the column broke the ORM mapping", nil)
	c, _ := s.AddFact(ctx, "c", "deployment failed on startup", nil)
	require.NoError(t, s.Link(ctx, a.ID, b.ID, "caused"))
	require.NoError(t, s.Link(ctx, c.ID, b.ID, "caused_by"))
	require.NoError(t, s.Link(ctx, a.ID, b.ID, "caused"))

	one, err := s.GetRelated(ctx, a.ID, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, b.ID, one[0].ID)

	two, err := s.GetRelated(ctx, a.ID, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, b.ID, two[0].ID)
	assert.Equal(t, c.ID, two[1].ID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalMemories)
	assert.Equal(t, 2, st.TotalLinks)
	assert.Equal(t, c.CreatedAt, st.NewestMemory)
}

func TestLinkValidation(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t, "")
	a, _ := s.AddFact(ctx, "a", "alpha", nil)

	assert.Error(t, s.Link(ctx, a.ID, a.ID, "self"))
	assert.ErrorIs(t, s.Link(ctx, a.ID, "missing", "r"), ErrNotFound)
	assert.Error(t, s.Link(ctx, a.ID, "", "r"))
}

func TestReconnectRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	s := newConnected(t, path)
	fact, err := s.AddFact(ctx, "release", "release notes are generated from commits", map[string]interface{}{"type": "fact", "weight": 2})
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(ctx))
	assert.False(t, s.Connected())

	require.NoError(t, s.Connect(ctx))
	matches, err := s.Search(ctx, "release notes", 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, fact.ID, matches[0].Node.ID)
	assert.Equal(t, "fact", matches[0].Node.Metadata["type"])
	assert.Equal(t, 2.0, matches[0].Node.Metadata["weight"])
	assert.Equal(t, fact.CreatedAt, matches[0].Node.CreatedAt)
}
