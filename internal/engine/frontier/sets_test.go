package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDedupIndex(t *testing.T) *dedupIndex {
	t.Helper()
	idx, err := newDedupIndex(1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestDedupIndex_AdmitsNewURLOnce(t *testing.T) {
	idx := newTestDedupIndex(t)

	admitted, err := idx.admit("https://example.com/a")
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, err = idx.admit("https://example.com/a")
	require.NoError(t, err)
	assert.False(t, admitted, "second admit of the same URL must be rejected")
}

func TestDedupIndex_MarkVisitedMovesCounts(t *testing.T) {
	idx := newTestDedupIndex(t)

	_, err := idx.admit("https://example.com/a")
	require.NoError(t, err)
	visited, enqueued := idx.counts()
	assert.Equal(t, int64(0), visited)
	assert.Equal(t, int64(1), enqueued)

	require.NoError(t, idx.markVisited("https://example.com/a"))
	visited, enqueued = idx.counts()
	assert.Equal(t, int64(1), visited)
	assert.Equal(t, int64(0), enqueued)
}

func TestDedupIndex_VisitedURLNeverReadmitted(t *testing.T) {
	idx := newTestDedupIndex(t)

	_, err := idx.admit("https://example.com/a")
	require.NoError(t, err)
	require.NoError(t, idx.markVisited("https://example.com/a"))

	admitted, err := idx.admit("https://example.com/a")
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestDedupIndex_IterateVisitedYieldsAllMarked(t *testing.T) {
	idx := newTestDedupIndex(t)

	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		_, err := idx.admit(u)
		require.NoError(t, err)
		require.NoError(t, idx.markVisited(u))
	}

	var seen []string
	require.NoError(t, idx.iterateVisited(func(url string) bool {
		seen = append(seen, url)
		return true
	}))
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/b"}, seen)
}
