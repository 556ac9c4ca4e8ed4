package markdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 5, 2, 15, 4, 5, 0, time.UTC)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newLoadedStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "decisions/2025-05-02.md", sampleFile)
	writeFile(t, root, "wins/2025/q2.md", "### Shipped offline mode\n- **Date:** 2025-04-30\n\nUsers can work without network.\n")
	writeFile(t, root, "notes/ignored.md", "### Not indexed\n")
	writeFile(t, root, "context/readme.txt", "### Not markdown\n")

	s := New(Options{Root: root, Now: func() time.Time { return epoch }})
	require.NoError(t, s.Load(context.Background()))
	return s, root
}

func TestLoadIndexesManagedFolders(t *testing.T) {
	s, root := newLoadedStore(t)
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, epoch, s.LastSync())

	for _, f := range Folders {
		info, err := os.Stat(filepath.Join(root, f))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	var titles []string
	for _, e := range s.Entries() {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"Adopt SQLite for local state", "Keep the CLI thin", "Shipped offline mode"}, titles)
}

func TestLoadRequiresRoot(t *testing.T) {
	assert.Error(t, New(Options{}).Load(context.Background()))
}

func TestSearchTermOverlap(t *testing.T) {
	s, _ := newLoadedStore(t)

	hits := s.Search("why did we adopt sqlite?", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Adopt SQLite for local state", hits[0].Entry.Title)
	assert.Equal(t, 1.0, hits[0].Score)

	hits = s.Search("offline replication", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, 0.5, hits[0].Score)
	assert.Equal(t, 0.5, hits[1].Score)
	// Ties keep file order.
	assert.Equal(t, "decisions/2025-05-02.md", hits[0].Entry.File)

	assert.Len(t, s.Search("offline replication", 1), 1)
	assert.Empty(t, s.Search("the and", 10))
	assert.Empty(t, s.Search("kubernetes", 10))
}

func TestSearchMatchesMetadata(t *testing.T) {
	s, _ := newLoadedStore(t)
	hits := s.Search("platform", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "Adopt SQLite for local state", hits[0].Entry.Title)
}

func TestAppendCreatesDatedFile(t *testing.T) {
	ctx := context.Background()
	s, root := newLoadedStore(t)

	meta := map[string]string{"Type": "win"}
	e, err := s.Append(ctx, FolderWins, "Halved CI time", meta, "Cached modules.")
	require.NoError(t, err)
	assert.Equal(t, "Halved CI time", e.Title)
	assert.Equal(t, "wins/2025-05-02.md", e.File)
	assert.Equal(t, epoch, e.CreatedAt)
	assert.Equal(t, "Cached modules.", e.Body)
	assert.NotContains(t, meta, KeyDate)

	e2, err := s.Append(ctx, FolderWins, "Fixed flaky test", nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, e2.ID)

	data, err := os.ReadFile(filepath.Join(root, "wins", "2025-05-02.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# wins 2025-05-02\n")
	assert.Contains(t, string(data), "### Halved CI time\n")
	assert.Contains(t, string(data), "### Fixed flaky test\n")
	assert.Equal(t, 5, s.Count())

	_, err = s.Append(ctx, "misc", "x", nil, "")
	assert.ErrorIs(t, err, ErrUnknownFolder)
}

func TestReloadFileDropsDeleted(t *testing.T) {
	s, root := newLoadedStore(t)
	require.NoError(t, os.Remove(filepath.Join(root, "wins", "2025", "q2.md")))
	require.NoError(t, s.ReloadFile("wins/2025/q2.md"))
	assert.Equal(t, 2, s.Count())

	// Files outside the managed folders are ignored.
	require.NoError(t, s.ReloadFile("notes/ignored.md"))
	assert.Equal(t, 2, s.Count())
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("wins/a.md"))
	assert.True(t, Matches("context/deep/nested/b.md"))
	assert.False(t, Matches("wins/a.txt"))
	assert.False(t, Matches("other/a.md"))
	assert.False(t, Matches("a.md"))
}
