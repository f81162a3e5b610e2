// ABOUTME: Tests for the knowledge base using a temp SQLite database
// ABOUTME: A bag-of-words fake embedder makes similarity deterministic

package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const fakeDims = 64

// wordEmbedder hashes each lowercase word into one of fakeDims buckets.
type wordEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	fail    error
}

func (e *wordEmbedder) Name() string { return "fake:words" }

func (e *wordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, fakeDims)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(w, ".,:()")))
			vec[h.Sum32()%fakeDims]++
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore(t *testing.T, e *wordEmbedder) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, e, Options{BatchSize: 2, Concurrency: 2})
	require.NoError(t, err)
	return s
}

func TestStore_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	e := &wordEmbedder{}
	s := newTestStore(t, e)

	added, err := s.Add(ctx, []Document{
		{Content: "derivative of a power function", Source: "calc.md"},
		{Content: "bayes theorem conditional probability"},
		{Content: "quadratic formula roots of a polynomial"},
	})
	require.NoError(t, err)
	require.Len(t, added, 3)
	for _, d := range added {
		assert.NotEmpty(t, d.ID)
		assert.False(t, d.CreatedAt.IsZero())
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := s.Search(ctx, "what is the derivative of a power", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "derivative of a power function", matches[0].Content)
	assert.Equal(t, "calc.md", matches[0].Source)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestStore_AddBatchesEmbeddings(t *testing.T) {
	e := &wordEmbedder{}
	s := newTestStore(t, e)

	docs := make([]Document, 5)
	for i := range docs {
		docs[i] = Document{Content: strings.Repeat("x ", i+1)}
	}
	_, err := s.Add(context.Background(), docs)
	require.NoError(t, err)

	require.Len(t, e.batches, 3, "5 documents in batches of 2")
	total := 0
	for _, b := range e.batches {
		assert.LessOrEqual(t, len(b), 2)
		total += len(b)
	}
	assert.Equal(t, 5, total)
}

func TestStore_AddRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t, &wordEmbedder{})
	_, err := s.Add(context.Background(), []Document{{Content: "  "}})
	assert.Error(t, err)
}

func TestStore_AddEmbedderFailure(t *testing.T) {
	boom := errors.New("embedding service down")
	s := newTestStore(t, &wordEmbedder{fail: boom})

	_, err := s.Add(context.Background(), []Document{{Content: "a"}})
	assert.ErrorIs(t, err, boom)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_SearchDefaultKAndEmptyQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &wordEmbedder{})
	_, err := s.Add(ctx, []Document{{Content: "a"}, {Content: "b"}, {Content: "c"}, {Content: "d"}})
	require.NoError(t, err)

	matches, err := s.Search(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	matches, err = s.Search(ctx, "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_SeedDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &wordEmbedder{})

	n, err := s.Seed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultDocuments()), n)

	n, err = s.Seed(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n, "seeding a populated store is a no-op")

	matches, err := s.Search(ctx, "Quadratic Formula", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Content, "Quadratic Formula")
}

func TestStore_SeedFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[document]]
source = "notes/limits"
topic = "calculus"
content = "lim x->0 sin(x)/x = 1"

[[document]]
content = "The sum of angles in a triangle is 180 degrees."
`), 0644))

	s := newTestStore(t, &wordEmbedder{})
	n, err := s.Seed(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, err := LoadTOML(path)
	require.NoError(t, err)
	assert.Equal(t, "notes/limits", docs[0].Source)
	assert.Equal(t, "calculus", docs[0].Topic)
	assert.Empty(t, docs[1].Source)
}

func TestLoadTOML_Errors(t *testing.T) {
	_, err := LoadTOML(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[document]]\nsource = \"x\"\n"), 0644))
	_, err = LoadTOML(path)
	assert.ErrorContains(t, err, "no content")
}

func TestStore_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &wordEmbedder{})
	_, err := s.Add(ctx, []Document{
		{Content: "keep me"},
		{Content: "drop me", Source: "memory:run-1"},
	})
	require.NoError(t, err)

	removed, err := s.DeleteBySource(ctx, "memory:run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
