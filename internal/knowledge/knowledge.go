// ABOUTME: SQLite-backed knowledge base with in-process cosine similarity search
// ABOUTME: Documents are embedded in batches and stored with little-endian float32 vectors

package knowledge

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/mentor-gateway/internal/embedding"
)

// Document is one retrievable chunk of knowledge.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a search hit.
type Match struct {
	Document
	Score float64 `json:"score"`
}

// Options tunes ingestion and search.
type Options struct {
	// BatchSize is the number of texts sent per embedding call.
	BatchSize int
	// Concurrency bounds simultaneous embedding calls.
	Concurrency int
	// DefaultK is used when Search is called with k <= 0.
	DefaultK int
	Logger   *slog.Logger
}

// Store is the knowledge base.
type Store struct {
	db       *sql.DB
	embedder embedding.Embedder
	opts     Options
	logger   *slog.Logger
}

// New creates the knowledge tables in db if needed and returns a Store.
func New(db *sql.DB, embedder embedding.Embedder, opts Options) (*Store, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:       db,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With("component", "knowledge"),
	}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("creating knowledge schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS knowledge_documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL,
			embedder TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge_documents(source);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add embeds and stores docs. Missing IDs and timestamps are filled in; the
// stored documents are returned in input order.
func (s *Store) Add(ctx context.Context, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	out := make([]Document, len(docs))
	texts := make([]string, len(docs))
	now := time.Now().UTC()
	for i, d := range docs {
		d.Content = strings.TrimSpace(d.Content)
		if d.Content == "" {
			return nil, fmt.Errorf("document %d: empty content", i)
		}
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		out[i] = d
		texts[i] = d.Content
	}

	vectors, err := s.embedBatches(ctx, texts)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_documents (id, content, source, topic, embedding, embedder, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			source = excluded.source,
			topic = excluded.topic,
			embedding = excluded.embedding,
			embedder = excluded.embedder
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range out {
		if _, err := stmt.ExecContext(ctx,
			d.ID, d.Content, d.Source, d.Topic,
			embedding.EncodeBlob(vectors[i]), s.embedder.Name(),
			d.CreatedAt.Format(time.RFC3339),
		); err != nil {
			return nil, fmt.Errorf("inserting document %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing documents: %w", err)
	}

	s.logger.Info("documents added", "count", len(out), "embedder", s.embedder.Name())
	return out, nil
}

// embedBatches splits texts into BatchSize chunks and embeds them with at
// most Concurrency calls in flight.
func (s *Store) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))
		g.Go(func() error {
			batch, err := s.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedding batch %d-%d: got %d vectors", start, end, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Search returns the k documents most similar to query, best first.
// Documents embedded with a different vector size are skipped.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = s.opts.DefaultK
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	qv, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(qv))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, topic, embedding, created_at
		FROM knowledge_documents
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var matches []Match
	skipped := 0
	for rows.Next() {
		var (
			d         Document
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.Content, &d.Source, &d.Topic, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		score, err := embedding.CosineSimilarity(qv[0], embedding.DecodeBlob(blob))
		if err != nil {
			skipped++
			continue
		}
		matches = append(matches, Match{Document: d, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("skipped documents with mismatched embeddings", "count", skipped)
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// DeleteBySource removes every document with the given source.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}
	return res.RowsAffected()
}
