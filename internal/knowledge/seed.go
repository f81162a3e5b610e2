// ABOUTME: Initial knowledge base: built-in math facts or a TOML document file
// ABOUTME: Seeding only runs against an empty store

package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultDocuments is the built-in corpus used when no seed file is configured.
func DefaultDocuments() []Document {
	return []Document{
		{Content: "The derivative of x^n is nx^(n-1).", Topic: "calculus"},
		{Content: "Bayes theorem: P(A|B) = (P(B|A) * P(A)) / P(B)", Topic: "probability"},
		{Content: "Integration by parts: ∫u dv = uv - ∫v du", Topic: "calculus"},
		{Content: "Quadratic Formula: x = (-b ± sqrt(b^2 - 4ac)) / 2a", Topic: "algebra"},
	}
}

type seedFile struct {
	Documents []struct {
		Content string `toml:"content"`
		Source  string `toml:"source"`
		Topic   string `toml:"topic"`
	} `toml:"document"`
}

// LoadTOML reads documents from a file of [[document]] tables:
//
//	[[document]]
//	source = "ncert-12-ch7"
//	topic = "calculus"
//	content = "∫ e^x dx = e^x + C"
func LoadTOML(path string) ([]Document, error) {
	var f seedFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("reading knowledge file %s: %w", path, err)
	}

	docs := make([]Document, 0, len(f.Documents))
	for i, d := range f.Documents {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("knowledge file %s: document %d has no content", path, i+1)
		}
		docs = append(docs, Document{Content: d.Content, Source: d.Source, Topic: d.Topic})
	}
	return docs, nil
}

// Seed fills an empty store from path, or from DefaultDocuments when path is
// empty. It returns the number of documents added; a non-empty store is left
// alone and 0 is returned.
func (s *Store) Seed(ctx context.Context, path string) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("knowledge base already seeded", "documents", n)
		return 0, nil
	}
	return s.Ingest(ctx, path)
}

// Ingest adds documents from path (or the defaults) regardless of what the
// store already holds.
func (s *Store) Ingest(ctx context.Context, path string) (int, error) {
	docs := DefaultDocuments()
	if path != "" {
		loaded, err := LoadTOML(path)
		if err != nil {
			return 0, err
		}
		docs = loaded
	}

	added, err := s.Add(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("seeding knowledge base: %w", err)
	}
	s.logger.Info("knowledge base seeded", "documents", len(added), "file", path)
	return len(added), nil
}
