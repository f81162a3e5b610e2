// ABOUTME: Student feedback and the self-learning memory built from it
// ABOUTME: Accurate solutions are saved to memory and added to the knowledge base

package session

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/metrics"
	"github.com/2389/mentor-gateway/internal/store"
)

// Knowledge sources for documents learned from memory.
const (
	MemorySourcePrefix = "memory:"
	ImportSource       = "memory:import"
)

// FeedbackRequest is a student's verdict on a finished run.
type FeedbackRequest struct {
	RunID    string
	Student  string
	Accurate bool
	Comment  string
}

// Feedback records a verdict. An accurate verdict saves the problem and
// answer to memory and teaches them to the knowledge base; an incorrect
// verdict only records the comment.
func (s *Service) Feedback(ctx context.Context, req FeedbackRequest) error {
	run, err := s.store.GetRun(ctx, req.RunID)
	if err != nil {
		return err
	}
	if run.Status == store.RunStatusRunning {
		return ErrRunNotFinished
	}

	var entry *store.MemoryEntry
	var topic string
	if req.Accurate {
		st, err := StateOf(run)
		if err != nil {
			return err
		}
		if strings.TrimSpace(st.FinalAnswer) == "" {
			return ErrNoAnswer
		}
		problem := st.ParsedProblem.ProblemText
		if problem == "" {
			problem = st.RawInput
		}
		topic = st.ParsedProblem.Topic
		entry = &store.MemoryEntry{
			ID:       uuid.New().String(),
			RunID:    run.ID,
			Problem:  problem,
			Solution: st.FinalAnswer,
			Verified: st.Verified(),
		}
	}

	fb := &store.Feedback{
		ID:       uuid.New().String(),
		RunID:    run.ID,
		Student:  req.Student,
		Accurate: req.Accurate,
		Comment:  strings.TrimSpace(req.Comment),
	}
	if err := s.store.SaveFeedback(ctx, fb); err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}

	s.logger.Info("feedback recorded", "run_id", run.ID, "accurate", req.Accurate)
	if entry == nil {
		return nil
	}

	if err := s.store.SaveMemory(ctx, entry); err != nil {
		return fmt.Errorf("saving to memory: %w", err)
	}
	metrics.MemoryWrites.Inc()

	s.learn(ctx, []knowledge.Document{memoryDocument(entry, topic, MemorySourcePrefix+run.ID)})
	return nil
}

// ExportMemory writes all memory entries in the legacy JSON list format.
func (s *Service) ExportMemory(ctx context.Context, w io.Writer) error {
	entries, err := s.store.ListMemory(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing memory: %w", err)
	}
	return store.WriteLegacyJSON(w, entries)
}

// ImportMemory loads a legacy JSON memory list, saving every entry and
// adding it to the knowledge base. Returns the number of entries imported.
func (s *Service) ImportMemory(ctx context.Context, r io.Reader) (int, error) {
	legacy, err := store.ReadLegacyJSON(r)
	if err != nil {
		return 0, err
	}

	docs := make([]knowledge.Document, 0, len(legacy))
	for i, l := range legacy {
		entry := &store.MemoryEntry{
			ID:       uuid.New().String(),
			Problem:  l.Problem,
			Solution: l.Solution,
			Verified: l.Verified,
		}
		if err := s.store.SaveMemory(ctx, entry); err != nil {
			return i, fmt.Errorf("saving memory entry %d: %w", i, err)
		}
		metrics.MemoryWrites.Inc()
		docs = append(docs, memoryDocument(entry, "", ImportSource))
	}

	s.learn(ctx, docs)
	s.logger.Info("imported memory", "entries", len(legacy))
	return len(legacy), nil
}

// learn adds documents to the knowledge base. Memory is already saved, so
// failures are logged rather than returned.
func (s *Service) learn(ctx context.Context, docs []knowledge.Document) {
	if s.knowledge == nil || len(docs) == 0 {
		return
	}
	if _, err := s.knowledge.Add(ctx, docs); err != nil {
		s.logger.Warn("failed to add memory to knowledge base", "documents", len(docs), "error", err)
	}
}

func memoryDocument(e *store.MemoryEntry, topic, source string) knowledge.Document {
	return knowledge.Document{
		Content: fmt.Sprintf("Problem: %s\nSolution: %s", e.Problem, e.Solution),
		Source:  source,
		Topic:   topic,
	}
}
