// ABOUTME: Run service: every solve is recorded as a run before the pipeline starts
// ABOUTME: Persists per-node events, fans them out to watchers, and stores the final state

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mentor-gateway/internal/dedupe"
	"github.com/2389/mentor-gateway/internal/graph"
	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/metrics"
	"github.com/2389/mentor-gateway/internal/store"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// Service errors
var (
	ErrEmptyInput       = errors.New("problem text is empty")
	ErrInvalidInputType = errors.New("invalid input type")
	ErrNoAnswer         = errors.New("run has no answer to save")
	ErrRunNotFinished   = errors.New("run has not finished")
)

// dedupeCapacity bounds the number of remembered submissions.
const dedupeCapacity = 10000

// RunStore defines what the service needs from storage
type RunStore interface {
	CreateRun(ctx context.Context, run *store.Run) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	UpdateRun(ctx context.Context, run *store.Run) error
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)

	SaveRunEvent(ctx context.Context, event *store.RunEvent) error
	GetRunEvents(ctx context.Context, runID string) ([]*store.RunEvent, error)

	SaveMemory(ctx context.Context, entry *store.MemoryEntry) error
	ListMemory(ctx context.Context, limit int) ([]*store.MemoryEntry, error)

	SaveFeedback(ctx context.Context, fb *store.Feedback) error
	ListFeedback(ctx context.Context, runID string) ([]*store.Feedback, error)

	GetRunUsage(ctx context.Context, runID string) ([]*store.TokenUsage, error)
}

// Pipeline runs the tutoring graph. *graph.Runnable[tutor.AgentState] satisfies it.
type Pipeline interface {
	Stream(ctx context.Context, state tutor.AgentState, onStep func(graph.StepEvent[tutor.AgentState])) (tutor.AgentState, error)
}

// KnowledgeWriter receives confirmed solutions so later runs can retrieve them.
type KnowledgeWriter interface {
	Add(ctx context.Context, docs []knowledge.Document) ([]knowledge.Document, error)
}

// Options configures the service.
type Options struct {
	// DedupeWindow is how long identical submissions from one student map
	// to the same run. Zero disables duplicate detection.
	DedupeWindow time.Duration
	// RunTimeout bounds a single pipeline run. Zero means no limit.
	RunTimeout time.Duration
	Logger     *slog.Logger
}

// Service is the run layer between the transports and the pipeline.
type Service struct {
	store       RunStore
	pipeline    Pipeline
	knowledge   KnowledgeWriter
	broadcaster *Broadcaster
	dedupe      *dedupe.Cache
	// creating maps a claimed run ID to a channel closed once CreateRun
	// returns, so duplicates never look up a run that isn't written yet.
	creating   sync.Map
	runTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Service. knowledge may be nil, in which case confirmed
// solutions are kept in memory storage only.
func New(runs RunStore, pipeline Pipeline, kb KnowledgeWriter, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       runs,
		pipeline:    pipeline,
		knowledge:   kb,
		broadcaster: NewBroadcaster(logger),
		runTimeout:  opts.RunTimeout,
		logger:      logger.With("component", "session"),
	}
	if opts.DedupeWindow > 0 {
		s.dedupe = dedupe.New(opts.DedupeWindow, dedupeCapacity)
	}
	return s
}

// Close stops background work and disconnects watchers.
func (s *Service) Close() {
	if s.dedupe != nil {
		s.dedupe.Close()
	}
	s.broadcaster.Close()
}

// SolveRequest is one submission.
type SolveRequest struct {
	Student   string
	Text      string
	InputType tutor.InputType
}

// SolveResponse describes how a submission was handled.
type SolveResponse struct {
	RunID string
	// Duplicate is true when the submission matched a recent run and no
	// new pipeline run was started.
	Duplicate bool
	Result    tutor.Result
}

// Solve records a run, executes the pipeline, and reports progress through
// onEvent (which may be nil). The returned error covers failures to start
// or record the run; pipeline failures are reported in the Result with
// OutcomeFailed.
func (s *Service) Solve(ctx context.Context, req SolveRequest, onEvent func(*Event)) (*SolveResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if req.InputType == "" {
		req.InputType = tutor.InputText
	}
	if !req.InputType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInputType, req.InputType)
	}
	if onEvent == nil {
		onEvent = func(*Event) {}
	}

	runID := uuid.New().String()
	key := dedupe.Key(req.Student, text)
	if s.dedupe != nil {
		created := make(chan struct{})
		// Registered before the claim so anyone who sees runID can wait on it.
		s.creating.Store(runID, created)
		existing, dup := s.dedupe.Claim(key, runID)
		if dup {
			s.creating.Delete(runID)
			return s.solveDuplicate(ctx, req, existing, onEvent)
		}
	}

	run := &store.Run{
		ID:        runID,
		Student:   req.Student,
		InputType: string(req.InputType),
		RawInput:  text,
		Status:    store.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	err := s.store.CreateRun(ctx, run)
	if err != nil {
		s.forget(key)
	}
	s.markCreated(runID)
	if err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	s.logger.Info("run started", "run_id", runID, "student", req.Student, "input_type", req.InputType)
	s.emit(onEvent, &Event{Type: EventStarted, RunID: runID, Time: run.CreatedAt})

	final, runErr := s.execute(ctx, run, text, req.InputType, onEvent)
	result := tutor.Summarize(final, runErr)

	if err := s.finish(ctx, run, final, result, runErr); err != nil {
		s.logger.Error("failed to record run result", "run_id", runID, "error", err)
	}
	if result.Outcome == tutor.OutcomeFailed {
		s.forget(key)
	}

	metrics.PipelineRuns.WithLabelValues(string(result.Outcome)).Inc()
	s.logger.Info("run finished", "run_id", runID, "outcome", result.Outcome)

	s.emit(onEvent, terminalEvent(runID, result, time.Now().UTC()))
	return &SolveResponse{RunID: runID, Result: result}, nil
}

func (s *Service) execute(ctx context.Context, run *store.Run, text string, inputType tutor.InputType, onEvent func(*Event)) (tutor.AgentState, error) {
	runCtx := WithRunID(ctx, run.ID)
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.runTimeout)
		defer cancel()
	}

	return s.pipeline.Stream(runCtx, tutor.NewState(text, inputType), func(step graph.StepEvent[tutor.AgentState]) {
		message := strings.Join(step.Messages, "\n")

		ev := &store.RunEvent{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			Seq:       step.Step,
			Node:      step.Node,
			Message:   message,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.SaveRunEvent(context.WithoutCancel(ctx), ev); err != nil {
			s.logger.Warn("failed to record run event", "run_id", run.ID, "node", step.Node, "error", err)
		}

		s.emit(onEvent, &Event{
			Type:    EventStep,
			RunID:   run.ID,
			Seq:     step.Step,
			Node:    step.Node,
			Next:    step.Next,
			Message: message,
			Time:    ev.CreatedAt,
		})
	})
}

// finish writes the final state. It uses a context detached from the
// caller so a disconnected client still leaves a complete record.
func (s *Service) finish(ctx context.Context, run *store.Run, final tutor.AgentState, result tutor.Result, runErr error) error {
	state, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	now := time.Now().UTC()
	run.State = state
	run.Outcome = string(result.Outcome)
	run.FinishedAt = &now
	run.Status = store.RunStatusCompleted
	if result.Outcome == tutor.OutcomeFailed {
		run.Status = store.RunStatusFailed
		run.Error = result.Error
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	return s.store.UpdateRun(context.WithoutCancel(ctx), run)
}

// emit publishes to watchers and then to the caller.
func (s *Service) emit(onEvent func(*Event), ev *Event) {
	s.broadcaster.Publish(ev.RunID, ev)
	onEvent(ev)
}

func (s *Service) forget(key string) {
	if s.dedupe != nil {
		s.dedupe.Forget(key)
	}
}

// markCreated wakes duplicates waiting for runID to be written.
func (s *Service) markCreated(runID string) {
	if v, ok := s.creating.LoadAndDelete(runID); ok {
		close(v.(chan struct{}))
	}
}

// awaitCreated blocks until a claimed run has been written or its creation
// failed.
func (s *Service) awaitCreated(ctx context.Context, runID string) error {
	v, ok := s.creating.Load(runID)
	if !ok {
		return nil
	}
	select {
	case <-v.(chan struct{}):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// solveDuplicate answers a submission that matched a claimed run. If the
// original submission failed to record its run, this one starts over.
func (s *Service) solveDuplicate(ctx context.Context, req SolveRequest, runID string, onEvent func(*Event)) (*SolveResponse, error) {
	if err := s.awaitCreated(ctx, runID); err != nil {
		return nil, err
	}
	resp, err := s.followDuplicate(ctx, runID, onEvent)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("original submission was not recorded; solving again", "run_id", runID, "student", req.Student)
		return s.Solve(ctx, req, onEvent)
	}
	return resp, err
}

func (s *Service) followDuplicate(ctx context.Context, runID string, onEvent func(*Event)) (*SolveResponse, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	s.logger.Info("duplicate submission", "run_id", runID)
	onEvent(&Event{Type: EventDuplicate, RunID: runID, Time: time.Now().UTC()})

	resp := &SolveResponse{RunID: runID, Duplicate: true}
	err := s.Watch(ctx, runID, func(ev *Event) {
		if ev.Type == EventStep {
			// The caller asked to solve, not to replay history.
			return
		}
		if ev.Result != nil {
			resp.Result = *ev.Result
		}
		onEvent(ev)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func terminalEvent(runID string, result tutor.Result, at time.Time) *Event {
	r := result
	ev := &Event{Type: EventDone, RunID: runID, Result: &r, Time: at}
	if result.Outcome == tutor.OutcomeFailed {
		ev.Type = EventError
		ev.Error = result.Error
	}
	return ev
}

// ListRuns returns recent runs.
func (s *Service) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	return s.store.ListRuns(ctx, filter)
}

// RunDetail is a run with everything recorded about it.
type RunDetail struct {
	Run      *store.Run          `json:"run"`
	Events   []*store.RunEvent   `json:"events"`
	Result   *tutor.Result       `json:"result,omitempty"`
	Feedback []*store.Feedback   `json:"feedback,omitempty"`
	Usage    []*store.TokenUsage `json:"usage,omitempty"`
}

// GetRun loads a run with its events, result, feedback, and token usage.
func (s *Service) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.GetRunEvents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run events: %w", err)
	}
	feedback, err := s.store.ListFeedback(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}
	usage, err := s.store.GetRunUsage(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading usage: %w", err)
	}

	detail := &RunDetail{Run: run, Events: events, Feedback: feedback, Usage: usage}
	if run.Status != store.RunStatusRunning {
		result, err := resultOf(run)
		if err != nil {
			return nil, err
		}
		detail.Result = &result
	}
	return detail, nil
}

// StateOf decodes a finished run's final pipeline state.
func StateOf(run *store.Run) (tutor.AgentState, error) {
	var st tutor.AgentState
	if len(run.State) == 0 {
		return st, ErrRunNotFinished
	}
	if err := json.Unmarshal(run.State, &st); err != nil {
		return st, fmt.Errorf("decoding run state: %w", err)
	}
	return st, nil
}

// resultOf rebuilds the Result of a finished run from its stored state.
func resultOf(run *store.Run) (tutor.Result, error) {
	st, err := StateOf(run)
	if err != nil {
		if errors.Is(err, ErrRunNotFinished) {
			// Failed before any state was written.
			return tutor.Summarize(tutor.NewState(run.RawInput, tutor.InputType(run.InputType)), errors.New(run.Error)), nil
		}
		return tutor.Result{}, err
	}

	var runErr error
	if run.Status == store.RunStatusFailed || run.Outcome == string(tutor.OutcomeFailed) {
		msg := run.Error
		if msg == "" {
			msg = "run failed"
		}
		runErr = errors.New(msg)
	}
	return tutor.Summarize(st, runErr), nil
}
