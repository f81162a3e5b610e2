// ABOUTME: Watching a run: replays recorded steps, then follows live events
// ABOUTME: Also marks runs orphaned by a restart as failed

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/mentor-gateway/internal/store"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// InterruptedError is recorded on runs that were still running at startup.
const InterruptedError = "interrupted: the gateway restarted before the run finished"

// Watch reports a run's recorded steps, then live events until the run
// finishes or ctx is done. A finished run yields its steps and one terminal
// event. Returns store.ErrNotFound for unknown runs.
func (s *Service) Watch(ctx context.Context, runID string, onEvent func(*Event)) error {
	// Subscribe before reading the store so nothing published in between is lost.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	live, _ := s.broadcaster.Subscribe(subCtx, runID)

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	recorded, err := s.store.GetRunEvents(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run events: %w", err)
	}

	lastSeq := 0
	for _, ev := range recorded {
		onEvent(&Event{
			Type:    EventStep,
			RunID:   runID,
			Seq:     ev.Seq,
			Node:    ev.Node,
			Message: ev.Message,
			Time:    ev.CreatedAt,
		})
		lastSeq = ev.Seq
	}

	if run.Status != store.RunStatusRunning {
		return s.replayResult(run, onEvent)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			switch {
			case ev.Type == EventStarted:
				continue
			case ev.Type == EventStep && ev.Seq <= lastSeq:
				continue
			}
			onEvent(ev)
			if ev.Terminal() {
				return nil
			}
		}
	}
}

func (s *Service) replayResult(run *store.Run, onEvent func(*Event)) error {
	result, err := resultOf(run)
	if err != nil {
		return err
	}
	at := run.CreatedAt
	if run.FinishedAt != nil {
		at = *run.FinishedAt
	}
	onEvent(terminalEvent(run.ID, result, at))
	return nil
}

// RecoverInterrupted marks runs left in the running state by a previous
// process as failed. Call once at startup, before serving requests.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	runs, err := s.store.ListRuns(ctx, store.RunFilter{Status: store.RunStatusRunning, Limit: 1000})
	if err != nil {
		return 0, fmt.Errorf("listing running runs: %w", err)
	}

	now := time.Now().UTC()
	for _, run := range runs {
		run.Status = store.RunStatusFailed
		run.Outcome = string(tutor.OutcomeFailed)
		run.Error = InterruptedError
		run.FinishedAt = &now
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return 0, fmt.Errorf("marking run %s interrupted: %w", run.ID, err)
		}
	}
	if len(runs) > 0 {
		s.logger.Warn("marked interrupted runs as failed", "count", len(runs))
	}
	return len(runs), nil
}
