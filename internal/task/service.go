package task

import (
	"context"
	"errors"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
	"github.com/EdwardJXLi/TinyGen/internal/generator"
	"github.com/EdwardJXLi/TinyGen/pkg/cerr"
)

// Service is the façade the transport layer talks to: it creates tasks,
// launches their runners, and answers every query by delegating to the
// registry. All errors it returns are cerr-coded and safe to surface.
type Service struct {
	registry *Registry
	runner   *Runner
	wg       conc.WaitGroup
}

func NewService(registry *Registry, f fetcher.RepositoryFetcher, g generator.Generator) *Service {
	return &Service{
		registry: registry,
		runner:   NewRunner(registry, f, g),
	}
}

// Submit validates the inputs, registers a new PENDING task, and launches its
// runner in the background. It returns the task ID immediately; callers poll
// for progress.
func (s *Service) Submit(repoURL, prompt string) (string, error) {
	repoURL = strings.TrimSpace(repoURL)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", cerr.NewError(cerr.InvalidArgument, "prompt must not be empty", nil)
	}
	if repoURL == "" {
		return "", cerr.NewError(cerr.InvalidArgument, "repoUrl must not be empty", nil)
	}
	if err := fetcher.ValidateRepoURL(repoURL); err != nil {
		return "", cerr.NewError(cerr.InvalidArgument, err.Error(), err)
	}

	t := s.registry.Create(repoURL, prompt)
	s.wg.Go(func() {
		s.runner.Run(t)
	})
	return t.ID, nil
}

// Status returns a snapshot of the task without its logs.
func (s *Service) Status(id string) (*Snapshot, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return nil, cerr.NewError(cerr.NotFound, "task not found", err)
	}
	return t.Snapshot(false), nil
}

// Result returns the diff of a COMPLETED task. A known task that has not
// completed yet yields a conflict, distinct from an unknown identity.
func (s *Service) Result(id string) (string, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return "", cerr.NewError(cerr.NotFound, "task not found", err)
	}
	snap := t.Snapshot(false)
	if snap.Status != StatusCompleted {
		return "", cerr.NewError(cerr.Aborted, "task result not ready", nil)
	}
	return snap.Result, nil
}

// Logs returns a stable copy of the task's log lines so far.
func (s *Service) Logs(id string) ([]string, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return nil, cerr.NewError(cerr.NotFound, "task not found", err)
	}
	return t.Log().Snapshot(), nil
}

// FollowLogs returns a live stream of log lines from the beginning. The
// channel closes once the task reaches a terminal state or ctx is cancelled.
func (s *Service) FollowLogs(ctx context.Context, id string) (<-chan string, error) {
	t, err := s.registry.Get(id)
	if err != nil {
		return nil, cerr.NewError(cerr.NotFound, "task not found", err)
	}
	return t.Log().Follow(ctx, 0), nil
}

// Cancel requests cooperative cancellation and returns the task snapshot.
func (s *Service) Cancel(id string) (*Snapshot, error) {
	t, err := s.registry.RequestCancel(id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, cerr.NewError(cerr.NotFound, "task not found", err)
	case errors.Is(err, ErrAlreadyTerminal):
		return nil, cerr.NewError(cerr.Aborted, "task already terminal", err)
	case err != nil:
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	return t.Snapshot(false), nil
}

// HealthCounts aggregates task counts for the health endpoint. Finished means
// COMPLETED; Other covers RUNNING. The five fields sum to the total number of
// tasks created in this process.
type HealthCounts struct {
	Pending   int `json:"pending"`
	Finished  int `json:"finished"`
	Errored   int `json:"errored"`
	Cancelled int `json:"cancelled"`
	Other     int `json:"other"`
}

func (s *Service) Health() HealthCounts {
	counts := s.registry.CountsByStatus()
	health := HealthCounts{
		Pending:   counts[StatusPending],
		Finished:  counts[StatusCompleted],
		Errored:   counts[StatusErrored],
		Cancelled: counts[StatusCancelled],
	}
	for status, n := range counts {
		switch status {
		case StatusPending, StatusCompleted, StatusErrored, StatusCancelled:
		default:
			health.Other += n
		}
	}
	return health
}

// Wait blocks until every launched runner has finished. Used on shutdown and
// in tests; new submissions during Wait are not accounted for.
func (s *Service) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
