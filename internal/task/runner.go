package task

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
	"github.com/EdwardJXLi/TinyGen/internal/generator"
	"github.com/EdwardJXLi/TinyGen/pkg/panicerr"
)

// Runner drives a single task from PENDING to a terminal state on its own
// goroutine. All side effects stay on the task's record and log; failures of
// the collaborators are captured as ERRORED and never escape the runner.
type Runner struct {
	registry  *Registry
	fetcher   fetcher.RepositoryFetcher
	generator generator.Generator
}

func NewRunner(registry *Registry, f fetcher.RepositoryFetcher, g generator.Generator) *Runner {
	return &Runner{
		registry:  registry,
		fetcher:   f,
		generator: g,
	}
}

// Run executes the pipeline for t. It never returns an error: every outcome,
// including a panic in a collaborator, ends as a terminal task status.
func (r *Runner) Run(t *Task) {
	log := t.Log()
	defer log.Close()

	err := panicerr.SafeContext(func(ctx context.Context) error {
		return r.run(ctx, t)
	})(t.Context())
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrSupersededByCancel):
		log.Warnf("Task %s cancelled.", t.ID)
	case errors.Is(err, ErrInvalidTransition):
		// Lifecycle bug: record it loudly but leave the task as is.
		slog.Error("invalid task transition", "task_id", t.ID, "error", err)
	default:
		if _, terr := r.registry.Transition(t.ID, StatusErrored, err.Error()); terr != nil {
			if errors.Is(terr, ErrSupersededByCancel) {
				log.Warnf("Task %s cancelled.", t.ID)
				return
			}
			slog.Error("failed to record task error", "task_id", t.ID, "error", terr)
			return
		}
		log.Errorf("Task %s failed: %s", t.ID, err)
	}
}

// run is the happy-path pipeline. Cooperative cancellation checkpoints guard
// every externally-invoked slow step on both sides.
func (r *Runner) run(ctx context.Context, t *Task) error {
	log := t.Log()

	if t.CancelRequested() {
		return r.cancelNow(t)
	}
	if _, err := r.registry.Transition(t.ID, StatusRunning, ""); err != nil {
		return err
	}

	log.Infof("Task %s started.", t.ID)
	log.Infof("==================================================")
	log.Infof("Starting TinyGen task with the following parameters:")
	log.Infof("Task ID: %s", t.ID)
	log.Infof("Repository URL: %s", t.RepoURL)
	log.Infof("Prompt: %s", t.Prompt)
	log.Infof("==================================================")

	log.Infof("Fetching repository: %s", t.RepoURL)
	tree, err := r.fetcher.Fetch(ctx, t.RepoURL)
	if err != nil {
		if t.CancelRequested() {
			return r.cancelNow(t)
		}
		return err
	}
	log.Infof("Repository fetched successfully (%d files)", len(tree.Files))
	log.Infof("%s", strings.Join(tree.Paths(), "\n"))

	if t.CancelRequested() {
		return r.cancelNow(t)
	}

	diff, err := r.generator.Generate(ctx, tree, t.Prompt, func(line string) {
		log.Infof("%s", line)
	})
	if err != nil {
		if t.CancelRequested() {
			return r.cancelNow(t)
		}
		return err
	}

	if t.CancelRequested() {
		return r.cancelNow(t)
	}

	if _, err := r.registry.Transition(t.ID, StatusCompleted, diff); err != nil {
		return err
	}
	log.Infof("Task %s finished!", t.ID)
	return nil
}

// cancelNow applies the CANCELLED transition at a checkpoint and logs it.
// The status is set before the log line so a reader that observes the line
// never sees a non-terminal status afterwards.
func (r *Runner) cancelNow(t *Task) error {
	if _, err := r.registry.Transition(t.ID, StatusCancelled, ""); err != nil && !errors.Is(err, ErrSupersededByCancel) {
		return err
	}
	t.Log().Warnf("Task %s cancelled.", t.ID)
	return nil
}
