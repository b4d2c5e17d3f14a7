package task

import (
	"context"
	"log/slog"

	"github.com/EdwardJXLi/TinyGen/internal/eventbus"
)

// Archiver subscribes to task lifecycle events and persists a snapshot of
// every task that reaches a terminal state. It runs until its context is
// cancelled; archive failures are logged and never affect the task itself.
type Archiver struct {
	bus      *eventbus.Bus
	registry *Registry
	repo     Repository
}

func NewArchiver(bus *eventbus.Bus, registry *Registry, repo Repository) *Archiver {
	return &Archiver{
		bus:      bus,
		registry: registry,
		repo:     repo,
	}
}

func (a *Archiver) Start(ctx context.Context) {
	subID, events := a.bus.Subscribe(256)
	defer a.bus.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != eventbus.EventTypeTaskStatusChanged {
				continue
			}
			if !Status(event.Status).Terminal() {
				continue
			}
			a.archive(ctx, event.TaskID)
		}
	}
}

func (a *Archiver) archive(ctx context.Context, id string) {
	t, err := a.registry.Get(id)
	if err != nil {
		slog.Warn("archiver got event for unknown task", "task_id", id)
		return
	}
	// The terminal status is set before the runner writes its closing log
	// lines. Drain the live stream until the sink closes so the archive
	// includes them.
	for range t.Log().Follow(ctx, t.Log().Len()) {
	}
	snap := t.Snapshot(true)
	if err := a.repo.Save(ctx, snap); err != nil {
		slog.Error("failed to archive task", "task_id", id, "error", err)
		return
	}
	slog.Debug("archived task", "task_id", id, "status", snap.Status)
}
