package task

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/EdwardJXLi/TinyGen/internal/eventbus"
)

// ErrInvalidTransition reports a status transition that violates the forward
// only lifecycle. It indicates a programming error, not a user-facing state.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrSupersededByCancel is returned by Transition when a requested cancel
// preempts a Running/Completed/Errored transition. The record ends up
// CANCELLED; the caller should stop work.
var ErrSupersededByCancel = errors.New("transition superseded by cancel request")

// ErrNotFound reports an unknown task identity.
var ErrNotFound = errors.New("task not found")

// ErrAlreadyTerminal reports a cancel request against a finished task.
var ErrAlreadyTerminal = errors.New("task already terminal")

// Registry is the source of truth for task existence and status. Lookup is
// guarded by a short-lived registry lock; all per-task mutation happens under
// the individual record's lock so unrelated tasks never contend.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	bus   *eventbus.Bus
}

// NewRegistry creates an empty registry. The bus may be nil when no one
// consumes lifecycle events.
func NewRegistry(bus *eventbus.Bus) *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		bus:   bus,
	}
}

// Create allocates a fresh task in PENDING state and returns it. Identities
// are random UUIDs; a collision with an existing entry is retried, though
// with 122 random bits it is never expected to happen.
func (r *Registry) Create(repoURL, prompt string) *Task {
	r.mu.Lock()
	var id string
	for {
		id = uuid.NewString()
		if _, exists := r.tasks[id]; !exists {
			break
		}
	}
	t := newTask(id, repoURL, prompt)
	r.tasks[id] = t
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.PublishNew(eventbus.EventTypeTaskCreated, t.ID, string(StatusPending))
	}
	return t
}

// Get returns the task for id or ErrNotFound.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Transition atomically applies a forward transition. The payload is stored
// as the result on COMPLETED and as the error detail on ERRORED. If a cancel
// request arrived first, the task is moved to CANCELLED instead and
// ErrSupersededByCancel is returned. The applied status is always returned on
// success and on supersede.
func (r *Registry) Transition(id string, next Status, payload string) (Status, error) {
	t, err := r.Get(id)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	applied, err := t.applyTransitionLocked(next, payload)
	t.mu.Unlock()
	if err != nil && !errors.Is(err, ErrSupersededByCancel) {
		return "", err
	}

	if r.bus != nil {
		r.bus.PublishNew(eventbus.EventTypeTaskStatusChanged, t.ID, string(applied))
	}
	return applied, err
}

// applyTransitionLocked enforces the lifecycle rules. Callers hold t.mu.
func (t *Task) applyTransitionLocked(next Status, payload string) (Status, error) {
	if t.status.Terminal() {
		return t.status, ErrInvalidTransition
	}

	superseded := false
	switch next {
	case StatusRunning:
		if t.status != StatusPending {
			return t.status, ErrInvalidTransition
		}
		if t.cancelReq {
			next = StatusCancelled
			superseded = true
		}
	case StatusCompleted, StatusErrored:
		if t.status != StatusRunning {
			return t.status, ErrInvalidTransition
		}
		if t.cancelReq {
			next = StatusCancelled
			superseded = true
		}
	case StatusCancelled:
		// reachable from both PENDING and RUNNING
	default:
		return t.status, ErrInvalidTransition
	}

	now := timeNow()
	if next == StatusRunning {
		t.startedAt = now
	}
	if next.Terminal() {
		if t.startedAt.IsZero() && next != StatusCancelled {
			t.startedAt = now
		}
		t.endedAt = now
	}
	switch next {
	case StatusCompleted:
		t.result = payload
	case StatusErrored:
		t.errorDetail = payload
	}
	t.status = next

	if superseded {
		return next, ErrSupersededByCancel
	}
	return next, nil
}

// RequestCancel records a cancellation request and cancels the task's
// context. The status itself only moves to CANCELLED when the runner reaches
// its next checkpoint. Returns ErrAlreadyTerminal for finished tasks.
func (r *Registry) RequestCancel(id string) (*Task, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return t, ErrAlreadyTerminal
	}
	t.cancelReq = true
	t.mu.Unlock()

	t.cancel()
	return t, nil
}

// CountsByStatus returns a point-in-time count of tasks per status. The
// registry lock is held only to copy the record pointers.
func (r *Registry) CountsByStatus() map[Status]int {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, t := range tasks {
		counts[t.Status()]++
	}
	return counts
}

// Len returns the number of tasks ever created in this process.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
