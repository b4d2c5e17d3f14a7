package task

import (
	"context"
	"sync"
	"time"
)

// timeNow is swapped out in tests that assert on timestamps.
var timeNow = time.Now

// Status represents the lifecycle state of a task. Transitions are forward
// only: PENDING -> RUNNING -> {COMPLETED | ERRORED}, with CANCELLED reachable
// from PENDING and RUNNING. Terminal states are never left.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusErrored   Status = "ERRORED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// Task is the state container for one generation job. Identity and inputs are
// immutable; everything else is guarded by mu and mutated only through the
// registry's Transition/RequestCancel or read via Snapshot.
type Task struct {
	ID      string
	RepoURL string
	Prompt  string

	mu          sync.Mutex
	status      Status
	result      string
	errorDetail string
	createdAt   time.Time
	startedAt   time.Time
	endedAt     time.Time
	cancelReq   bool

	log    *LogSink
	ctx    context.Context
	cancel context.CancelFunc
}

func newTask(id, repoURL, prompt string) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		ID:        id,
		RepoURL:   repoURL,
		Prompt:    prompt,
		status:    StatusPending,
		createdAt: timeNow(),
		log:       NewLogSink(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Log returns the task's log sink. The sink itself is safe for concurrent use.
func (t *Task) Log() *LogSink {
	return t.log
}

// Context is cancelled when cancellation is requested, so in-flight
// collaborator calls can abort early.
func (t *Task) Context() context.Context {
	return t.ctx
}

// CancelRequested reports whether a cancel request has been recorded. The
// runner polls this at its checkpoints.
func (t *Task) CancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelReq
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot is a point-in-time copy of a task, safe to hand to readers,
// encoders, and the archive without further locking.
type Snapshot struct {
	ID          string     `yaml:"id" json:"task_id"`
	RepoURL     string     `yaml:"repo_url" json:"repo_url"`
	Prompt      string     `yaml:"prompt" json:"prompt"`
	Status      Status     `yaml:"status" json:"status"`
	Result      string     `yaml:"result,omitempty" json:"result,omitempty"`
	ErrorDetail string     `yaml:"error_detail,omitempty" json:"error_detail,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at" json:"created_at"`
	StartedAt   *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt     *time.Time `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	Logs        []string   `yaml:"logs,omitempty" json:"logs,omitempty"`
}

// ElapsedSeconds reports wall-clock duration: queue wait for pending tasks,
// time since start for running ones, and start-to-end for finished ones.
func (s *Snapshot) ElapsedSeconds(now time.Time) float64 {
	switch {
	case s.StartedAt == nil:
		return now.Sub(s.CreatedAt).Seconds()
	case s.EndedAt == nil:
		return now.Sub(*s.StartedAt).Seconds()
	default:
		return s.EndedAt.Sub(*s.StartedAt).Seconds()
	}
}

// Snapshot copies the task state under the record lock. Logs are included
// only when withLogs is set; status queries don't need them.
func (t *Task) Snapshot(withLogs bool) *Snapshot {
	t.mu.Lock()
	snap := &Snapshot{
		ID:          t.ID,
		RepoURL:     t.RepoURL,
		Prompt:      t.Prompt,
		Status:      t.status,
		Result:      t.result,
		ErrorDetail: t.errorDetail,
		CreatedAt:   t.createdAt,
	}
	if !t.startedAt.IsZero() {
		startedAt := t.startedAt
		snap.StartedAt = &startedAt
	}
	if !t.endedAt.IsZero() {
		endedAt := t.endedAt
		snap.EndedAt = &endedAt
	}
	t.mu.Unlock()

	if withLogs {
		snap.Logs = t.log.Snapshot()
	}
	return snap
}
