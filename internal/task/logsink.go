package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// logTimeFormat matches the asctime-style prefix readers expect in task logs.
const logTimeFormat = "2006-01-02 15:04:05"

// LogLine is one timestamped, leveled entry in a task's log.
type LogLine struct {
	Time    time.Time
	Level   string
	Message string
}

func (l LogLine) String() string {
	return fmt.Sprintf("%s - %s - %s", l.Time.Format(logTimeFormat), l.Level, l.Message)
}

// LogSink is an append-only buffer of log lines for one task. Appends are safe
// under concurrent writers, reads always observe lines in insertion order, and
// Follow delivers a live stream that ends once the sink is closed.
type LogSink struct {
	mu     sync.Mutex
	lines  []LogLine
	closed bool
	// updated is closed and replaced on every append or Close, waking all
	// followers blocked on it.
	updated chan struct{}
}

func NewLogSink() *LogSink {
	return &LogSink{
		updated: make(chan struct{}),
	}
}

func (s *LogSink) append(level, format string, args ...any) {
	line := LogLine{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lines = append(s.lines, line)
	close(s.updated)
	s.updated = make(chan struct{})
}

func (s *LogSink) Infof(format string, args ...any) {
	s.append("INFO", format, args...)
}

func (s *LogSink) Warnf(format string, args ...any) {
	s.append("WARNING", format, args...)
}

func (s *LogSink) Errorf(format string, args ...any) {
	s.append("ERROR", format, args...)
}

// Snapshot returns a stable copy of all lines so far, formatted.
func (s *LogSink) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.String()
	}
	return out
}

// Len returns the number of lines appended so far.
func (s *LogSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Close marks the sink finished. Followers drain remaining lines and stop;
// later appends are dropped. Close is idempotent.
func (s *LogSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updated)
	s.updated = make(chan struct{})
}

// Follow streams formatted lines starting at offset. The returned channel is
// closed once every line has been delivered and the sink is closed, or when
// ctx is cancelled. Multiple followers can run concurrently.
func (s *LogSink) Follow(ctx context.Context, offset int) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if offset < 0 {
			offset = 0
		}
		for {
			s.mu.Lock()
			var batch []string
			for ; offset < len(s.lines); offset++ {
				batch = append(batch, s.lines[offset].String())
			}
			closed := s.closed
			updated := s.updated
			s.mu.Unlock()

			for _, line := range batch {
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
			if closed {
				return
			}
			select {
			case <-updated:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
