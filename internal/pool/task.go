package pool

import (
	"context"
	"sync"

	"github.com/odavlstudio/insight/internal/protocol"
)

// Task is one detector run request. It is immutable once submitted.
type Task struct {
	ID        string
	Detector  string
	Workspace string // must be absolute
	Options   map[string]any
}

// TaskHandle is the caller's view of a submitted task: an ordered stream of
// protocol messages ending in exactly one terminal Complete or Error.
// Synthesized failures (timeout, crash, memory kill) arrive on the same
// stream as Error messages, so consumers see one uniform terminal shape.
type TaskHandle struct {
	Task Task

	events chan protocol.Message
	done   chan struct{}

	mu       sync.Mutex
	terminal protocol.Message
	dropped  int
	finished bool
}

func newTaskHandle(task Task, buffer int) *TaskHandle {
	if buffer <= 0 {
		buffer = 1024
	}
	return &TaskHandle{
		Task:   task,
		events: make(chan protocol.Message, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the task's message stream. The channel closes after the
// terminal message. Consumers that stop draining may lose Progress and Issue
// messages under load, but the terminal is always the stream's last message;
// Wait retains it too.
func (h *TaskHandle) Events() <-chan protocol.Message {
	return h.events
}

// Wait blocks until the task reaches its terminal outcome.
func (h *TaskHandle) Wait(ctx context.Context) (protocol.Message, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.terminal, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many non-terminal messages were discarded because the
// consumer fell behind.
func (h *TaskHandle) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// send forwards a non-terminal message without ever blocking the pool's
// control goroutine. The last buffer slot is held back for the terminal, so
// backpressure can drop Progress and Issue messages but never the outcome.
func (h *TaskHandle) send(m protocol.Message) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if len(h.events) >= cap(h.events)-1 {
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		return
	}
	h.events <- m
}

// finish delivers the terminal message and closes the stream. Later calls
// are ignored, which keeps the exactly-one-terminal invariant even if a
// worker's dying gasp races its exit notification.
func (h *TaskHandle) finish(terminal protocol.Message) bool {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return false
	}
	h.finished = true
	h.terminal = terminal
	h.mu.Unlock()

	// send keeps one slot free, so this never blocks.
	h.events <- terminal
	close(h.events)
	close(h.done)
	return true
}
