// Package pool implements the orchestrator that owns a bounded set of
// isolated worker processes, dispatches detector tasks to them, enforces
// liveness, and replaces dead workers. All mutable orchestration state (the
// worker table and the FIFO queue) is touched exclusively from one control
// goroutine; process isolation, not locking, is the safety mechanism between
// tasks.
package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/odavlstudio/insight/internal/diagnostics"
	"github.com/odavlstudio/insight/internal/errstore"
	"github.com/odavlstudio/insight/internal/events"
	"github.com/odavlstudio/insight/internal/logging"
	"github.com/odavlstudio/insight/internal/protocol"
)

// State tracks a worker slot's lifecycle. The only legal transitions are
// Idle→Busy→{Idle|Dead}; a Dead worker is replaced, never reused.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Config configures the pool.
type Config struct {
	// Size is the number of workers; defaults to the CPU count.
	Size int
	// TaskTimeout is the liveness window: a busy worker that produces no
	// message for this long is killed. Zero disables timeouts.
	TaskTimeout time.Duration
	// ShutdownGrace is how long workers get to exit after a Shutdown
	// broadcast before they are force-killed.
	ShutdownGrace time.Duration
	// MemoryLimitMB kills any busy worker whose RSS exceeds the limit.
	// Zero disables the watchdog.
	MemoryLimitMB int
	// MemoryInterval is the watchdog sampling period.
	MemoryInterval time.Duration
	// StreamBuffer is the per-task event channel capacity.
	StreamBuffer int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:           runtime.NumCPU(),
		TaskTimeout:    2 * time.Minute,
		ShutdownGrace:  5 * time.Second,
		MemoryInterval: 5 * time.Second,
		StreamBuffer:   1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Size <= 0 {
		c.Size = def.Size
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.MemoryInterval <= 0 {
		c.MemoryInterval = def.MemoryInterval
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = def.StreamBuffer
	}
	return c
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Workers int
	Idle    int
	Busy    int
	Queued  int
}

// workerSlot is the orchestrator-owned handle for one worker process.
type workerSlot struct {
	id      string
	proc    Proc
	state   State
	task    *TaskHandle
	epoch   uint64 // bumped per timer arm; stale fires are ignored
	timer   *time.Timer
	started time.Time // last dispatch time
}

type inboundMsg struct {
	workerID string
	msg      protocol.Message
}

type workerExit struct {
	workerID string
	status   ExitStatus
}

type timerExpiry struct {
	workerID string
	epoch    uint64
}

// Pool owns N isolated workers and guarantees that one task's failure never
// affects other in-flight tasks.
type Pool struct {
	cfg    Config
	logger *logging.Logger
	store  *errstore.Store
	bus    *events.Bus
	spawn  SpawnFunc

	submitCh chan *TaskHandle
	inbound  chan inboundMsg
	exits    chan workerExit
	expiries chan timerExpiry
	statsCh  chan chan Stats
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  bool

	// control-goroutine state
	workers      map[string]*workerSlot
	queue        []*TaskHandle
	shuttingDown bool
}

// New creates a pool. The store receives every normalized failure; the bus
// receives lifecycle events; spawn creates worker processes (tests inject
// in-memory doubles here).
func New(cfg Config, logger *logging.Logger, store *errstore.Store, bus *events.Bus, spawn SpawnFunc) (*Pool, error) {
	if spawn == nil {
		return nil, fmt.Errorf("pool: spawn function is required")
	}
	if store == nil {
		store = errstore.New()
	}
	if bus == nil {
		bus = events.New(100)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Pool{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		store:    store,
		bus:      bus,
		spawn:    spawn,
		submitCh: make(chan *TaskHandle),
		inbound:  make(chan inboundMsg),
		exits:    make(chan workerExit),
		expiries: make(chan timerExpiry),
		statsCh:  make(chan chan Stats),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		workers:  make(map[string]*workerSlot),
	}, nil
}

// Store returns the error aggregator this pool feeds.
func (p *Pool) Store() *errstore.Store { return p.store }

// Start spawns the initial workers and begins the control loop.
func (p *Pool) Start() error {
	for i := 0; i < p.cfg.Size; i++ {
		if _, err := p.addWorker(); err != nil {
			for _, w := range p.workers {
				w.proc.Kill()
			}
			close(p.doneCh)
			return fmt.Errorf("spawning initial workers: %w", err)
		}
	}
	go p.run()
	return nil
}

// Submit dispatches a task to an idle worker or queues it FIFO. The returned
// handle always yields exactly one terminal outcome. Identical
// (detector, workspace) pairs are not deduplicated.
func (p *Pool) Submit(task Task) *TaskHandle {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	h := newTaskHandle(task, p.cfg.StreamBuffer)

	if !filepath.IsAbs(task.Workspace) {
		p.reject(h, fmt.Sprintf("workspace path %q is not absolute", task.Workspace))
		return h
	}

	select {
	case p.submitCh <- h:
	case <-p.doneCh:
		p.reject(h, "pool is shut down")
	}
	return h
}

// reject resolves a task that never reached a worker. The failure is recorded
// in the store like any other, so no outcome is dropped from the report.
func (p *Pool) reject(h *TaskHandle, message string) {
	e := protocol.Error{
		Detector: h.Task.Detector,
		Code:     protocol.CodeDetectorError,
		Message:  message,
	}
	p.store.Add(errstore.FromProtocolError(e))
	h.finish(e)
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case p.statsCh <- reply:
		return <-reply
	case <-p.doneCh:
		return Stats{}
	}
}

// Shutdown broadcasts Shutdown to all workers, waits up to the grace period
// for them to exit, then force-kills stragglers. It returns once the control
// loop has fully drained or the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	select {
	case p.stopCh <- struct{}{}:
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single control goroutine. Every piece of orchestration state is
// owned here.
func (p *Pool) run() {
	defer close(p.doneCh)

	var memTick <-chan time.Time
	if p.cfg.MemoryLimitMB > 0 {
		ticker := time.NewTicker(p.cfg.MemoryInterval)
		defer ticker.Stop()
		memTick = ticker.C
	}

	stop := p.stopCh
	var graceC <-chan time.Time

	for {
		if p.shuttingDown && len(p.workers) == 0 {
			p.failQueued("pool shut down before task was dispatched")
			return
		}

		select {
		case h := <-p.submitCh:
			if p.shuttingDown {
				p.reject(h, "pool is shutting down")
				continue
			}
			p.bus.Publish(events.NewTaskQueuedEvent(h.Task.ID, h.Task.Detector))
			if w := p.idleWorker(); w != nil {
				p.dispatch(w, h)
			} else {
				p.queue = append(p.queue, h)
			}

		case in := <-p.inbound:
			p.handleInbound(in)

		case ex := <-p.exits:
			p.handleExit(ex)

		case exp := <-p.expiries:
			p.handleExpiry(exp)

		case <-memTick:
			p.checkMemory()

		case reply := <-p.statsCh:
			reply <- p.snapshot()

		case <-stop:
			p.shuttingDown = true
			stop = nil
			p.logger.Info("pool: shutting down", "workers", len(p.workers))
			p.bus.PublishPriority(events.NewPoolShutdownEvent(len(p.workers)))
			for _, w := range p.workers {
				if err := w.proc.Send(protocol.Shutdown{}); err != nil {
					p.logger.Warn("pool: shutdown send failed", "worker_id", w.id, "error", err)
				}
			}
			grace := time.NewTimer(p.cfg.ShutdownGrace)
			defer grace.Stop()
			graceC = grace.C

		case <-graceC:
			graceC = nil
			for _, w := range p.workers {
				p.logger.Warn("pool: force-killing straggler worker", "worker_id", w.id)
				w.proc.Kill()
			}
		}
	}
}

// addWorker spawns one worker and wires its message and exit forwarding.
// Called from Start (before the loop exists) and from the control loop.
func (p *Pool) addWorker() (*workerSlot, error) {
	id := uuid.NewString()
	proc, err := p.spawn(id)
	if err != nil {
		return nil, err
	}

	w := &workerSlot{id: id, proc: proc, state: StateIdle}
	p.workers[id] = w

	// One forwarding goroutine per worker: the exit notification is delivered
	// only after the message channel is drained, so a terminal frame written
	// just before the process died always reaches the control loop first.
	go func() {
		for msg := range proc.Messages() {
			select {
			case p.inbound <- inboundMsg{workerID: id, msg: msg}:
			case <-p.doneCh:
				return
			}
		}
		select {
		case status := <-proc.Exited():
			select {
			case p.exits <- workerExit{workerID: id, status: status}:
			case <-p.doneCh:
			}
		case <-p.doneCh:
		}
	}()

	p.logger.Debug("pool: worker spawned", "worker_id", id, "pid", proc.Pid())
	p.bus.Publish(events.NewWorkerSpawnedEvent(id, proc.Pid()))
	return w, nil
}

func (p *Pool) idleWorker() *workerSlot {
	for _, w := range p.workers {
		if w.state == StateIdle {
			return w
		}
	}
	return nil
}

// dispatch assigns a task to an idle worker and arms its liveness timer.
func (p *Pool) dispatch(w *workerSlot, h *TaskHandle) {
	w.state = StateBusy
	w.task = h
	w.started = time.Now()

	err := w.proc.Send(protocol.Execute{
		Detector:  h.Task.Detector,
		Workspace: h.Task.Workspace,
		Options:   h.Task.Options,
	})
	if err != nil {
		// The pipe is broken, so the process is dead or dying; its exit
		// notification will fail the task through the crash path.
		p.logger.Warn("pool: dispatch write failed", "worker_id", w.id, "error", err)
		w.proc.Kill()
		return
	}

	p.armTimer(w)
	p.logger.Debug("pool: task dispatched",
		"worker_id", w.id, "task_id", h.Task.ID, "detector", h.Task.Detector)
	p.bus.Publish(events.NewTaskDispatchedEvent(w.id, h.Task.ID, h.Task.Detector))
}

// dispatchNext hands the oldest queued task to a worker, if any is waiting.
// During shutdown the queue drains through failQueued instead: a worker with
// a Shutdown frame on its stdin will exit without running anything new.
func (p *Pool) dispatchNext(w *workerSlot) {
	if p.shuttingDown || w == nil || w.state != StateIdle || len(p.queue) == 0 {
		return
	}
	h := p.queue[0]
	p.queue = p.queue[1:]
	p.dispatch(w, h)
}

// armTimer (re)starts the dead-man's-switch for a busy worker. Any inbound
// message resets it; expiry is fatal to the worker, not merely the task.
// The epoch bumps on every arm: a fire from the previous window that is
// already queued behind the reset carries the old epoch and is discarded.
func (p *Pool) armTimer(w *workerSlot) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.epoch++
	if p.cfg.TaskTimeout <= 0 {
		return
	}
	id, epoch := w.id, w.epoch
	w.timer = time.AfterFunc(p.cfg.TaskTimeout, func() {
		select {
		case p.expiries <- timerExpiry{workerID: id, epoch: epoch}:
		case <-p.doneCh:
		}
	})
}

func (p *Pool) stopTimer(w *workerSlot) {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// handleInbound routes a worker message: stream forwarding plus liveness
// reset for non-terminal messages, task resolution for terminal ones.
func (p *Pool) handleInbound(in inboundMsg) {
	w := p.workers[in.workerID]
	if w == nil {
		// A replaced worker's last messages can still be in flight.
		p.logger.Debug("pool: message from unknown worker dropped", "worker_id", in.workerID)
		return
	}
	if w.state != StateBusy || w.task == nil {
		p.logger.Warn("pool: message from non-busy worker dropped",
			"worker_id", w.id, "kind", in.msg.Kind())
		return
	}

	switch m := in.msg.(type) {
	case protocol.Progress, protocol.Issue:
		w.task.send(in.msg)
		p.armTimer(w)

	case protocol.Complete:
		h := w.task
		p.stopTimer(w)
		w.state = StateIdle
		w.task = nil
		h.finish(m)
		p.bus.Publish(events.NewTaskCompletedEvent(w.id, h.Task.ID, m.Detector, m.IssuesCount, m.DurationMs))
		p.dispatchNext(w)

	case protocol.Error:
		h := w.task
		p.stopTimer(w)
		w.state = StateIdle
		w.task = nil
		p.store.Add(errstore.FromProtocolError(m))
		h.finish(m)
		p.bus.PublishPriority(events.NewTaskFailedEvent(w.id, h.Task.ID, m.Detector, string(m.Code)))
		p.dispatchNext(w)

	default:
		p.logger.Warn("pool: unexpected message kind from worker",
			"worker_id", w.id, "kind", in.msg.Kind())
	}
}

// handleExit reaps a worker process. A busy worker exiting is a crash: the
// task fails with a synthesized WORKER_CRASH and the slot is replaced.
func (p *Pool) handleExit(ex workerExit) {
	w := p.workers[ex.workerID]
	if w == nil {
		return // already replaced after a timeout or memory kill
	}
	delete(p.workers, ex.workerID)
	p.stopTimer(w)
	w.state = StateDead

	if w.task != nil {
		h := w.task
		w.task = nil
		code := ex.status.Code
		p.logger.Error("pool: busy worker crashed",
			"worker_id", w.id, "task_id", h.Task.ID, "detector", h.Task.Detector, "exit_code", code)
		p.store.AddWorkerCrashError(h.Task.Detector, code)
		h.finish(protocol.Error{
			Detector: h.Task.Detector,
			Code:     protocol.CodeWorkerCrash,
			Message:  fmt.Sprintf("worker exited unexpectedly with code %d", code),
			Details:  map[string]any{"exitCode": code},
		})
		p.bus.PublishPriority(events.NewWorkerCrashedEvent(w.id, code))
		p.bus.PublishPriority(events.NewTaskFailedEvent(w.id, h.Task.ID, h.Task.Detector, string(protocol.CodeWorkerCrash)))
	} else if !p.shuttingDown {
		p.logger.Warn("pool: idle worker exited unexpectedly",
			"worker_id", w.id, "exit_code", ex.status.Code)
	}

	if !p.shuttingDown {
		p.replaceWorker(w.id, "crash")
	}
}

// handleExpiry enforces the liveness timeout: kill the worker, record a
// TIMEOUT, fail the task, replace the slot.
func (p *Pool) handleExpiry(exp timerExpiry) {
	w := p.workers[exp.workerID]
	if w == nil || w.epoch != exp.epoch || w.state != StateBusy || w.task == nil {
		return // stale fire from a timer that lost the race with a reset
	}

	h := w.task
	elapsed := time.Since(w.started)
	p.logger.Error("pool: worker timed out",
		"worker_id", w.id, "task_id", h.Task.ID, "detector", h.Task.Detector, "elapsed", elapsed)

	p.killBusyWorker(w, protocol.Error{
		Detector: h.Task.Detector,
		Code:     protocol.CodeTimeout,
		Message:  fmt.Sprintf("no message from worker for %v", elapsed.Round(time.Millisecond)),
		Details:  map[string]any{"elapsedMs": elapsed.Milliseconds()},
	}, "timeout")

	p.store.AddTimeoutError(h.Task.Detector, elapsed)
	p.bus.PublishPriority(events.NewWorkerTimeoutEvent(w.id))
	p.bus.PublishPriority(events.NewTaskFailedEvent(w.id, h.Task.ID, h.Task.Detector, string(protocol.CodeTimeout)))
}

// checkMemory samples the RSS of every busy worker and kills any over the
// limit, synthesizing an OOM failure for its task.
func (p *Pool) checkMemory() {
	for _, w := range p.workers {
		if w.state != StateBusy || w.task == nil {
			continue
		}
		rss, err := diagnostics.ProcessRSSMB(w.proc.Pid())
		if err != nil {
			continue // process may be exiting; the exit path handles it
		}
		if rss <= float64(p.cfg.MemoryLimitMB) {
			continue
		}

		h := w.task
		p.logger.Error("pool: worker over memory limit",
			"worker_id", w.id, "detector", h.Task.Detector,
			"rss_mb", int(rss), "limit_mb", p.cfg.MemoryLimitMB)

		p.killBusyWorker(w, protocol.Error{
			Detector: h.Task.Detector,
			Code:     protocol.CodeOOM,
			Message:  fmt.Sprintf("worker resident memory %.0f MB exceeded the %d MB limit", rss, p.cfg.MemoryLimitMB),
			Details:  map[string]any{"rssMb": rss, "limitMb": p.cfg.MemoryLimitMB},
		}, "memory limit")

		p.store.Add(errstore.NormalizedError{
			Detector: h.Task.Detector,
			Code:     protocol.CodeOOM,
			Message:  fmt.Sprintf("worker killed at %.0f MB resident (limit %d MB)", rss, p.cfg.MemoryLimitMB),
			Details:  map[string]any{"rssMb": rss, "limitMb": p.cfg.MemoryLimitMB},
		})
		p.bus.PublishPriority(events.NewTaskFailedEvent(w.id, h.Task.ID, h.Task.Detector, string(protocol.CodeOOM)))
	}
}

// killBusyWorker terminates a busy worker, fails its task with the given
// terminal, removes the slot, and spawns a replacement.
func (p *Pool) killBusyWorker(w *workerSlot, terminal protocol.Error, reason string) {
	h := w.task
	w.task = nil
	w.state = StateDead
	p.stopTimer(w)
	delete(p.workers, w.id)
	w.proc.Kill()

	h.finish(terminal)

	if !p.shuttingDown {
		p.replaceWorker(w.id, reason)
	}
}

// replaceWorker refills a dead slot and resumes dispatch.
func (p *Pool) replaceWorker(deadID, reason string) {
	replacement, err := p.addWorker()
	if err != nil {
		// Capacity shrinks until the next replacement opportunity; queued
		// tasks stay queued rather than failing spuriously.
		p.logger.Error("pool: spawning replacement worker failed", "error", err)
		return
	}
	p.logger.Info("pool: worker replaced",
		"dead_worker_id", deadID, "worker_id", replacement.id, "reason", reason)
	p.bus.Publish(events.NewWorkerReplacedEvent(deadID, reason))
	p.dispatchNext(replacement)
}

// failQueued resolves tasks that never got dispatched before shutdown.
func (p *Pool) failQueued(reason string) {
	for _, h := range p.queue {
		p.reject(h, reason)
	}
	p.queue = nil
}

func (p *Pool) snapshot() Stats {
	s := Stats{Workers: len(p.workers), Queued: len(p.queue)}
	for _, w := range p.workers {
		switch w.state {
		case StateIdle:
			s.Idle++
		case StateBusy:
			s.Busy++
		}
	}
	return s
}
