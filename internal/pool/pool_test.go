package pool

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/odavlstudio/insight/internal/errstore"
	"github.com/odavlstudio/insight/internal/logging"
	"github.com/odavlstudio/insight/internal/protocol"
)

// behavior scripts one fake worker's reaction to an Execute frame. It runs
// on its own goroutine, like a real child process would.
type behavior func(f *fakeProc, ex protocol.Execute)

// fakeProc is an in-memory worker double driven by a scripted behavior.
type fakeProc struct {
	id             string
	pid            int
	behavior       behavior
	ignoreShutdown bool

	msgs   chan protocol.Message
	exited chan ExitStatus

	mu     sync.Mutex
	recv   []protocol.Message
	dead   bool
	killed bool
}

func (f *fakeProc) Send(m protocol.Message) error {
	f.mu.Lock()
	f.recv = append(f.recv, m)
	ignore := f.ignoreShutdown
	b := f.behavior
	f.mu.Unlock()

	switch v := m.(type) {
	case protocol.Execute:
		if b != nil {
			go b(f, v)
		}
	case protocol.Shutdown:
		if !ignore {
			go f.exit(0)
		}
	}
	return nil
}

func (f *fakeProc) Messages() <-chan protocol.Message { return f.msgs }
func (f *fakeProc) Exited() <-chan ExitStatus         { return f.exited }
func (f *fakeProc) Pid() int                          { return f.pid }

func (f *fakeProc) Kill() {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.exit(-1)
}

// emit sends a frame to the pool, unless the process is already gone.
func (f *fakeProc) emit(m protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return
	}
	f.msgs <- m
}

// exit terminates the fake process exactly once.
func (f *fakeProc) exit(code int) {
	f.mu.Lock()
	if f.dead {
		f.mu.Unlock()
		return
	}
	f.dead = true
	f.mu.Unlock()

	close(f.msgs)
	f.exited <- ExitStatus{Code: code}
}

func (f *fakeProc) received() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, len(f.recv))
	copy(out, f.recv)
	return out
}

// fakeSpawner hands out fake procs, assigning the i-th scripted behavior to
// the i-th spawned worker (the last behavior repeats for replacements).
type fakeSpawner struct {
	mu        sync.Mutex
	behaviors []behavior
	pid       int
	ignore    bool
	spawned   []*fakeProc
}

func (s *fakeSpawner) spawn(id string) (Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b behavior
	if n := len(s.behaviors); n > 0 {
		if len(s.spawned) < n {
			b = s.behaviors[len(s.spawned)]
		} else {
			b = s.behaviors[n-1]
		}
	}
	f := &fakeProc{
		id:             id,
		pid:            s.pid,
		behavior:       b,
		ignoreShutdown: s.ignore,
		msgs:           make(chan protocol.Message, 64),
		exited:         make(chan ExitStatus, 1),
	}
	s.spawned = append(s.spawned, f)
	return f, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned[i]
}

// completeWith streams count issues and completes, mimicking a healthy
// detector run.
func completeWith(count int) behavior {
	return func(f *fakeProc, ex protocol.Execute) {
		for i := 0; i < count; i++ {
			f.emit(protocol.Progress{Detector: ex.Detector, Processed: i + 1, Total: count})
			f.emit(protocol.Issue{Detector: ex.Detector, Payload: json.RawMessage(`{"n":1}`)})
		}
		f.emit(protocol.Complete{Detector: ex.Detector, IssuesCount: count, DurationMs: 1})
	}
}

// crashWith exits abnormally without a terminal frame.
func crashWith(code int) behavior {
	return func(f *fakeProc, _ protocol.Execute) {
		f.exit(code)
	}
}

// silent never responds; used to trigger liveness timeouts.
func silent(_ *fakeProc, _ protocol.Execute) {}

func newTestPool(t *testing.T, cfg Config, s *fakeSpawner) *Pool {
	t.Helper()
	p, err := New(cfg, logging.NewNop(), errstore.New(), nil, s.spawn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func waitTerminal(t *testing.T, h *TaskHandle) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	m, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return m
}

func TestPoolCompletesTask(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{completeWith(3)}}
	p := newTestPool(t, Config{Size: 1}, s)

	h := p.Submit(Task{Detector: "todo", Workspace: "/tmp/ws"})

	var progress, issues, terminals int
	for m := range h.Events() {
		switch m.(type) {
		case protocol.Progress:
			progress++
		case protocol.Issue:
			issues++
		case protocol.Complete, protocol.Error:
			terminals++
		}
	}
	if progress != 3 || issues != 3 {
		t.Errorf("forwarded %d progress, %d issues; want 3 and 3", progress, issues)
	}
	if terminals != 1 {
		t.Errorf("got %d terminal frames, want exactly 1", terminals)
	}

	m := waitTerminal(t, h)
	c, ok := m.(protocol.Complete)
	if !ok {
		t.Fatalf("terminal = %T, want Complete", m)
	}
	if c.IssuesCount != 3 {
		t.Errorf("IssuesCount = %d, want 3", c.IssuesCount)
	}
	if h.Task.ID == "" {
		t.Error("Submit did not assign a task id")
	}
	if p.Store().TotalErrorCount() != 0 {
		t.Errorf("store has %d errors, want 0", p.Store().TotalErrorCount())
	}
}

func TestPoolFIFOOrder(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{completeWith(0)}}
	p := newTestPool(t, Config{Size: 1}, s)

	h1 := p.Submit(Task{Detector: "a", Workspace: "/tmp/ws"})
	h2 := p.Submit(Task{Detector: "b", Workspace: "/tmp/ws"})
	h3 := p.Submit(Task{Detector: "c", Workspace: "/tmp/ws"})
	waitTerminal(t, h1)
	waitTerminal(t, h2)
	waitTerminal(t, h3)

	var order []string
	for _, m := range s.proc(0).received() {
		if ex, ok := m.(protocol.Execute); ok {
			order = append(order, ex.Detector)
		}
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("dispatch order = %v, want [a b c]", order)
	}
	if s.count() != 1 {
		t.Errorf("spawned %d workers, want 1 (no replacement for healthy worker)", s.count())
	}
}

func TestPoolRejectsRelativeWorkspace(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{completeWith(0)}}
	p := newTestPool(t, Config{Size: 1}, s)

	h := p.Submit(Task{Detector: "todo", Workspace: "relative/path"})
	m := waitTerminal(t, h)
	e, ok := m.(protocol.Error)
	if !ok {
		t.Fatalf("terminal = %T, want Error", m)
	}
	if e.Code != protocol.CodeDetectorError {
		t.Errorf("Code = %v, want %v", e.Code, protocol.CodeDetectorError)
	}

	errs := p.Store().ErrorsByDetector("todo")
	if len(errs) != 1 || errs[0].Code != protocol.CodeDetectorError {
		t.Fatalf("store records = %+v, want one DETECTOR_ERROR for the rejection", errs)
	}
}

func TestPoolTimeoutKillsAndReplaces(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{silent, completeWith(0)}}
	p := newTestPool(t, Config{Size: 1, TaskTimeout: 30 * time.Millisecond}, s)

	h := p.Submit(Task{Detector: "slow", Workspace: "/tmp/ws"})
	m := waitTerminal(t, h)

	e, ok := m.(protocol.Error)
	if !ok {
		t.Fatalf("terminal = %T, want Error", m)
	}
	if e.Code != protocol.CodeTimeout {
		t.Errorf("Code = %v, want %v", e.Code, protocol.CodeTimeout)
	}
	if _, ok := e.Details["elapsedMs"]; !ok {
		t.Error("timeout terminal missing elapsedMs detail")
	}

	errs := p.Store().ErrorsByDetector("slow")
	if len(errs) != 1 || errs[0].Code != protocol.CodeTimeout {
		t.Fatalf("store records = %+v, want one TIMEOUT", errs)
	}
	if errs[0].Severity != errstore.SeverityHigh {
		t.Errorf("Severity = %v, want high", errs[0].Severity)
	}

	// The hung worker must be killed and its slot refilled.
	h2 := p.Submit(Task{Detector: "ok", Workspace: "/tmp/ws"})
	if _, ok := waitTerminal(t, h2).(protocol.Complete); !ok {
		t.Error("replacement worker did not serve the next task")
	}
	if s.count() != 2 {
		t.Errorf("spawned %d workers, want 2", s.count())
	}
	if !s.proc(0).killed {
		t.Error("timed-out worker was not killed")
	}
}

func TestPoolProgressResetsTimeout(t *testing.T) {
	// Emits progress every 20ms against a 60ms liveness window, then
	// completes after 5 beats. Liveness is per-message, not per-task.
	beat := func(f *fakeProc, ex protocol.Execute) {
		for i := 1; i <= 5; i++ {
			time.Sleep(20 * time.Millisecond)
			f.emit(protocol.Progress{Detector: ex.Detector, Processed: i, Total: 5})
		}
		f.emit(protocol.Complete{Detector: ex.Detector, IssuesCount: 0, DurationMs: 100})
	}
	s := &fakeSpawner{behaviors: []behavior{beat}}
	p := newTestPool(t, Config{Size: 1, TaskTimeout: 60 * time.Millisecond}, s)

	h := p.Submit(Task{Detector: "steady", Workspace: "/tmp/ws"})
	if _, ok := waitTerminal(t, h).(protocol.Complete); !ok {
		t.Error("task with steady progress was timed out")
	}
	if p.Store().TotalErrorCount() != 0 {
		t.Errorf("store has %d errors, want 0", p.Store().TotalErrorCount())
	}
}

func TestPoolStaleExpiryAfterResetIsIgnored(t *testing.T) {
	// A timer fire can already be queued behind a liveness reset when the
	// deadline and a Progress message land together. The reset must win: a
	// worker that just produced a message is alive.
	s := &fakeSpawner{}
	p, err := New(Config{Size: 1, TaskTimeout: time.Hour},
		logging.NewNop(), errstore.New(), nil, s.spawn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w, err := p.addWorker()
	if err != nil {
		t.Fatalf("addWorker() error = %v", err)
	}

	h := newTaskHandle(Task{Detector: "steady", Workspace: "/tmp/ws"}, 8)
	p.dispatch(w, h)
	stale := w.epoch

	p.handleInbound(inboundMsg{
		workerID: w.id,
		msg:      protocol.Progress{Detector: "steady", Processed: 1, Total: 2},
	})
	p.handleExpiry(timerExpiry{workerID: w.id, epoch: stale})

	if w.state != StateBusy {
		t.Errorf("worker state = %v, want busy (stale expiry must not kill)", w.state)
	}
	if s.proc(0).killed {
		t.Error("worker was killed by an expiry from before the reset")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if m, err := h.Wait(ctx); err == nil {
		t.Fatalf("task resolved with %T after a stale expiry, want still running", m)
	}
	if n := p.Store().TotalErrorCount(); n != 0 {
		t.Errorf("store has %d errors, want 0", n)
	}
}

func TestPoolCompleteBeatsExitNotification(t *testing.T) {
	// The worker writes its terminal frame and exits right after, which is
	// the normal sequence when a Shutdown is queued behind an Execute. The
	// Complete must resolve the task; the clean exit is not a crash.
	b := func(f *fakeProc, ex protocol.Execute) {
		f.emit(protocol.Complete{Detector: ex.Detector, IssuesCount: 2, DurationMs: 5})
		f.exit(0)
	}
	s := &fakeSpawner{behaviors: []behavior{b}, ignore: true}
	p := newTestPool(t, Config{Size: 1, ShutdownGrace: 20 * time.Millisecond}, s)

	h := p.Submit(Task{Detector: "first", Workspace: "/tmp/ws"})
	m := waitTerminal(t, h)
	c, ok := m.(protocol.Complete)
	if !ok {
		t.Fatalf("terminal = %+v, want Complete", m)
	}
	if c.IssuesCount != 2 {
		t.Errorf("IssuesCount = %d, want 2", c.IssuesCount)
	}
	if n := p.Store().TotalErrorCount(); n != 0 {
		t.Errorf("store has %d errors, want 0 (exit after Complete is not a crash)", n)
	}
}

func TestPoolCrashFailsTaskAndDrainsQueue(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{crashWith(3), completeWith(0)}}
	p := newTestPool(t, Config{Size: 1}, s)

	h1 := p.Submit(Task{Detector: "crashy", Workspace: "/tmp/ws"})
	h2 := p.Submit(Task{Detector: "b", Workspace: "/tmp/ws"})
	h3 := p.Submit(Task{Detector: "c", Workspace: "/tmp/ws"})

	m := waitTerminal(t, h1)
	e, ok := m.(protocol.Error)
	if !ok {
		t.Fatalf("terminal = %T, want Error", m)
	}
	if e.Code != protocol.CodeWorkerCrash {
		t.Errorf("Code = %v, want %v", e.Code, protocol.CodeWorkerCrash)
	}
	if e.Details["exitCode"] != 3 {
		t.Errorf("exitCode detail = %v, want 3", e.Details["exitCode"])
	}

	// Queued tasks continue on the replacement worker.
	if _, ok := waitTerminal(t, h2).(protocol.Complete); !ok {
		t.Error("queued task b did not complete after crash")
	}
	if _, ok := waitTerminal(t, h3).(protocol.Complete); !ok {
		t.Error("queued task c did not complete after crash")
	}

	errs := p.Store().ErrorsByDetector("crashy")
	if len(errs) != 1 || errs[0].Code != protocol.CodeWorkerCrash {
		t.Fatalf("store records = %+v, want one WORKER_CRASH", errs)
	}
	if errs[0].Severity != errstore.SeverityCritical {
		t.Errorf("Severity = %v, want critical", errs[0].Severity)
	}
	if s.count() != 2 {
		t.Errorf("spawned %d workers, want 2", s.count())
	}
}

func TestPoolWorkerErrorKeepsWorker(t *testing.T) {
	// First Execute fails with a detector-reported error, second completes.
	// A reported failure is not a crash; the worker stays in the pool.
	var calls int
	var mu sync.Mutex
	b := func(f *fakeProc, ex protocol.Execute) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			f.emit(protocol.Error{Detector: ex.Detector, Code: protocol.CodeToolError, Message: "eslint exited 2"})
			return
		}
		f.emit(protocol.Complete{Detector: ex.Detector, IssuesCount: 0, DurationMs: 1})
	}
	s := &fakeSpawner{behaviors: []behavior{b}}
	p := newTestPool(t, Config{Size: 1}, s)

	h1 := p.Submit(Task{Detector: "linter", Workspace: "/tmp/ws"})
	m := waitTerminal(t, h1)
	e, ok := m.(protocol.Error)
	if !ok {
		t.Fatalf("terminal = %T, want Error", m)
	}
	if e.Code != protocol.CodeToolError {
		t.Errorf("Code = %v, want %v", e.Code, protocol.CodeToolError)
	}

	errs := p.Store().ErrorsByDetector("linter")
	if len(errs) != 1 || errs[0].Severity != errstore.SeverityMedium {
		t.Fatalf("store records = %+v, want one medium TOOL_ERROR", errs)
	}

	h2 := p.Submit(Task{Detector: "linter", Workspace: "/tmp/ws"})
	if _, ok := waitTerminal(t, h2).(protocol.Complete); !ok {
		t.Error("worker was not reused after a reported error")
	}
	if s.count() != 1 {
		t.Errorf("spawned %d workers, want 1 (reported errors keep the worker)", s.count())
	}
}

func TestPoolMemoryLimitKillsWorker(t *testing.T) {
	// The fake reports the test binary's own pid, whose RSS is far above a
	// 1 MB limit, so the watchdog fires on its first tick.
	s := &fakeSpawner{behaviors: []behavior{silent, completeWith(0)}, pid: os.Getpid()}
	p := newTestPool(t, Config{
		Size:           1,
		MemoryLimitMB:  1,
		MemoryInterval: 10 * time.Millisecond,
	}, s)

	h := p.Submit(Task{Detector: "hungry", Workspace: "/tmp/ws"})
	m := waitTerminal(t, h)
	e, ok := m.(protocol.Error)
	if !ok {
		t.Fatalf("terminal = %T, want Error", m)
	}
	if e.Code != protocol.CodeOOM {
		t.Errorf("Code = %v, want %v", e.Code, protocol.CodeOOM)
	}

	errs := p.Store().ErrorsByDetector("hungry")
	if len(errs) != 1 || errs[0].Code != protocol.CodeOOM {
		t.Fatalf("store records = %+v, want one OOM", errs)
	}
	if !s.proc(0).killed {
		t.Error("over-limit worker was not killed")
	}
}

func TestPoolStats(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{completeWith(0)}}
	p := newTestPool(t, Config{Size: 2}, s)

	st := p.Stats()
	if st.Workers != 2 || st.Idle != 2 || st.Busy != 0 || st.Queued != 0 {
		t.Errorf("Stats = %+v, want 2 idle workers", st)
	}
}

func TestPoolGracefulShutdown(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{completeWith(0)}}
	p, err := New(Config{Size: 2}, logging.NewNop(), errstore.New(), nil, s.spawn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for i := 0; i < s.count(); i++ {
		got := false
		for _, m := range s.proc(i).received() {
			if _, ok := m.(protocol.Shutdown); ok {
				got = true
			}
		}
		if !got {
			t.Errorf("worker %d never received Shutdown", i)
		}
	}

	// Submissions after shutdown fail immediately.
	h := p.Submit(Task{Detector: "late", Workspace: "/tmp/ws"})
	m := waitTerminal(t, h)
	if e, ok := m.(protocol.Error); !ok || e.Code != protocol.CodeDetectorError {
		t.Errorf("post-shutdown terminal = %+v, want DETECTOR_ERROR", m)
	}

	// Shutdown is idempotent.
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestPoolShutdownFailsQueuedAndKillsStragglers(t *testing.T) {
	// One hung worker that ignores Shutdown, one queued task that never
	// dispatches. The grace window expires, the straggler is killed, the
	// queued task fails.
	s := &fakeSpawner{behaviors: []behavior{silent}, ignore: true}
	p, err := New(Config{Size: 1, ShutdownGrace: 30 * time.Millisecond},
		logging.NewNop(), errstore.New(), nil, s.spawn)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	hBusy := p.Submit(Task{Detector: "hung", Workspace: "/tmp/ws"})
	hQueued := p.Submit(Task{Detector: "waiting", Workspace: "/tmp/ws"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	m := waitTerminal(t, hBusy)
	if e, ok := m.(protocol.Error); !ok || e.Code != protocol.CodeWorkerCrash {
		t.Errorf("hung task terminal = %+v, want WORKER_CRASH", m)
	}

	m = waitTerminal(t, hQueued)
	if e, ok := m.(protocol.Error); !ok || e.Code != protocol.CodeDetectorError {
		t.Errorf("queued task terminal = %+v, want DETECTOR_ERROR", m)
	}
	if !s.proc(0).killed {
		t.Error("straggler worker was not force-killed")
	}
}

func TestPoolShutdownStopsDispatch(t *testing.T) {
	// One worker busy when shutdown begins, one task still queued. The
	// worker finishes its task and exits on the Shutdown already sitting in
	// its stdin; the queued task must drain as never-dispatched instead of
	// riding a dying worker into a crash.
	release := make(chan struct{})
	b := func(f *fakeProc, ex protocol.Execute) {
		<-release
		f.emit(protocol.Complete{Detector: ex.Detector, IssuesCount: 0, DurationMs: 1})
		f.exit(0)
	}
	s := &fakeSpawner{behaviors: []behavior{b}, ignore: true}
	p := newTestPool(t, Config{Size: 1, ShutdownGrace: time.Second}, s)

	hBusy := p.Submit(Task{Detector: "busy", Workspace: "/tmp/ws"})
	hQueued := p.Submit(Task{Detector: "waiting", Workspace: "/tmp/ws"})

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownDone <- p.Shutdown(ctx)
	}()
	time.Sleep(30 * time.Millisecond) // let the Shutdown broadcast land
	close(release)
	if err := <-shutdownDone; err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if _, ok := waitTerminal(t, hBusy).(protocol.Complete); !ok {
		t.Error("in-flight task did not complete during shutdown")
	}
	m := waitTerminal(t, hQueued)
	if e, ok := m.(protocol.Error); !ok || e.Code != protocol.CodeDetectorError {
		t.Errorf("queued task terminal = %+v, want DETECTOR_ERROR", m)
	}

	var executes []string
	for _, msg := range s.proc(0).received() {
		if ex, ok := msg.(protocol.Execute); ok {
			executes = append(executes, ex.Detector)
		}
	}
	if len(executes) != 1 || executes[0] != "busy" {
		t.Errorf("Execute frames = %v, want only the pre-shutdown task", executes)
	}
	if s.count() != 1 {
		t.Errorf("spawned %d workers, want 1 (no replacement during shutdown)", s.count())
	}

	errs := p.Store().ErrorsByDetector("waiting")
	if len(errs) != 1 || errs[0].Code != protocol.CodeDetectorError {
		t.Fatalf("store records = %+v, want one DETECTOR_ERROR for the queued task", errs)
	}
}

func TestTaskHandleDropsUnderBackpressure(t *testing.T) {
	h := newTaskHandle(Task{Detector: "noisy"}, 2)

	for i := 0; i < 10; i++ {
		h.send(protocol.Progress{Detector: "noisy", Processed: i, Total: 10})
	}
	if h.Dropped() == 0 {
		t.Error("expected drops with a full buffer and no consumer")
	}

	h.finish(protocol.Complete{Detector: "noisy", IssuesCount: 10})
	m := waitTerminal(t, h)
	if _, ok := m.(protocol.Complete); !ok {
		t.Errorf("terminal = %T, want Complete despite full buffer", m)
	}

	// A consumer ranging the stream must still see the terminal: drops may
	// eat Progress, never the outcome.
	var last protocol.Message
	for ev := range h.Events() {
		last = ev
	}
	if c, ok := last.(protocol.Complete); !ok || c.IssuesCount != 10 {
		t.Errorf("stream ended with %+v, want the Complete terminal", last)
	}

	// Later terminals must lose.
	if h.finish(protocol.Error{Detector: "noisy", Code: protocol.CodeTimeout}) {
		t.Error("second finish() reported success")
	}
	if c, _ := waitTerminal(t, h).(protocol.Complete); c.IssuesCount != 10 {
		t.Error("terminal changed after duplicate finish")
	}
}

func TestPoolSubmitAssignsUniqueIDs(t *testing.T) {
	s := &fakeSpawner{behaviors: []behavior{completeWith(0)}}
	p := newTestPool(t, Config{Size: 1}, s)

	h1 := p.Submit(Task{Detector: "a", Workspace: "/tmp/ws"})
	h2 := p.Submit(Task{Detector: "a", Workspace: "/tmp/ws"})
	waitTerminal(t, h1)
	waitTerminal(t, h2)

	if h1.Task.ID == h2.Task.ID {
		t.Error("identical submissions share a task id")
	}
}
