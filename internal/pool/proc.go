package pool

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/odavlstudio/insight/internal/logging"
	"github.com/odavlstudio/insight/internal/protocol"
)

// ExitStatus describes how a worker process ended.
type ExitStatus struct {
	Code int
	Err  error
}

// Proc is the pool's view of one worker execution context. The process
// implementation below is the production one; tests substitute in-memory
// doubles.
type Proc interface {
	// Send writes one message to the worker.
	Send(m protocol.Message) error
	// Messages yields decoded frames from the worker; it closes when the
	// worker's output stream ends.
	Messages() <-chan protocol.Message
	// Exited yields the exit status once, after the process is gone.
	Exited() <-chan ExitStatus
	// Kill forcibly terminates the worker and its process group.
	Kill()
	// Pid identifies the OS process for diagnostics sampling.
	Pid() int
}

// SpawnFunc creates a worker execution context for a slot id.
type SpawnFunc func(id string) (Proc, error)

// ProcOptions configures process-backed workers.
type ProcOptions struct {
	// Binary to execute; defaults to the current executable, which carries
	// the worker loop as a hidden subcommand.
	Binary string
	// Args precede the generated worker arguments (e.g. a config path).
	Args []string
	// Verbose is forwarded to the worker process.
	Verbose bool
	// KillGrace is the SIGTERM-to-SIGKILL escalation window.
	KillGrace time.Duration
	Logger    *logging.Logger
}

// NewSpawner returns a SpawnFunc that runs `<binary> worker --id <id>` with
// its own process group, NDJSON protocol on stdin/stdout, and stderr passed
// through for worker logs.
func NewSpawner(opts ProcOptions) SpawnFunc {
	if opts.KillGrace <= 0 {
		opts.KillGrace = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return func(id string) (Proc, error) {
		binary := opts.Binary
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("resolving worker binary: %w", err)
			}
			binary = exe
		}

		args := append([]string{}, opts.Args...)
		args = append(args, "worker", "--id", id)
		if opts.Verbose {
			args = append(args, "--verbose")
		}

		// #nosec G204 -- the binary is our own executable and args are generated
		cmd := exec.Command(binary, args...)
		cmd.Stderr = os.Stderr
		configureProcAttr(cmd)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("creating worker stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			_ = stdin.Close()
			return nil, fmt.Errorf("creating worker stdout pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			_ = stdin.Close()
			_ = stdout.Close()
			return nil, fmt.Errorf("starting worker process: %w", err)
		}

		w := &procWorker{
			id:        id,
			cmd:       cmd,
			stdin:     stdin,
			enc:       protocol.NewEncoder(stdin),
			msgs:      make(chan protocol.Message, 64),
			exited:    make(chan ExitStatus, 1),
			pumpDone:  make(chan struct{}),
			killGrace: opts.KillGrace,
			logger:    opts.Logger.WithWorker(id),
		}
		go w.pump(stdout)
		go w.wait()
		return w, nil
	}
}

// procWorker is the production Proc backed by a child process.
type procWorker struct {
	id        string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	enc       *protocol.Encoder
	msgs      chan protocol.Message
	exited    chan ExitStatus
	pumpDone  chan struct{}
	killGrace time.Duration
	killOnce  sync.Once
	logger    *logging.Logger
}

func (w *procWorker) Send(m protocol.Message) error {
	return w.enc.Encode(m)
}

func (w *procWorker) Messages() <-chan protocol.Message { return w.msgs }

func (w *procWorker) Exited() <-chan ExitStatus { return w.exited }

func (w *procWorker) Pid() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// Kill terminates the worker's whole process group so detector-spawned
// subprocesses die with it.
func (w *procWorker) Kill() {
	w.killOnce.Do(func() {
		terminateGroup(w.Pid(), w.killGrace)
	})
}

// pump decodes frames from the worker's stdout until the stream ends.
func (w *procWorker) pump(stdout io.Reader) {
	defer close(w.pumpDone)
	defer close(w.msgs)
	dec := protocol.NewDecoder(stdout)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if err != io.EOF {
				w.logger.Debug("worker output stream ended", "error", err)
			}
			return
		}
		w.msgs <- msg
	}
}

// wait reaps the process and publishes its exit status exactly once. Wait
// closes the stdout pipe, so the pump must finish reading first or the
// worker's final frames would be cut off mid-stream.
func (w *procWorker) wait() {
	<-w.pumpDone
	err := w.cmd.Wait()
	code := 0
	if w.cmd.ProcessState != nil {
		code = w.cmd.ProcessState.ExitCode()
	}
	_ = w.stdin.Close()
	w.exited <- ExitStatus{Code: code, Err: err}
}
