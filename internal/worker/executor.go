// Package worker implements the executor loop that runs inside each isolated
// worker process. It reads protocol frames from stdin, runs one detector per
// Execute message, streams results to stdout, and classifies failures. A
// panic escaping the loop is deliberately not recovered: a worker in an
// inconsistent state is not trusted with further tasks, and the orchestrator
// observes the abnormal exit instead.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/odavlstudio/insight/internal/detector"
	"github.com/odavlstudio/insight/internal/logging"
	"github.com/odavlstudio/insight/internal/protocol"
)

// Executor hosts detector execution for one worker process. The worker id
// and verbosity arrive as spawn parameters and live as long as the process.
type Executor struct {
	id       string
	registry *detector.Registry
	logger   *logging.Logger
	enc      *protocol.Encoder
}

// NewExecutor creates an executor with an injected detector registry.
func NewExecutor(id string, registry *detector.Registry, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		id:       id,
		registry: registry,
		logger:   logger.WithWorker(id),
	}
}

// Run processes inbound messages until Shutdown arrives or the inbound
// stream ends. Tasks run strictly one at a time; each Execute yields exactly
// one terminal Complete or Error frame.
func (e *Executor) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	e.enc = protocol.NewEncoder(out)
	dec := protocol.NewDecoder(in)

	e.logger.Info("worker: ready")

	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			// Orchestrator closed our stdin; nothing more is coming.
			e.logger.Info("worker: input closed, exiting")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading inbound frame: %w", err)
		}

		switch m := msg.(type) {
		case protocol.Execute:
			e.execute(ctx, m)
		case protocol.Shutdown:
			e.logger.Info("worker: shutdown requested")
			return nil
		default:
			e.logger.Warn("worker: unexpected inbound message", "kind", msg.Kind())
		}
	}
}

// execute runs one detector task end to end.
func (e *Executor) execute(ctx context.Context, msg protocol.Execute) {
	start := time.Now()
	log := e.logger.WithDetector(msg.Detector)
	log.Info("worker: task started", "workspace", msg.Workspace)

	factory, ok := e.registry.Lookup(msg.Detector)
	if !ok {
		e.fail(log, msg.Detector, protocol.CodeDetectorNotFound,
			fmt.Sprintf("detector %q is not registered", msg.Detector), nil)
		return
	}

	det, err := factory(msg.Workspace)
	if err != nil {
		e.fail(log, msg.Detector, protocol.CodeInvalidDetector,
			fmt.Sprintf("constructing detector %q: %v", msg.Detector, err), nil)
		return
	}
	if det == nil {
		e.fail(log, msg.Detector, protocol.CodeInvalidDetector,
			fmt.Sprintf("detector %q factory returned no instance", msg.Detector), nil)
		return
	}

	issues, err := det.Detect(ctx, msg.Options)
	if err != nil {
		code := ClassifyCode(err)
		e.fail(log, msg.Detector, code, err.Error(), nil)
		return
	}

	// Serialize the whole result set before streaming anything, so a bad
	// payload yields a single Error with no partial Issue stream.
	payloads := make([]json.RawMessage, len(issues))
	for i, issue := range issues {
		raw, err := json.Marshal(issue)
		if err != nil {
			e.fail(log, msg.Detector, protocol.CodeInvalidDetectorResult,
				fmt.Sprintf("detector %q returned a non-serializable result at index %d: %v", msg.Detector, i, err), nil)
			return
		}
		payloads[i] = raw
	}

	total := len(payloads)
	for i, raw := range payloads {
		n := i + 1
		// Progress at the first item, every 10th after, and always the last:
		// bounds message volume while keeping a liveness signal flowing.
		if n == 1 || (n-1)%10 == 0 || n == total {
			e.send(protocol.Progress{Detector: msg.Detector, Processed: n, Total: total})
		}
		e.send(protocol.Issue{Detector: msg.Detector, Payload: raw})
	}

	durationMs := time.Since(start).Milliseconds()
	e.send(protocol.Complete{Detector: msg.Detector, IssuesCount: total, DurationMs: durationMs})
	log.Info("worker: task completed", "issues", total, "duration_ms", durationMs)
}

func (e *Executor) fail(log *logging.Logger, detector string, code protocol.Code, message string, details map[string]any) {
	log.Warn("worker: task failed", "code", code, "error", message)
	e.send(protocol.Error{Detector: detector, Code: code, Message: message, Details: details})
}

func (e *Executor) send(m protocol.Message) {
	if err := e.enc.Encode(m); err != nil {
		// stdout is gone, so the orchestrator is gone; nothing sensible can
		// run in this process anymore.
		panic(fmt.Sprintf("worker %s: writing to orchestrator: %v", e.id, err))
	}
}
