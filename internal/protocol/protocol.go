// Package protocol defines the message shapes exchanged between the pool
// orchestrator and worker processes. Messages travel as newline-delimited
// JSON: Execute and Shutdown flow to the worker, Progress, Issue, Complete
// and Error flow back. The package only defines shapes and the type
// discriminant; it carries no retry or validation logic.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind is the wire discriminant carried in every message's "type" field.
type Kind string

const (
	KindExecute  Kind = "execute"
	KindProgress Kind = "progress"
	KindIssue    Kind = "issue"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
	KindShutdown Kind = "shutdown"
)

// Code enumerates the failure codes a task can terminate with, regardless
// of whether the worker reported the failure itself or the orchestrator
// synthesized it.
type Code string

const (
	CodeDetectorNotFound      Code = "DETECTOR_NOT_FOUND"
	CodeInvalidDetector       Code = "INVALID_DETECTOR"
	CodeInvalidDetectorResult Code = "INVALID_DETECTOR_RESULT"
	CodeTimeout               Code = "TIMEOUT"
	CodeEISDIR                Code = "EISDIR"
	CodeOOM                   Code = "OOM"
	CodeDetectorError         Code = "DETECTOR_ERROR"
	CodeWorkerCrash           Code = "WORKER_CRASH"
	CodeToolError             Code = "TOOL_ERROR"
)

// Message is one protocol frame.
type Message interface {
	Kind() Kind
}

// Execute instructs a worker to run one detector. Workspace must be an
// absolute path.
type Execute struct {
	Detector  string
	Workspace string
	Options   map[string]any
}

func (Execute) Kind() Kind { return KindExecute }

// Progress paces message emission while a detector's precomputed result set
// is streamed. Total is fixed once the full result count is known.
type Progress struct {
	Detector  string
	Processed int
	Total     int
}

func (Progress) Kind() Kind { return KindProgress }

// Issue carries one finding. The payload is detector-owned and opaque; it is
// forwarded verbatim and never inspected.
type Issue struct {
	Detector string
	Payload  json.RawMessage
}

func (Issue) Kind() Kind { return KindIssue }

// Complete is the success terminal for a task. DurationMs is worker-local
// wall clock from task start to completion, excluding queueing time.
type Complete struct {
	Detector    string
	IssuesCount int
	DurationMs  int64
}

func (Complete) Kind() Kind { return KindComplete }

// Error is the failure terminal for a task.
type Error struct {
	Detector string
	Code     Code
	Message  string
	Details  map[string]any
}

func (Error) Kind() Kind { return KindError }

// Shutdown asks a worker to exit once its current task (if any) finishes.
// It has no payload.
type Shutdown struct{}

func (Shutdown) Kind() Kind { return KindShutdown }

// wire is the single envelope all message kinds serialize through. Counter
// fields are pointers so a legitimate zero survives omitempty.
type wire struct {
	Type        Kind            `json:"type"`
	Detector    string          `json:"detector,omitempty"`
	Workspace   string          `json:"workspace,omitempty"`
	Options     map[string]any  `json:"options,omitempty"`
	Processed   *int            `json:"processed,omitempty"`
	Total       *int            `json:"total,omitempty"`
	Issue       json.RawMessage `json:"issue,omitempty"`
	IssuesCount *int            `json:"issuesCount,omitempty"`
	DurationMs  *int64          `json:"durationMs,omitempty"`
	Code        Code            `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
}

// Marshal serializes a message to its wire form.
func Marshal(m Message) ([]byte, error) {
	w := wire{Type: m.Kind()}
	switch v := m.(type) {
	case Execute:
		w.Detector = v.Detector
		w.Workspace = v.Workspace
		w.Options = v.Options
	case Progress:
		w.Detector = v.Detector
		w.Processed = &v.Processed
		w.Total = &v.Total
	case Issue:
		w.Detector = v.Detector
		w.Issue = v.Payload
	case Complete:
		w.Detector = v.Detector
		w.IssuesCount = &v.IssuesCount
		w.DurationMs = &v.DurationMs
	case Error:
		w.Detector = v.Detector
		w.Code = v.Code
		w.Message = v.Message
		w.Details = v.Details
	case Shutdown:
		// No payload.
	default:
		return nil, fmt.Errorf("protocol: unknown message type %T", m)
	}
	return json.Marshal(w)
}

// Unmarshal parses one wire frame into its typed message.
func Unmarshal(data []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("protocol: decoding frame: %w", err)
	}

	switch w.Type {
	case KindExecute:
		return Execute{Detector: w.Detector, Workspace: w.Workspace, Options: w.Options}, nil
	case KindProgress:
		return Progress{Detector: w.Detector, Processed: intOrZero(w.Processed), Total: intOrZero(w.Total)}, nil
	case KindIssue:
		return Issue{Detector: w.Detector, Payload: w.Issue}, nil
	case KindComplete:
		return Complete{Detector: w.Detector, IssuesCount: intOrZero(w.IssuesCount), DurationMs: int64OrZero(w.DurationMs)}, nil
	case KindError:
		return Error{Detector: w.Detector, Code: w.Code, Message: w.Message, Details: w.Details}, nil
	case KindShutdown:
		return Shutdown{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown message kind %q", w.Type)
	}
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func int64OrZero(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// IsTerminal reports whether a message ends its task's stream.
func IsTerminal(m Message) bool {
	switch m.Kind() {
	case KindComplete, KindError:
		return true
	}
	return false
}
