// Package errstore holds the per-run, append-only store of normalized
// detector failures. Entries come from two origins: worker-reported protocol
// Error frames and orchestrator-synthesized failures (timeout, crash, memory
// kill); both end up in the same record shape. No entry is ever mutated or
// evicted individually; Clear resets the whole store at run boundaries.
package errstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/odavlstudio/insight/internal/protocol"
)

// Severity ranks how prominently a failure should surface.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// NormalizedError is one classified, detector-attributed failure record.
type NormalizedError struct {
	Detector  string         `json:"detector"`
	Severity  Severity       `json:"severity"`
	Code      protocol.Code  `json:"code"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// SeverityForCode maps a failure code to its severity. Crashes are critical,
// timeouts and contract violations are high, tool errors are medium.
func SeverityForCode(code protocol.Code) Severity {
	switch code {
	case protocol.CodeWorkerCrash:
		return SeverityCritical
	case protocol.CodeTimeout,
		protocol.CodeDetectorNotFound,
		protocol.CodeInvalidDetector,
		protocol.CodeInvalidDetectorResult,
		protocol.CodeOOM:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Store is the append-only error aggregator for one run. The pool touches it
// from a single control goroutine, but the query API is also served to HTTP
// and CLI consumers, so access is guarded anyway.
type Store struct {
	mu         sync.RWMutex
	entries    []NormalizedError
	byDetector map[string][]NormalizedError
	order      []string // detectors in first-error order
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.entries = nil
	s.byDetector = make(map[string][]NormalizedError)
	s.order = nil
}

// Add appends one record. A zero timestamp is stamped with the current time;
// an unset severity is derived from the code.
func (s *Store) Add(e NormalizedError) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityForCode(e.Code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.byDetector[e.Detector]; !seen {
		s.order = append(s.order, e.Detector)
	}
	s.entries = append(s.entries, e)
	s.byDetector[e.Detector] = append(s.byDetector[e.Detector], e)
}

// FromProtocolError normalizes a worker-reported Error frame.
func FromProtocolError(msg protocol.Error) NormalizedError {
	return NormalizedError{
		Detector: msg.Detector,
		Severity: SeverityForCode(msg.Code),
		Code:     msg.Code,
		Message:  msg.Message,
		Details:  msg.Details,
	}
}

// AddTimeoutError records an orchestrator-enforced liveness timeout.
func (s *Store) AddTimeoutError(detector string, elapsed time.Duration) {
	s.Add(NormalizedError{
		Detector: detector,
		Severity: SeverityHigh,
		Code:     protocol.CodeTimeout,
		Message:  fmt.Sprintf("detector produced no message for %v and its worker was terminated", elapsed.Round(time.Millisecond)),
		Details:  map[string]any{"durationMs": elapsed.Milliseconds()},
	})
}

// AddWorkerCrashError records an abnormal worker exit observed while busy.
func (s *Store) AddWorkerCrashError(detector string, exitCode int) {
	s.Add(NormalizedError{
		Detector: detector,
		Severity: SeverityCritical,
		Code:     protocol.CodeWorkerCrash,
		Message:  fmt.Sprintf("worker exited unexpectedly with code %d", exitCode),
		Details:  map[string]any{"exitCode": exitCode},
	})
}

// AddExternalToolError records a failure from a subprocess a detector
// proxies to.
func (s *Store) AddExternalToolError(detector, tool string, rawErr error) {
	msg := "external tool failed"
	if rawErr != nil {
		msg = rawErr.Error()
	}
	s.Add(NormalizedError{
		Detector: detector,
		Severity: SeverityMedium,
		Code:     protocol.CodeToolError,
		Message:  msg,
		Details:  map[string]any{"tool": tool},
	})
}

// Errors returns every record in insertion order.
func (s *Store) Errors() []NormalizedError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NormalizedError, len(s.entries))
	copy(out, s.entries)
	return out
}

// ErrorsByDetector returns one detector's records in append order.
func (s *Store) ErrorsByDetector(detector string) []NormalizedError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byDetector[detector]
	out := make([]NormalizedError, len(list))
	copy(out, list)
	return out
}

// DetectorsWithErrors returns detector ids in first-error order.
func (s *Store) DetectorsWithErrors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// HasErrors checks whether a detector has recorded failures.
func (s *Store) HasErrors(detector string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDetector[detector]) > 0
}

// TotalErrorCount returns the number of records across all detectors.
func (s *Store) TotalErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear resets all state. Used at run boundaries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// ToJSON serializes the full record set as an indented JSON array.
func (s *Store) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return []byte("[]"), nil
	}
	return json.MarshalIndent(s.entries, "", "  ")
}

// ToJSONL serializes the full record set as one JSON object per line.
func (s *Store) ToJSONL() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range s.entries {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteFile atomically exports the store to a file, picking the format from
// the extension (.jsonl gets line-delimited output, anything else an array).
func (s *Store) WriteFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		data, err = s.ToJSONL()
	} else {
		data, err = s.ToJSON()
	}
	if err != nil {
		return fmt.Errorf("serializing error export: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing error export: %w", err)
	}
	return nil
}
