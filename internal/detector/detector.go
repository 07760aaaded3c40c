// Package detector defines the capability contract detectors implement and
// the registry the worker executor resolves them from.
package detector

import "context"

// Detector is one pluggable analysis unit bound to a workspace. Detect
// computes the complete result set before returning; each element is an
// opaque, detector-owned issue payload that must be JSON-serializable.
type Detector interface {
	Detect(ctx context.Context, options map[string]any) ([]any, error)
}

// Factory constructs a detector instance for a workspace. A factory that
// returns an error or a nil instance fails the task as an invalid detector.
type Factory func(workspace string) (Detector, error)
