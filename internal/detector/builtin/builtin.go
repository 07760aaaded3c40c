// Package builtin ships the detectors bundled with the insight binary.
// Their analysis logic is intentionally small; they exist so a stock build
// produces real findings and exercises the capability contract end to end.
package builtin

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/odavlstudio/insight/internal/detector"
)

// RegisterAll registers every built-in detector factory.
func RegisterAll(r *detector.Registry) {
	r.Register("todo", NewTodo)
	r.Register("largefile", NewLargeFile)
	r.Register("yamllint", NewYAMLLint)
}

// skipDirs are directories never worth scanning.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	"dist":         true,
	"build":        true,
}

// walkFiles visits every regular file under root, pruning skipDirs.
func walkFiles(root string, fn func(path string, info fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(path, d)
	})
}

// relPath makes a workspace-relative path for issue payloads, falling back
// to the absolute path when Rel fails.
func relPath(workspace, path string) string {
	rel, err := filepath.Rel(workspace, path)
	if err != nil {
		return path
	}
	return rel
}

// intOption reads a numeric option, tolerating the float64 that JSON
// decoding produces.
func intOption(options map[string]any, key string, def int) int {
	v, ok := options[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// stringsOption reads a list-of-strings option, tolerating []any from JSON.
func stringsOption(options map[string]any, key string, def []string) []string {
	v, ok := options[key]
	if !ok {
		return def
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return def
		}
		return out
	default:
		return def
	}
}

func hasSuffixAny(name string, suffixes ...string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
