package builtin

import (
	"context"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odavlstudio/insight/internal/detector"
)

// YAMLLint flags workspace YAML files that fail to parse.
type YAMLLint struct {
	workspace string
}

// NewYAMLLint creates the yamllint detector for a workspace.
func NewYAMLLint(workspace string) (detector.Detector, error) {
	return &YAMLLint{workspace: workspace}, nil
}

func (y *YAMLLint) Detect(ctx context.Context, options map[string]any) ([]any, error) {
	_ = options

	var issues []any
	err := walkFiles(y.workspace, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !hasSuffixAny(d.Name(), ".yaml", ".yml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			issues = append(issues, map[string]any{
				"file":  relPath(y.workspace, path),
				"error": err.Error(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}
