package builtin

import (
	"context"
	"io/fs"

	"github.com/odavlstudio/insight/internal/detector"
)

// LargeFile flags files above a size threshold. Oversized files are a common
// symptom of committed build output or data dumps.
type LargeFile struct {
	workspace string
}

// NewLargeFile creates the largefile detector for a workspace.
func NewLargeFile(workspace string) (detector.Detector, error) {
	return &LargeFile{workspace: workspace}, nil
}

const defaultMaxBytes = 1 << 20 // 1 MiB

func (l *LargeFile) Detect(ctx context.Context, options map[string]any) ([]any, error) {
	maxBytes := int64(intOption(options, "max_bytes", defaultMaxBytes))

	var issues []any
	err := walkFiles(l.workspace, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxBytes {
			issues = append(issues, map[string]any{
				"file":      relPath(l.workspace, path),
				"sizeBytes": info.Size(),
				"maxBytes":  maxBytes,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}
