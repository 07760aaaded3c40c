package builtin

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"strings"

	"github.com/odavlstudio/insight/internal/detector"
)

// Todo flags leftover work markers (TODO, FIXME, HACK) in source comments.
type Todo struct {
	workspace string
}

// NewTodo creates the todo detector for a workspace.
func NewTodo(workspace string) (detector.Detector, error) {
	return &Todo{workspace: workspace}, nil
}

// defaultMarkers are matched case-sensitively; lowercase "todo" in prose is
// too noisy to flag.
var defaultMarkers = []string{"TODO", "FIXME", "HACK", "XXX"}

// maxScanBytes bounds per-file reads so a huge generated file cannot stall
// the scan.
const maxScanBytes = 1 << 20

func (t *Todo) Detect(ctx context.Context, options map[string]any) ([]any, error) {
	markers := stringsOption(options, "markers", defaultMarkers)

	var issues []any
	err := walkFiles(t.workspace, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if info, err := d.Info(); err != nil || info.Size() > maxScanBytes {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil // unreadable files are not findings
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxScanBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			for _, marker := range markers {
				idx := strings.Index(line, marker)
				if idx < 0 {
					continue
				}
				issues = append(issues, map[string]any{
					"file":   relPath(t.workspace, path),
					"line":   lineNo,
					"marker": marker,
					"text":   strings.TrimSpace(line),
				})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}
