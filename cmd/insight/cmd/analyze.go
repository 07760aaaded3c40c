package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/odavlstudio/insight/internal/logging"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <workspace>",
	Short: "Run detectors against a workspace",
	Long: `Analyze a workspace with the selected detectors.

Each detector runs inside a worker process from the pool. A detector that
crashes, hangs, or exhausts memory is reported as a normalized error and
never affects other detectors in the same run.

Examples:
  # Run every registered detector
  insight analyze .

  # Run specific detectors
  insight analyze --detector todo --detector yamllint ./src

  # Re-run on file changes
  insight analyze --watch .

  # Export the error report
  insight analyze --export-errors errors.jsonl .`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeDetectors []string
	analyzeExport    string
	analyzeWatch     bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringSliceVarP(&analyzeDetectors, "detector", "d", nil,
		"detector to run (repeatable; default: all registered)")
	analyzeCmd.Flags().StringVar(&analyzeExport, "export-errors", "",
		"write the error report to a file (.jsonl for line-delimited)")
	analyzeCmd.Flags().BoolVarP(&analyzeWatch, "watch", "w", false,
		"watch the workspace and re-run on changes")
}

func runAnalyze(_ *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}
	info, err := os.Stat(workspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", workspace)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping...")
		cancel()
	}()

	eng, err := newEngine(cfg, logger, analyzeDetectors)
	if err != nil {
		return err
	}
	if verbose {
		eng.watchEvents()
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		eng.shutdown(shutdownCtx)
	}()

	exportPath := analyzeExport
	if exportPath == "" {
		exportPath = cfg.Export.Path
	}

	runOnce := func() error {
		results, err := eng.run(ctx, workspace)
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Print(renderResults(results, eng.store, noColor))
		}
		if exportPath != "" {
			if err := eng.store.WriteFile(exportPath); err != nil {
				return fmt.Errorf("exporting error report: %w", err)
			}
			logger.Info("error report written", "path", exportPath)
		}
		return nil
	}

	if err := runOnce(); err != nil {
		return err
	}

	if analyzeWatch {
		return watchWorkspace(ctx, workspace, logger, runOnce)
	}

	if n := eng.store.TotalErrorCount(); n > 0 {
		return fmt.Errorf("%d detector failure(s)", n)
	}
	return nil
}

// watchWorkspace re-runs the analysis whenever files under the workspace
// change. Events are debounced so a burst of saves triggers one run.
func watchWorkspace(ctx context.Context, workspace string, logger *logging.Logger, runOnce func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching workspace: %w", err)
	}

	logger.Info("watching for changes", "workspace", workspace)

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories need to be watched too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Info("watch error", "error", err)
		case <-pending:
			logger.Info("change detected, re-running analysis")
			if err := runOnce(); err != nil {
				return err
			}
		}
	}
}
