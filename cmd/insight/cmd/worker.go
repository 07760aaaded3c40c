package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/odavlstudio/insight/internal/detector"
	"github.com/odavlstudio/insight/internal/detector/builtin"
	"github.com/odavlstudio/insight/internal/logging"
	"github.com/odavlstudio/insight/internal/worker"
)

// workerCmd is the entry point for worker child processes. The pool spawns
// the insight binary itself with this hidden subcommand, so a single binary
// carries both sides of the protocol.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the detector worker loop (internal)",
	Hidden: true,
	RunE:   runWorker,
}

var workerID string

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringVar(&workerID, "id", "", "worker slot identifier")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	level := "warn"
	if verbose {
		level = "debug"
	}
	// stdout belongs to the protocol; everything else goes to stderr. The
	// format is forced to json so worker logs stay machine-parseable when
	// forwarded through the orchestrator.
	logger := logging.New(logging.Config{
		Level:  level,
		Format: "json",
		Output: os.Stderr,
	})

	registry := detector.NewRegistry()
	builtin.RegisterAll(registry)

	exec := worker.NewExecutor(workerID, registry, logger)
	return exec.Run(cmd.Context(), os.Stdin, os.Stdout)
}
