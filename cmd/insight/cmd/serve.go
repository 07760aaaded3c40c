package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odavlstudio/insight/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve [workspace]",
	Short: "Serve the analysis results over HTTP",
	Long: `Start the insight HTTP server.

The server exposes the error report as a REST API and streams pool
lifecycle events over SSE at /api/events. When a workspace is given, it
is analyzed on startup so the API has data to serve; with --watch the
analysis re-runs on file changes and connected SSE clients see the
worker activity live.

Examples:
  # Serve on the default address (localhost:8645)
  insight serve .

  # Custom bind address, live re-analysis
  insight serve --host 0.0.0.0 --port 3000 --watch .`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveNoCORS bool
	serveWatch  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"host address to bind to (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"disable CORS headers")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false,
		"re-run the analysis on workspace changes")
}

func runServe(_ *cobra.Command, args []string) error {
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
		fmt.Fprintln(os.Stderr, "\nReceived interrupt, shutting down...")
		cancel()
	}()

	eng, err := newEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		eng.shutdown(shutdownCtx)
	}()

	webCfg := web.DefaultConfig()
	webCfg.Host = cfg.Server.Host
	webCfg.Port = cfg.Server.Port
	webCfg.EnableCORS = cfg.Server.EnableCORS && !serveNoCORS
	webCfg.CORSOrigins = cfg.Server.CORSOrigins
	if serveHost != "" {
		webCfg.Host = serveHost
	}
	if servePort != 0 {
		webCfg.Port = servePort
	}

	server := web.New(webCfg, logger, eng.store, eng.bus)

	if len(args) == 1 {
		workspace, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving workspace path: %w", err)
		}
		runOnce := func() error {
			results, err := eng.run(ctx, workspace)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Failed {
					failed++
				}
			}
			logger.Info("analysis complete",
				"detectors", len(results), "failures", failed)
			return nil
		}
		if err := runOnce(); err != nil {
			return err
		}
		if serveWatch {
			go func() {
				if err := watchWorkspace(ctx, workspace, logger, runOnce); err != nil {
					logger.Error("watch stopped", "error", err)
					cancel()
				}
			}()
		}
	}

	logger.Info("server listening", "addr", fmt.Sprintf("%s:%d", webCfg.Host, webCfg.Port))
	return server.Start(ctx)
}
