package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/pcdimport/internal/http"
	"github.com/fyrsmithlabs/pcdimport/internal/sandbox"
)

var (
	sbHost      string
	sbPort      int
	sbFilesRoot string
)

func init() {
	rootCmd.AddCommand(sandboxCmd)

	sandboxCmd.Flags().StringVar(&sbHost, "host", "", "listen host")
	sandboxCmd.Flags().IntVar(&sbPort, "port", 0, "listen port")
	sandboxCmd.Flags().StringVar(&sbFilesRoot, "files-root", "", "directory holding team files (<root>/<team-id>/...)")
}

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run an in-memory platform for local imports",
	Long: `Serve the platform API from memory so projects can be imported and
inspected without a real platform. Team files are read from --files-root.`,
	Args: cobra.NoArgs,
	RunE: runSandbox,
}

func runSandbox(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Sandbox.Host = sbHost
	}
	if flags.Changed("port") {
		cfg.Sandbox.Port = sbPort
	}
	if flags.Changed("files-root") {
		cfg.Sandbox.FilesRoot = sbFilesRoot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	tel, err := newTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	srv, err := httpserver.NewServer(sandbox.NewStore(cfg.Sandbox.FilesRoot), logger, &httpserver.Config{
		Host:    cfg.Sandbox.Host,
		Port:    cfg.Sandbox.Port,
		Metrics: httpserver.NewHTTPMetrics(tel.Meter("github.com/fyrsmithlabs/pcdimport/internal/http"), logger),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "sandbox shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
