package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jeditr/internal/config"
	"jeditr/internal/logging"
	"jeditr/internal/monitoring"
	"jeditr/internal/realtime"
	"jeditr/internal/session"
	"jeditr/internal/watcher"
	"jeditr/internal/workspace"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "jeditr: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	workdir := flag.String("workdir", "", "project directory (defaults to JEDITR_WORKSPACE_WORKDIR)")
	flag.Parse()
	switch {
	case *workdir != "":
		cfg.Workspace.Dir = *workdir
	case flag.NArg() > 0:
		cfg.Workspace.Dir = flag.Arg(0)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ws, err := workspace.New(cfg.Workspace.Dir, cfg.Workspace.Ignore, cfg.Workspace.MaxFiles)
	if err != nil {
		return err
	}
	logger.Info("workspace opened", zap.String("workdir", ws.Root()))

	var (
		metrics  *monitoring.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Server.Metrics {
		metrics = monitoring.NewMetrics(prometheus.DefaultRegisterer)
		gatherer = prometheus.DefaultGatherer
	}

	hub := realtime.NewHub(logger, metrics, cfg.Session.HistorySize, cfg.Server.SendBuffer)

	opts := session.Options{
		Spawner:         session.ExecSpawner{Dir: ws.Root()},
		MaxSessions:     cfg.Session.MaxSessions,
		MaxLineBytes:    cfg.Session.MaxLineBytes,
		DropPartialLine: cfg.Session.DropPartialLine,
		Logger:          logger,
		Metrics:         metrics,
	}
	if cfg.Session.Shell != "" {
		opts.Resolver = session.FixedResolver(session.Shell{
			Path: cfg.Session.Shell,
			Args: cfg.Session.ShellArgs,
		})
	}
	sessions := session.NewManager(session.NewRegistry(), hub, opts)

	fileWatch := watcher.New(hub.OnFileUpdate, logger)
	if cfg.Workspace.Watch {
		if err := fileWatch.Watch(ws.Root()); err != nil {
			logger.Warn("file watcher disabled", zap.Error(err))
		}
	}

	srv := realtime.New(hub, sessions, ws, realtime.Options{
		StaticDir:      cfg.Server.StaticDir,
		TreeDepth:      cfg.Workspace.TreeDepth,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       gatherer,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	fileWatch.Shutdown()
	if err := sessions.Shutdown(ctx); err != nil {
		logger.Warn("shells did not exit in time", zap.Error(err))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
		httpServer.Close()
	}
	return nil
}
