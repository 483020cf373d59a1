package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/audit"
	"github.com/fentz26/cfagents/internal/bus"
	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/connectors/localexec"
	"github.com/fentz26/cfagents/internal/controlplane"
	"github.com/fentz26/cfagents/internal/logging"
	"github.com/fentz26/cfagents/internal/orchestrator"
	"github.com/fentz26/cfagents/internal/scheduler"
	"github.com/fentz26/cfagents/internal/store"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the cfagents daemon",
	Long:  `Starts the daemon which serves the HTTP API and dispatches bus messages to agents.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().String("listen", "", "Listen address for the API server (overrides settings)")
	daemonCmd.Flags().String("db", "", "Path to SQLite database (overrides settings)")
	daemonCmd.Flags().Bool("no-dispatcher", false, "Run without the bus dispatcher")
}

// runtime is the wired set of components shared by the daemon and local
// workflow runs.
type runtime struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
	bus   *bus.MessageBus
	proto *bus.Protocol
}

func newRuntime(s *config.Settings, logger *slog.Logger) (*runtime, error) {
	st, err := store.New(s.DBPath)
	if err != nil {
		return nil, err
	}

	cat, err := config.Load(s.ConfigDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	var actionOpts []agents.RegistryOption
	if s.Orchestrator.StrictActions {
		actionOpts = append(actionOpts, agents.WithStrictActions())
	}
	actions := agents.NewActionRegistry(actionOpts...)
	actions.Register(s.ETL.Action, agents.CommandAction(localexec.New(s.ETL.WorkDir)))

	orch, err := orchestrator.New(cat, logger,
		orchestrator.WithConfig(orchestrator.Config{
			MaxParallel:      s.Orchestrator.MaxParallel,
			EnforceExclusive: s.Orchestrator.EnforceExclusive,
		}),
		orchestrator.WithActions(actions),
		orchestrator.WithAuditor(audit.NewPDRWriter(st)),
		orchestrator.WithResultRecorder(st),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	b := bus.New(logger, bus.WithRecorder(st))
	return &runtime{store: st, orch: orch, bus: b, proto: bus.NewProtocol(b, logger)}, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		settings.Listen = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		settings.DBPath = v
	}
	if v, _ := cmd.Flags().GetBool("no-dispatcher"); v {
		settings.Dispatcher.Enabled = false
	}

	logger, closeLog, err := logging.New(settings.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting cfagents daemon", "config_dir", settings.ConfigDir, "db", settings.DBPath)

	rt, err := newRuntime(settings, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var dispatcher *scheduler.Dispatcher
	if settings.Dispatcher.Enabled {
		dispatcher = scheduler.New(rt.bus, rt.orch, &scheduler.Config{
			GlobalMax:    settings.Dispatcher.GlobalMax,
			PollInterval: settings.Dispatcher.PollInterval,
		}, logger)
		dispatcher.Start()
	}

	service := controlplane.NewService(rt.orch, rt.proto, rt.store, dispatcher, logger)
	server := controlplane.NewServer(service, settings.Listen, logger)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if dispatcher != nil {
		logger.Info("stopping dispatcher")
		dispatcher.Stop()
	}

	logger.Info("closing database connection")
	if err := rt.store.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}
