package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ecordell/optgen/helpers"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	v1 "github.com/tupyy/log-collector-agent/api/v1"
	"github.com/tupyy/log-collector-agent/internal/config"
	"github.com/tupyy/log-collector-agent/internal/handlers"
	"github.com/tupyy/log-collector-agent/internal/server"
	"github.com/tupyy/log-collector-agent/internal/services"
	"github.com/tupyy/log-collector-agent/internal/store"
	"github.com/tupyy/log-collector-agent/internal/store/migrations"
	"github.com/tupyy/log-collector-agent/pkg/events"
	"github.com/tupyy/log-collector-agent/pkg/scheduler"
)

func NewRunCommand(cfg *config.Configuration) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the log collector agent",
		Example: `  # Run with the default configuration
  agent run

  # Keep job history and the connection profile across restarts
  agent run --data-folder /var/lib/log-collector

  # Run in production mode serving the frontend bundle
  agent run --server-mode prod --server-statics-folder /var/www/statics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfiguration(cfg); err != nil {
				return err
			}

			zap.S().Infow("using configuration",
				"server", helpers.Flatten(cfg.Server.DebugMap()),
				"collector", helpers.Flatten(cfg.Collector.DebugMap()),
			)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
			wg := sync.WaitGroup{}
			wg.Add(1)

			// init store
			dbPath := filepath.Join(cfg.Collector.DataFolder, "agent.duckdb")
			if cfg.Collector.DataFolder == "" {
				dbPath = ":memory:"
				zap.S().Warn("data-folder not set, using in-memory database (data will not persist)")
			}
			db, err := store.NewDB(dbPath)
			if err != nil {
				zap.S().Errorw("failed to initialize database", "error", err)
				return err
			}
			s := store.NewStore(db)
			defer s.Close()

			if err := migrations.Run(ctx, db); err != nil {
				zap.S().Errorw("failed to run migrations", "error", err)
				return err
			}
			zap.S().Info("database initialized successfully")

			// init scheduler
			sched := scheduler.NewScheduler(cfg.Collector.NumWorkers)
			defer sched.Close()

			// init event bus
			bus := events.NewBus()

			// init services
			sessionSrv := services.NewSession(cfg.Collector, bus)
			defer sessionSrv.Disconnect()
			collectorSrv := services.NewCollectorService(cfg.Collector, sched, sessionSrv, s, bus)

			// init handlers
			h := handlers.New(sessionSrv, collectorSrv, s, bus)

			srv, err := server.NewServer(cfg.Server, func(router *gin.RouterGroup) {
				v1.RegisterHandlers(router, h)
			})
			if err != nil {
				zap.S().Errorw("failed to create http server", "error", err)
				return err
			}

			go func() {
				defer func() {
					wg.Done()
					cancel()
				}()
				zap.S().Infof("Starting HTTP server on port %d", cfg.Server.HTTPPort)

				if err := srv.Start(ctx); err != nil {
					if !errors.Is(err, http.ErrServerClosed) {
						zap.S().Errorw("failed to start http server", "error", err)
					}
				}
			}()

			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Stop(stopCtx)
			}()

			<-ctx.Done()
			wg.Wait()

			zap.S().Info("server shutdown")

			return nil
		},
	}

	registerFlags(runCmd, cfg)

	return runCmd
}

func registerFlags(cmd *cobra.Command, config *config.Configuration) {
	nfs := cobrautil.NewNamedFlagSets(cmd)

	serverFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Server"))
	registerServerFlags(serverFlagSet, config)

	collectorFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Collector"))
	registerCollectorFlags(collectorFlagSet, config)

	connectionFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Connection"))
	registerConnectionFlags(connectionFlagSet, config)

	nfs.AddFlagSets(cmd)
}

func validateConfiguration(cfg *config.Configuration) error {
	switch config.ServerModeType(cfg.Server.ServerMode) {
	case config.ServerModeProd, config.ServerModeDev:
	default:
		return fmt.Errorf("invalid server mode %q: must be %q or %q", cfg.Server.ServerMode, config.ServerModeProd, config.ServerModeDev)
	}

	if config.ServerModeType(cfg.Server.ServerMode) == config.ServerModeProd && cfg.Server.StaticsFolder == "" {
		return errors.New("statics folder must be set when server mode is production")
	}

	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http-port %d: must be between 1 and 65535", cfg.Server.HTTPPort)
	}

	if cfg.Collector.NumWorkers < 1 {
		return fmt.Errorf("invalid num-workers %d: must be at least 1", cfg.Collector.NumWorkers)
	}

	if cfg.Collector.DestinationRoot == "" {
		return errors.New("destination-root cannot be empty")
	}

	if cfg.Collector.FreeSpaceMargin < 0 {
		return fmt.Errorf("invalid free-space-margin %d: must not be negative", cfg.Collector.FreeSpaceMargin)
	}

	return nil
}

func registerServerFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.IntVar(&config.Server.HTTPPort, "server-http-port", config.Server.HTTPPort, "Port on which the HTTP server is listening")
	flagSet.StringVar(&config.Server.StaticsFolder, "server-statics-folder", config.Server.StaticsFolder, "Path to statics folder")
	flagSet.StringVar(&config.Server.ServerMode, "server-mode", config.Server.ServerMode, "Server mode: either prod or dev. If prod the statics folder must be set")
}

func registerCollectorFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.StringVar(&config.Collector.DataFolder, "data-folder", config.Collector.DataFolder, "Path to the persistent data folder")
	flagSet.StringVar(&config.Collector.DestinationRoot, "destination-root", config.Collector.DestinationRoot, "Folder where collected files and archives are written")
	flagSet.StringVar(&config.Collector.RemoteTempDir, "remote-temp-dir", config.Collector.RemoteTempDir, "Remote folder used to stage server-side archives")
	flagSet.StringVar(&config.Collector.ArchiveCommand, "archive-command", config.Collector.ArchiveCommand, "Remote compression command template with {{archive}}, {{dir}} and {{files}} placeholders")
	flagSet.Int64Var(&config.Collector.FreeSpaceMargin, "free-space-margin", config.Collector.FreeSpaceMargin, "Free space headroom in bytes required before a transfer starts")
	flagSet.IntVar(&config.Collector.NumWorkers, "num-workers", config.Collector.NumWorkers, "Number of scheduler workers")
}

func registerConnectionFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.DurationVar(&config.Collector.ConnectTimeout, "connect-timeout", config.Collector.ConnectTimeout, "Timeout for establishing the SSH connection")
	flagSet.DurationVar(&config.Collector.CommandTimeout, "command-timeout", config.Collector.CommandTimeout, "Timeout for remote commands such as compression")
	flagSet.DurationVar(&config.Collector.KeepAliveInterval, "keep-alive-interval", config.Collector.KeepAliveInterval, "Interval between keep-alive probes")
	flagSet.IntVar(&config.Collector.ReconnectAttempts, "reconnect-attempts", config.Collector.ReconnectAttempts, "Number of reconnect attempts before giving up")
	flagSet.DurationVar(&config.Collector.ReconnectBackoff, "reconnect-backoff", config.Collector.ReconnectBackoff, "Base backoff between reconnect attempts")
}
