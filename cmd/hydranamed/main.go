package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jroosing/hydranamed/internal/api"
	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/logging"
	"github.com/jroosing/hydranamed/internal/server"
	"github.com/jroosing/hydranamed/internal/zonemgr"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hydranamed",
	Short: "hydranamed - authoritative and recursive name server",
	Long: `hydranamed serves DNS zones from configured views and resolves
recursively for permitted clients.

The configuration is reloaded on SIGHUP, on POST /api/v1/reload and, with
--watch, whenever the configuration file changes. A configuration that
fails to load leaves the previous one serving.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hydranamed version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Path to YAML configuration file (or set HYDRANAMED_CONFIG)")
	pf.Bool("debug", false, "Enable debug logging")
	pf.Bool("json-logs", false, "Enable JSON structured logging")

	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		f := cmd.Flags()
		f.Bool("watch", false, "Reload when the configuration file changes")
		f.Duration("watch-debounce", server.DefaultWatchDebounce, "Quiet period before a file change triggers a reload")
		f.Bool("core", false, "Crash with a core dump instead of exiting on fatal errors")
		f.Duration("shutdown-timeout", 5*time.Second, "Wait this long for in-flight queries at shutdown")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkconfCmd)
	rootCmd.AddCommand(importZoneCmd)
	rootCmd.AddCommand(printZoneCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the name server (default)",
	RunE:  runServer,
}

// setupLogging builds the logger from the logging section of cfg and the
// command line overrides.
func setupLogging(cmd *cobra.Command, lc config.LoggingConfig) *slog.Logger {
	if debugLogs, _ := cmd.Flags().GetBool("debug"); debugLogs {
		lc.Level = "DEBUG"
	}
	if jsonLogs, _ := cmd.Flags().GetBool("json-logs"); jsonLogs {
		lc.Structured = true
		lc.StructuredFormat = "json"
	}
	return logging.Configure(logging.Config{
		Level:            lc.Level,
		Structured:       lc.Structured,
		StructuredFormat: lc.StructuredFormat,
		IncludePID:       lc.IncludePID,
		ExtraFields:      lc.ExtraFields,
	})
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return config.ResolveConfigPath(p)
}

func runServer(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)
	core, _ := cmd.Flags().GetBool("core")
	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("watch-debounce")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	// The logging and api sections are read once at startup.
	cfg, err := config.Load(path)
	if err != nil {
		logger := setupLogging(cmd, config.LoggingConfig{})
		logging.Critical(logger, "loading configuration failed", "file", path, "err", err)
		fatal(logger, core, fmt.Errorf("%w: %w", server.ErrFatal, err))
	}
	logger := setupLogging(cmd, cfg.Logging)
	logger.Info("hydranamed starting", "version", Version, "config", path)

	srv, err := server.New(server.Options{
		ConfigPath:      path,
		Logger:          logger,
		Refresher:       zonemgr.NewTransfer(logger),
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		fatal(logger, core, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-runErr:
		fatal(logger, core, err)
	}

	go reloadOnHangup(ctx, srv, logger)

	if watch && path != "" {
		if err := server.Watch(ctx, path, debounce, logger, srv.Reconfigure); err != nil {
			logger.Warn("configuration watch disabled", "err", err)
		}
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg.API, srv, logger)
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil {
				logger.Error("management API stopped", "err", err)
			}
		}()
	}

	err = <-runErr
	if apiSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiSrv.Shutdown(sctx)
		cancel()
	}
	if err != nil {
		fatal(logger, core, err)
	}
	logger.Info("exiting")
	return nil
}

// reloadOnHangup turns SIGHUP into reconfiguration requests.
func reloadOnHangup(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("received SIGHUP, reloading configuration")
			if err := srv.Reconfigure(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reload failed", "err", err)
			}
		}
	}
}

// fatal ends the process after an unrecoverable error. With core set the
// process crashes so the runtime writes a core dump.
func fatal(logger *slog.Logger, core bool, err error) {
	logging.Critical(logger, "exiting (due to fatal error)", "err", err)
	if core {
		debug.SetTraceback("crash")
		panic(err)
	}
	os.Exit(1)
}
