package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaygate/gatewayd/internal/app"
	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/config"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/transport"
	"github.com/relaygate/gatewayd/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var serviceXML, hostsXML string
	var logLevel, logDir, theme string
	var fileOutput, prettyLogs bool
	var maxSize, maxBackups, maxAge int

	root := &cobra.Command{
		Use:           version.Name,
		Short:         version.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serviceXML, "service", envOrDefault("GATEWAYD_SERVICE_XML", "./service.xml"), "path to service.xml")
	root.PersistentFlags().StringVar(&hostsXML, "hosts", envOrDefault("GATEWAYD_HOSTS_XML", "./hosts.xml"), "path to hosts.xml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("GATEWAYD_LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&logDir, "log-dir", envOrDefault("GATEWAYD_LOG_DIR", "./logs"), "directory for rotated log files")
	root.PersistentFlags().StringVar(&theme, "theme", envOrDefault("GATEWAYD_THEME", "default"), "styled logger theme")
	root.PersistentFlags().BoolVar(&fileOutput, "file-output", envBoolOrDefault("GATEWAYD_FILE_OUTPUT", true), "also write logs to log-dir")
	root.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", envBoolOrDefault("GATEWAYD_PRETTY_LOGS", true), "use the styled console renderer instead of plain slog")
	root.PersistentFlags().IntVar(&maxSize, "log-max-size", envIntOrDefault("GATEWAYD_LOG_MAX_SIZE", 100), "log file rotation size in megabytes")
	root.PersistentFlags().IntVar(&maxBackups, "log-max-backups", envIntOrDefault("GATEWAYD_LOG_MAX_BACKUPS", 5), "rotated log files retained")
	root.PersistentFlags().IntVar(&maxAge, "log-max-age", envIntOrDefault("GATEWAYD_LOG_MAX_AGE", 30), "days a rotated log file is retained")

	loggerConfig := func() *logger.Config {
		return &logger.Config{
			Level:      logLevel,
			FileOutput: fileOutput,
			LogDir:     logDir,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Theme:      theme,
			PrettyLogs: prettyLogs,
		}
	}
	files := func() config.Files {
		return config.Files{ServiceXML: serviceXML, HostsXML: hostsXML}
	}

	root.AddCommand(runCmd(loggerConfig, files))
	root.AddCommand(validateConfigCmd(files))
	root.AddCommand(versionCmd())
	return root
}

// runCmd starts the gateway and blocks until SIGINT/SIGTERM.
func runCmd(loggerConfig func() *logger.Config, files func() config.Files) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gateway and serve every configured listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			vlog := log.New(log.Writer(), "", 0)
			version.PrintVersionInfo(false, vlog)

			logInstance, styledLogger, cleanup, err := logger.NewWithTheme(loggerConfig())
			if err != nil {
				return fmt.Errorf("initialising logger: %w", err)
			}
			defer cleanup()
			slog.SetDefault(logInstance)

			styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				styledLogger.Info("Shutdown signal received", "signal", sig.String())
				cancel()
			}()

			application := app.New(styledLogger, resolveAuthenticator())
			if err := application.Run(ctx, files()); err != nil {
				logger.FatalWithLogger(logInstance, "gateway exited with an error", "error", err)
			}
			return nil
		},
	}
}

// validateConfigCmd parses service.xml and hosts.xml and builds the
// resulting routing tables without opening any listener, so a config
// change can be checked before a reload is triggered.
func validateConfigCmd(files func() config.Files) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Parse and build the configured service.xml/hosts.xml without starting listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := files()
			docs, err := config.Load(f)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			built, err := config.Build(&docs.Hosts, config.BuildDeps{
				Pools:         pool.NewRegistry(),
				Transports:    transport.NewRegistry(),
				Authenticator: resolveAuthenticator(),
			})
			if err != nil {
				return fmt.Errorf("building routing tables: %w", err)
			}
			fmt.Printf("%s: %d listener(s), %d subscriber source(s)\n", f.HostsXML, len(built.Listeners), len(built.Subscribers))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			vlog := log.New(log.Writer(), "", 0)
			version.PrintVersionInfo(true, vlog)
			return nil
		},
	}
}

// resolveAuthenticator returns the platform user-table authenticator
// (os_linux.go's OSAuthenticator). It denies every user, so an
// empty-password user table entry never grants unauthenticated access.
func resolveAuthenticator() auth.Authenticator {
	return auth.NewOSAuthenticator()
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
