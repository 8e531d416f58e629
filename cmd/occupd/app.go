package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/occupd"
	"pkt.systems/occupd/internal/svcfields"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("OCCUPD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "occupd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "occupd",
		Short:         "occupd coordinates exclusive worker claims on pipe-spool units and drives their assembly, weld, inspection and repair state",
		SilenceErrors: true,
		Example: `
  # In-memory store and bus (tests/dev only)
  occupd --store mem:// --bus mem://

  # Google Sheets persistence with NATS event fan-out
  OCCUPD_SHEET_CREDENTIALS=/etc/occupd/sa.json \
    occupd --store sheet://1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms --bus nats://nats:4222/occupd.events

  # Expose Prometheus metrics
  occupd --store mem:// --metrics-listen :9651
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			var cfg occupd.Config
			if path := strings.TrimSpace(viper.GetString("config")); path != "" {
				loaded, err := occupd.LoadConfigFile(path)
				if err != nil {
					return err
				}
				cfg = loaded
				cliLogger.Info("loaded config file", "path", path)
				applyFlagOverrides(cmd, &cfg)
			} else {
				bindConfig(&cfg)
			}

			server, err := occupd.NewServer(cfg, occupd.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to YAML config file")
	flags.String("listen", occupd.DefaultListen, "server bind address")
	flags.String("metrics-listen", "", "Prometheus metrics bind address (empty disables)")
	flags.String("store", occupd.DefaultStore, "unit store DSN (mem:// or sheet://<spreadsheet-id>)")
	flags.String("bus", occupd.DefaultBus, "event bus DSN (mem:// or nats://host:4222/subject)")
	flags.String("sheet-credentials", "", "Google service-account JSON for sheet:// stores")
	flags.Duration("lock-ttl", occupd.DefaultLockTTL, "crash backstop TTL on unit locks")
	flags.Int("repair-cycle-limit", occupd.DefaultRepairCycleLimit, "reject-after-repair count that blocks a unit")
	flags.Int64("json-max", occupd.DefaultJSONMaxBytes, "maximum JSON request body size in bytes")
	flags.Duration("sse-heartbeat", occupd.DefaultSSEHeartbeat, "keep-alive interval on /v1/events")
	flags.Duration("shutdown-timeout", occupd.DefaultShutdownTimeout, "graceful drain timeout")
	flags.Int("store-retry-attempts", occupd.DefaultStoreRetryMaxAttempts, "max attempts for transient store failures")
	flags.Duration("store-retry-base-delay", occupd.DefaultStoreRetryBaseDelay, "initial store retry backoff delay")
	flags.Duration("store-retry-max-delay", occupd.DefaultStoreRetryMaxDelay, "maximum store retry backoff delay")
	flags.Float64("store-retry-multiplier", occupd.DefaultStoreRetryMultiplier, "store retry backoff growth factor")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("OCCUPD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", flag.Name, err))
		}
	})

	cmd.AddCommand(newVersionCommand())
	return cmd
}

// applyFlagOverrides layers explicitly changed flags over a file-provided
// configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *occupd.Config) {
	setters := map[string]func(){
		"listen":                  func() { cfg.Listen = viper.GetString("listen") },
		"metrics-listen":          func() { cfg.MetricsListen = viper.GetString("metrics-listen") },
		"store":                   func() { cfg.Store = viper.GetString("store") },
		"bus":                     func() { cfg.Bus = viper.GetString("bus") },
		"sheet-credentials":       func() { cfg.SheetCredentialsFile = viper.GetString("sheet-credentials") },
		"lock-ttl":                func() { cfg.LockTTL = viper.GetDuration("lock-ttl") },
		"repair-cycle-limit":      func() { cfg.RepairCycleLimit = viper.GetInt("repair-cycle-limit") },
		"json-max":                func() { cfg.JSONMaxBytes = viper.GetInt64("json-max") },
		"sse-heartbeat":           func() { cfg.SSEHeartbeat = viper.GetDuration("sse-heartbeat") },
		"shutdown-timeout":        func() { cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout") },
		"store-retry-attempts":    func() { cfg.StoreRetryMaxAttempts = viper.GetInt("store-retry-attempts") },
		"store-retry-base-delay":  func() { cfg.StoreRetryBaseDelay = viper.GetDuration("store-retry-base-delay") },
		"store-retry-max-delay":   func() { cfg.StoreRetryMaxDelay = viper.GetDuration("store-retry-max-delay") },
		"store-retry-multiplier":  func() { cfg.StoreRetryMultiplier = viper.GetFloat64("store-retry-multiplier") },
	}
	for name, set := range setters {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			set()
		}
	}
}

func bindConfig(cfg *occupd.Config) {
	cfg.Listen = viper.GetString("listen")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.Store = viper.GetString("store")
	cfg.Bus = viper.GetString("bus")
	cfg.SheetCredentialsFile = viper.GetString("sheet-credentials")
	cfg.LockTTL = viper.GetDuration("lock-ttl")
	cfg.RepairCycleLimit = viper.GetInt("repair-cycle-limit")
	cfg.JSONMaxBytes = viper.GetInt64("json-max")
	cfg.SSEHeartbeat = viper.GetDuration("sse-heartbeat")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.StoreRetryMaxAttempts = viper.GetInt("store-retry-attempts")
	cfg.StoreRetryBaseDelay = viper.GetDuration("store-retry-base-delay")
	cfg.StoreRetryMaxDelay = viper.GetDuration("store-retry-max-delay")
	cfg.StoreRetryMultiplier = viper.GetFloat64("store-retry-multiplier")
}
