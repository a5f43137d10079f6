package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/radar-downloader/internal/config"
	"github.com/dgnsrekt/radar-downloader/internal/pipeline"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile  string
	verbose  bool
	noBanner bool
	logger   *zap.Logger
	cfg      *config.Config
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// Set log level from config
	if logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	// Add file output if enabled
	if logCfg != nil && logCfg.Enabled {
		if err := os.MkdirAll(logCfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("creating logs directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFile := filepath.Join(logCfg.Directory, fmt.Sprintf("radar-downloader_%s.log", timestamp))
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, logFile)
	}

	return zapConfig.Build()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "radar-downloader",
		Short: "Continuously download radar products announced on the DPC feed",
		Long: `Subscribes to the radar product feed over STOMP/WebSocket and downloads every
announced product of the selected types into the output directory.
Runs until interrupted; on SIGINT/SIGTERM pending downloads finish before exit.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
				var err error
				logger, err = setupLogger(verbose, nil)
				return err
			}

			var err error
			cfg, err = config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err = setupLogger(verbose, &cfg.Logging)
			return err
		},
		RunE: run,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", os.Getenv("RADAR_CONFIG"), "config file path (or set RADAR_CONFIG)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	f := cmd.Flags()
	f.StringSlice("products", config.DefaultProducts, "comma-separated product types to download")
	f.String("output", config.DefaultOutputDir, "output directory for downloaded files")
	f.Int("workers", 3, "parallel download workers")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("ws-url", config.DefaultFeedURL, "feed WebSocket URL")
	f.String("topic", config.DefaultFeedTopic, "STOMP topic to subscribe to")
	f.String("api-endpoint", config.DefaultAPIEndpoint, "product resolver endpoint")
	f.String("status-addr", "", "serve /healthz and /status on this address (e.g. :8080)")
	f.BoolVar(&noBanner, "no-banner", false, "do not print the startup banner")

	cmd.AddCommand(versionCmd())
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	defer func() { _ = logger.Sync() }()

	if !noBanner {
		printBanner(cmd.OutOrStdout(), terminalWidth())
	}

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	context.AfterFunc(ctx, func() {
		logger.Info("signal received, shutting down")
	})

	if err := p.Run(ctx); err != nil {
		logger.Error("downloader failed", zap.Error(err))
		return err
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "radar-downloader %s\n", version)
		},
	}
}

func main() {
	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
