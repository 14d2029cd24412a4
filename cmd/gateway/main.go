// Package main is the entry point for the RepitBot API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/gateway"
	"github.com/repitbot/gateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)

	// The config file may carry its own log settings.
	if cfg.Log.Level != "" || cfg.Log.Format != "" {
		logger = reinitLogger(cfg.Log, flags, logger)
	}

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
	)
	if err != nil {
		logger.Fatal("failed to create gateway", observability.Error(err))
	}

	run(gw, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger from command line flags.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// reinitLogger rebuilds the logger from config file settings, keeping
// flag values as fallbacks.
func reinitLogger(logCfg config.Log, flags cliFlags, current observability.Logger) observability.Logger {
	cfg := observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
		Output: logCfg.Output,
	}
	if logCfg.Level != "" {
		cfg.Level = logCfg.Level
	}
	if logCfg.Format != "" {
		cfg.Format = logCfg.Format
	}

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		current.Warn("invalid log configuration, keeping defaults", observability.Error(err))
		return current
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig loads and validates the configuration file.
func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting gateway",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	authRequired := 0
	for _, svc := range cfg.Services {
		if svc.AuthRequired {
			authRequired++
		}
	}

	logger.Info("configuration loaded",
		observability.String("listen", cfg.Listen),
		observability.Int("services", len(cfg.Services)),
		observability.Int("auth_required", authRequired),
	)

	return cfg
}

// run starts the gateway and blocks until a shutdown signal arrives.
func run(gw *gateway.Gateway, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(context.Background())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("gateway failed", observability.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	logger.Info("gateway stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
