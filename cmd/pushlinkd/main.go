// pushlinkd keeps a device subscribed to the notification server.
//
// It streams notifications over a WebSocket and falls back to periodic
// polling of the REST API while the stream is down. Every notification is
// delivered to the configured sinks at most once.
//
// Usage:
//
//	pushlinkd register --config /etc/pushlink/pushlinkd.yaml
//	pushlinkd run --config /etc/pushlink/pushlinkd.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/version"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "pushlinkd",
	Short: "Dual-channel push notification client",
	Long: `pushlinkd receives device notifications over a WebSocket stream and
falls back to periodic polling while the stream is unavailable.

Run "pushlinkd register" once to obtain a device token, then "pushlinkd run".`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/pushlink/pushlinkd.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before the config (default: .env if present)")

	rootCmd.AddCommand(runCmd, registerCmd, pollCmd, tokenCmd, versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads dotenv files so ${VAR} references in the config resolve.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	_ = godotenv.Load()
	return nil
}

// loadConfig reads the config and installs the configured default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Debug("configuration loaded",
		"config", configPath,
		"device_id", cfg.Device.ID,
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.Stream.WSURL,
		"token_store", cfg.TokenStore.Driver,
	)
	return cfg, logger, nil
}

// newLogger builds the root slog logger. Values are validated by config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "pushlinkd "+version.String())
	},
}
