// streamtest opens one notification stream and prints decoded frames to the console.
// Usage: go run ./cmd/streamtest --config configs/pushlinkd.example.yaml
//
// The device token is read from the configured token store unless --token is
// given. Nothing is deduplicated or forwarded to sinks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/connection"
	"github.com/Crosschaser/Protos/internal/notification"
	"github.com/Crosschaser/Protos/internal/tokenstore"
)

func main() {
	configPath := flag.String("config", "configs/pushlinkd.example.yaml", "path to config file")
	tokenFlag := flag.String("token", "", "device token (default: read from the token store)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	token := *tokenFlag
	if token == "" {
		store, err := tokenstore.Open(ctx, cfg.TokenStore, logger)
		if err != nil {
			logger.Error("failed to open token store", "error", err)
			os.Exit(1)
		}
		token, err = store.Get(ctx)
		store.Close()
		if err != nil {
			logger.Error("no device token, run pushlinkd register or pass --token", "error", err)
			os.Exit(1)
		}
	}

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = connection.StreamURL(cfg.Stream.WSURL, token)
	clientCfg.PingInterval = cfg.Stream.PingInterval
	clientCfg.PingTimeout = cfg.Stream.PingTimeout

	client := connection.NewClient(clientCfg, logger)

	logger.Info("connecting", "ws_url", cfg.Stream.WSURL, "token", tokenstore.Redact(token))
	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Stream.ConnectTimeout)
	err = client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	var frames, decoded, malformed atomic.Int64

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"frames", frames.Load(),
					"decoded", decoded.Load(),
					"malformed", malformed.Load(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete")
			return

		case err := <-client.Errors():
			logger.Error("stream ended", "error", err)
			os.Exit(1)

		case msg, ok := <-client.Messages():
			if !ok {
				logger.Info("stream closed")
				return
			}
			frames.Add(1)

			n, err := notification.Decode(msg.Data)
			if err != nil {
				malformed.Add(1)
				fmt.Printf("[MALFORMED] %v raw=%s\n", err, msg.Data)
				continue
			}
			decoded.Add(1)
			printMessage(n, msg.ReceivedAt, *verbose)
		}
	}
}

func printMessage(n notification.Message, receivedAt time.Time, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(n, "", "  ")
		fmt.Printf("[%s] %s\n", n.Type, data)
		return
	}
	fmt.Printf("[%s] at=%s key=%s title=%q city=%s\n",
		n.Type, receivedAt.Format(time.TimeOnly), n.DedupKey(), n.Title, n.City)
}
