package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Crosschaser/Protos/internal/registration"
	"github.com/Crosschaser/Protos/internal/tokenstore"
	"github.com/Crosschaser/Protos/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Receive notifications until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	logger.Info("starting pushlinkd",
		"version", version.Version,
		"commit", version.Commit,
		"device_id", cfg.Device.ID,
	)

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	mgr, err := newManager(cfg, st, logger)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Watch before the first read so a token written in between is not missed.
	var changes <-chan string
	if w, ok := st.store.(tokenstore.Watcher); ok {
		if changes, err = w.Watch(gctx); err != nil {
			logger.Warn("token changes will not be picked up", "error", err)
			changes = nil
		}
	}

	token, err := registration.EnsureToken(ctx, st.store)
	switch {
	case err == nil:
		if err := mgr.Connect(token); err != nil {
			logger.Error("connect failed", "error", err)
		}
	case errors.Is(err, tokenstore.ErrTokenMissing):
		logger.Warn("device is not registered, waiting for a token", "hint", "pushlinkd register")
	default:
		return fmt.Errorf("read device token: %w", err)
	}

	if changes != nil {
		g.Go(func() error {
			followToken(gctx, mgr, token, changes, logger)
			return nil
		})
	}

	var healthServer *http.Server
	if cfg.Health.Addr != "" {
		healthServer = &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           newHealthHandler(mgr, st.fallback, st.pipeline, st.ledger, st.sched),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "addr", cfg.Health.Addr)
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "error", err)
	} else if sent {
		logger.Debug("notified systemd of readiness")
	}

	logger.Info("pushlinkd running", "state", mgr.State())

	// Wait for shutdown
	<-gctx.Done()

	logger.Info("shutting down...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}
	mgr.Stop(shutdownCtx)
	st.sched.Stop(shutdownCtx)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pushlinkd stopped")
	return nil
}

// streamController is the part of the connection manager driven by token
// changes.
type streamController interface {
	Connect(token string) error
	Disconnect() error
}

// followToken restarts the stream whenever the persisted token differs from
// current, the token the stream was last started with.
func followToken(ctx context.Context, ctl streamController, current string, changes <-chan string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case token, ok := <-changes:
			if !ok {
				return
			}
			if token == current {
				continue
			}
			current = token
			logger.Info("device token changed, reconnecting", "token", tokenstore.Redact(token))
			if err := ctl.Disconnect(); err != nil {
				logger.Warn("disconnect failed", "error", err)
			}
			if err := ctl.Connect(token); err != nil {
				logger.Warn("connect failed", "error", err)
			}
		}
	}
}
