package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Crosschaser/Protos/internal/api"
	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/connection"
	"github.com/Crosschaser/Protos/internal/database"
	"github.com/Crosschaser/Protos/internal/dedup"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/fallback"
	"github.com/Crosschaser/Protos/internal/history"
	"github.com/Crosschaser/Protos/internal/jobs"
	"github.com/Crosschaser/Protos/internal/notification"
	"github.com/Crosschaser/Protos/internal/notify"
	"github.com/Crosschaser/Protos/internal/tokenstore"
	"github.com/Crosschaser/Protos/internal/version"
	"github.com/Crosschaser/Protos/internal/wakelock"
)

// stack holds the components shared by run and poll.
type stack struct {
	logger *slog.Logger

	store    tokenstore.Store
	client   *api.Client
	sink     notify.Sink
	history  *history.Writer
	pool     *pgxpool.Pool
	ledger   *dedup.Ledger
	pipeline *delivery.Pipeline
	sched    *jobs.Scheduler
	fallback *fallback.Fallback
}

// buildStack wires the delivery side of the daemon. The scheduler is created
// but not started.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *stack, err error) {
	st := &stack{logger: logger}
	defer func() {
		if err != nil {
			st.close()
		}
	}()

	if st.store, err = tokenstore.Open(ctx, cfg.TokenStore, logger); err != nil {
		return nil, err
	}
	st.client = newAPIClient(cfg, logger)

	if st.sink, err = notify.Build(cfg.Notify, logger); err != nil {
		return nil, fmt.Errorf("build notify sinks: %w", err)
	}

	var notifier delivery.Notifier = st.sink
	if cfg.History.Enabled {
		logger.Info("connecting to history database",
			"host", cfg.History.Database.Host,
			"port", cfg.History.Database.Port,
			"database", cfg.History.Database.Name,
		)
		if st.pool, err = database.Connect(ctx, cfg.History.Database); err != nil {
			return nil, fmt.Errorf("connect history database: %w", err)
		}

		st.history = history.NewWriter(history.Config{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
		}, st.pool, logger)
		if err = st.history.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("create history schema: %w", err)
		}
		st.history.Start(ctx)

		notifier = recordAfter(st.sink, st.history, logger)
	}

	st.ledger = dedup.New(dedup.Config{
		Capacity: cfg.Dedup.Capacity,
		TTL:      cfg.Dedup.TTL,
	})
	st.pipeline = delivery.NewPipeline(st.ledger, notifier, logger)

	var net jobs.Connectivity = jobs.AlwaysOnline{}
	requireNetwork := config.Enabled(cfg.Polling.RequireNetwork)
	if requireNetwork {
		checker, err := jobs.NewDialChecker(cfg.API.RestURL, cfg.Polling.NetworkTimeout)
		if err != nil {
			return nil, fmt.Errorf("network check: %w", err)
		}
		net = checker
	}
	st.sched = jobs.New(net, logger)

	fcfg := fallback.DefaultConfig()
	fcfg.Interval = cfg.Polling.Interval
	fcfg.BackoffInitial = cfg.Polling.BackoffInitial
	fcfg.BackoffMax = cfg.Polling.BackoffMax
	fcfg.Timeout = cfg.Polling.Timeout
	fcfg.RequireNetwork = requireNetwork
	st.fallback = fallback.New(fcfg, st.sched, st.store, st.client, st.pipeline, logger)

	return st, nil
}

// newManager creates the connection manager on top of st.
func newManager(cfg *config.Config, st *stack, logger *slog.Logger) (*connection.Manager, error) {
	policy, err := connection.NewPolicy(cfg.Stream.ReconnectPolicy, cfg.Stream.ReconnectDelay, cfg.Stream.ReconnectMaxDelay)
	if err != nil {
		return nil, err
	}

	mcfg := connection.ManagerConfig{
		StreamURL:      cfg.Stream.WSURL,
		ConnectTimeout: cfg.Stream.ConnectTimeout,
		CatchUpOnOpen:  cfg.Stream.CatchUpOnOpen,
		Policy:         policy,
		Client: connection.ClientConfig{
			HandshakeTimeout: cfg.Stream.ConnectTimeout,
			PingInterval:     cfg.Stream.PingInterval,
			PingTimeout:      cfg.Stream.PingTimeout,
			WriteTimeout:     cfg.Stream.WriteTimeout,
			BufferSize:       cfg.Stream.BufferSize,
		},
	}

	var opts []connection.ManagerOption
	if cfg.Device.InhibitSleep {
		opts = append(opts, connection.WithWakeLock(wakelock.New("pushlinkd", "Receiving push notifications", logger)))
	}
	return connection.NewManager(mcfg, st.pipeline, st.fallback, logger, opts...), nil
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	ua := cfg.API.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(ua),
	)
}

// close releases everything buildStack opened. The history writer is
// flushed before the database pool goes away.
func (st *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if st.history != nil {
		if err := st.history.Stop(ctx); err != nil {
			st.logger.Warn("history writer stop failed", "error", err)
		}
	}
	if st.pool != nil {
		st.pool.Close()
	}
	if st.sink != nil {
		if err := st.sink.Close(); err != nil {
			st.logger.Warn("closing notify sinks failed", "error", err)
		}
	}
	if st.store != nil {
		if err := st.store.Close(); err != nil {
			st.logger.Warn("closing token store failed", "error", err)
		}
	}
}

// recordAfter presents through sink and records only what was presented.
// A record failure does not undo the presentation, so it is logged and the
// notification still counts as delivered.
func recordAfter(sink, recorder delivery.Notifier, logger *slog.Logger) delivery.Notifier {
	return delivery.NotifierFunc(func(ctx context.Context, msg notification.Message) error {
		if err := sink.Notify(ctx, msg); err != nil {
			return err
		}
		if err := recorder.Notify(ctx, msg); err != nil {
			logger.Warn("failed to record notification history", "key", msg.DedupKey(), "error", err)
		}
		return nil
	})
}
