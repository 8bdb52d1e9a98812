package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/wotideas/ideas-engine/internal/accounts"
	"github.com/wotideas/ideas-engine/internal/api"
	"github.com/wotideas/ideas-engine/internal/auth"
	"github.com/wotideas/ideas-engine/internal/betting"
	"github.com/wotideas/ideas-engine/internal/ideas"
	"github.com/wotideas/ideas-engine/internal/limits"
	"github.com/wotideas/ideas-engine/internal/notify"
	"github.com/wotideas/ideas-engine/internal/resolution"
	"github.com/wotideas/ideas-engine/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.

Uses PostgreSQL when DATABASE_URL is set and the in-memory store otherwise.
REDIS_URL enables the idea cache; NATS_URL mirrors events onto NATS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, logger := opts.Config, opts.Logger

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Store ---
	var base store.Store
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := store.MigrateUp(cfg.DatabaseURL); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "database connection failed", err)
		}
		cleanup = append(cleanup, pool.Close)
		base = store.NewPostgresStore(pool)
		logger.Info("connected to PostgreSQL")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		base = store.NewMemoryStore()
	}
	coll := store.Collections{Ledger: base, Ideas: base, Events: base}

	// Redis read-through cache for idea reads.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid REDIS_URL", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		coll.Ideas = store.NewCachedIdeas(base, rdb, cfg.CacheTTL)
		logger.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	// --- Event fan-out ---
	hub := api.NewWSHub(logger)
	publishers := []notify.Publisher{hub}
	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "NATS connection failed", err)
		}
		cleanup = append(cleanup, func() { nc.Close() })
		publishers = append(publishers, nc)
	}
	coll.Events = notify.NewEvents(base, logger, publishers...)

	// --- Services ---
	stakeLimiter := limits.NewStakeLimiter(cfg.MaxStakePerBet, cfg.MaxStakePerIdea)
	settle := store.Collections{Ledger: coll.Ledger, Ideas: settlementIdeas(coll.Ideas), Events: coll.Events}
	deps := api.Deps{
		Ideas:      ideas.NewService(coll, logger),
		Accounts:   accounts.NewService(coll, coll, cfg.StartingBalance, logger),
		Betting:    betting.NewEngine(settle, stakeLimiter, logger),
		Resolution: resolution.NewEngine(settle, cfg.VoidPolicy, logger),
		Auth:       auth.New(cfg.JWTSecret, cfg.JWTTTL, cfg.Admins, logger),
		Hub:        hub,
		Logger:     logger,
	}
	if cfg.BetRateLimit != "" {
		rl, err := api.NewRateLimiter(cfg.BetRateLimit)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid BET_RATE_LIMIT", err)
		}
		deps.BetLimiter = rl
	}

	go hub.Run(ctx)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewHandler(deps).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("ideas-engine listening", "port", cfg.Port, "void_policy", cfg.VoidPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return WrapExitError(ExitCommandError, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down ideas-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	logger.Info("ideas-engine stopped")
	return nil
}

// settlementIdeas strips the read cache from the idea store used to place
// bets and pay prizes. Both act on the stake list and must see every stake.
func settlementIdeas(ideas store.Ideas) store.Ideas {
	if cached, ok := ideas.(*store.CachedIdeas); ok {
		return cached.Consistent()
	}
	return ideas
}
