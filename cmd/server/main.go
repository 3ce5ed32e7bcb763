package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/config"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/database"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/httpapi"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/hub"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/logging"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/session"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.CheckErr(newCmd().ExecuteContext(ctx))
}

func newCmd() *cobra.Command {
	cfg := &config.Config{}
	var envFile string

	cmd := &cobra.Command{
		Use:   "party-server",
		Short: "Shared room state for couples' party games.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Bind(cmd.Flags(), envFile); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading PARTY_* variables")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, database.Close(db)) }()

	dir := directory.NewGorm(db)
	if err := dir.Migrate(ctx); err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	engines, err := engine.DefaultRegistry().WithFallback(engine.GameType(cfg.DefaultGame))
	if err != nil {
		return err
	}

	// the hub outlives ctx so in-flight requests drain during shutdown
	h := hub.NewHub(context.Background())
	defer h.Shutdown()

	var opts []session.Option
	if cfg.StrictVersions {
		opts = append(opts, session.WithStrictVersions(true))
	}
	svc := session.NewService(dir, st, h, engines, log.Named("session"), opts...)
	sweeper := session.NewSweeper(dir, st, h, cfg.SweepInterval, log.Named("sweeper"))

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Directory:  dir,
			Sessions:   svc,
			Hub:        h,
			Log:        log.Named("http"),
			DefaultTTL: cfg.RoomTTL,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore builds the configured session state store and its closer.
func openStore(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	sql := store.NewGorm(db)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return store.NewMemory(), noop, nil
	case config.StoreSQL:
		if err := sql.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return sql, noop, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	rs := store.NewRedis(client, cfg.StateTTL)
	if !cfg.StoreFallback {
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return rs, client.Close, nil
	}

	if err := sql.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, serving from sql until it returns", zap.Error(err))
	}
	return store.NewFallback(rs, sql, log.Named("store")), client.Close, nil
}
