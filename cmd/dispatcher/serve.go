package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scan-dispatcher/internal/api"
	"scan-dispatcher/internal/archive"
	"scan-dispatcher/internal/config"
	"scan-dispatcher/internal/dispatch"
	"scan-dispatcher/internal/logger"
	"scan-dispatcher/internal/notify"
	"scan-dispatcher/internal/ratelimit"
	"scan-dispatcher/internal/store"
)

var flagMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent API",
	RunE:  doServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagMigrate, "migrate", true, "apply database migrations before serving (postgres only)")
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx, flagMigrate)
	if err != nil {
		return err
	}
	defer st.Close()

	limiter, closeLimiter, err := newLimiter(ctx)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var sender notify.Sender
	if cfg.SMTPAddr != "" {
		s, err := notify.NewSMTPSender(cfg.SMTPAddr, cfg.MailFrom, cfg.SMTPUsername, cfg.SMTPPassword)
		if err != nil {
			return fmt.Errorf("init mail: %w", err)
		}
		sender = s
	} else {
		logger.Warn("SMTP_ADDR not set, completion emails are disabled")
	}

	var archiver dispatch.Archiver
	if archive.Enabled(cfg) {
		a, err := archive.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		archiver = a
	}

	server := api.New(
		dispatch.NewGate(st),
		dispatch.NewCoordinator(st),
		dispatch.NewIngestor(st, sender, archiver),
		limiter,
	)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("dispatcher listening on :%s (store=%s rate_limit=%s)", cfg.HTTPPort, cfg.StoreBackend, cfg.RateLimitBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, migrate bool) (store.Backend, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pg, ok := st.(*store.Postgres); ok && migrate {
		if err := pg.RunMigrations(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	return st, nil
}

// newLimiter returns a nil Limiter when rate limiting is off.
func newLimiter(ctx context.Context) (ratelimit.Limiter, func(), error) {
	var client *redis.Client
	closeFn := func() {}
	if cfg.RateLimitBackend == config.BackendRedis {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, closeFn, fmt.Errorf("connect rate limit redis: %w", err)
		}
		closeFn = func() { _ = client.Close() }
	}
	limiter, err := ratelimit.New(cfg, client)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return limiter, closeFn, nil
}
