package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/internal/api"
	"checkout-service/internal/config"
	"checkout-service/internal/consumer"
	"checkout-service/internal/service"
	"checkout-service/migrations"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		skipMigrate  bool
		noReconciler bool
		noConsumer   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the pending-payment reconciler and the order event consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !skipMigrate {
				if err := migrations.AutoMigrate(ctx, a.cfg.MySQL.MigrateRetries, a.dbs...); err != nil {
					return err
				}
			}

			e := api.NewRouter(api.NewOrderHandler(a.svc), api.RouterConfig{
				RateLimit:  a.cfg.Limiter.Rate,
				RateBurst:  a.cfg.Limiter.Burst,
				LimiterTTL: a.cfg.Limiter.TTL,
				JWTSecret:  a.cfg.JWT.Secret,
				Logger:     a.logger,
			})

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Msg("Starting HTTP server")
				if err := e.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return e.Shutdown(shutdownCtx)
			})

			if !noReconciler {
				g.Go(func() error {
					service.NewReconciler(a.svc, a.cfg.Reconcile.Interval, a.logger).Start(gctx)
					return nil
				})
			}

			if !noConsumer {
				reader := config.NewKafkaReader(a.cfg.Kafka)
				g.Go(func() error {
					defer reader.Close()
					consumer.NewConsumer(reader, a.svc, a.logger).Start(gctx)
					return nil
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not run schema migrations on startup")
	cmd.Flags().BoolVar(&noReconciler, "no-reconciler", false, "do not run the pending-payment reconciler")
	cmd.Flags().BoolVar(&noConsumer, "no-consumer", false, "do not consume order events")

	return cmd
}
