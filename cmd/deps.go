package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
	"checkout-service/internal/service"
	"checkout-service/internal/sharding"
	"checkout-service/internal/signature"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

func connectDB(ctx context.Context, dsn string, retries int, logger zerolog.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < retries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				return db, nil
			}
			_ = db.Close()
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to DB, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to DB after %d retries: %w", retries, err)
}

func connectShards(ctx context.Context, cfg config.MySQL, logger zerolog.Logger) ([]*sql.DB, error) {
	dbs := make([]*sql.DB, 0, len(cfg.DSNs))
	for i, dsn := range cfg.DSNs {
		db, err := connectDB(ctx, dsn, cfg.ConnectRetries, logger.With().Int("shard", i).Logger())
		if err != nil {
			closeAll(dbs)
			return nil, err
		}
		logger.Info().Int("shard", i).Msg("Connected to DB")
		dbs = append(dbs, db)
	}
	return dbs, nil
}

func closeAll(dbs []*sql.DB) {
	for _, db := range dbs {
		_ = db.Close()
	}
}

// app holds everything the server-side commands share.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	dbs    []*sql.DB
	rdb    *redis.Client
	writer *kafka.Writer
	svc    *service.OrderService
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, config.NewLogger(cfg), nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	dbs, err := connectShards(ctx, cfg.MySQL, logger)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	writer := config.NewKafkaWriter(cfg.Kafka)

	verifier := signature.NewVerifier(cfg.PhonePe.SaltKey, cfg.PhonePe.SaltIndex)
	phonepe, err := gateway.NewPhonePe(gateway.Config{
		MerchantID:  cfg.PhonePe.MerchantID,
		Environment: cfg.PhonePe.Environment,
		BaseURL:     cfg.PhonePe.BaseURL,
		Timeout:     cfg.PhonePe.Timeout,
	}, verifier, logger)
	if err != nil {
		closeAll(dbs)
		return nil, err
	}

	router := sharding.NewShardRouter(len(dbs))
	svc := service.NewOrderService(service.Deps{
		Orders:      repository.NewOrderRepository(dbs, router),
		Carts:       repository.NewCartRepository(rdb),
		Idempotency: repository.NewIdempotencyRepository(rdb),
		Gateway:     phonepe,
		Verifier:    verifier,
		Events:      events.NewPublisher(writer),
	}, service.Options{
		FrontendURL:        cfg.URLs.Frontend,
		BackendURL:         cfg.URLs.Backend,
		PendingExpiry:      cfg.Reconcile.PendingExpiry,
		ReconcileBatchSize: cfg.Reconcile.BatchSize,
	}, logger)

	return &app{cfg: cfg, logger: logger, dbs: dbs, rdb: rdb, writer: writer, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.writer.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Error closing kafka writer")
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Error closing redis client")
	}
	closeAll(a.dbs)
}
