// The tracking service consumes decoded tracker events from the broker,
// resolves them to registered trackers, appends positions to the log and fans
// them out to WebSocket subscribers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/identity"
	"github.com/illmade-knight/go-trackflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trackflow/pkg/microservice"
	"github.com/illmade-knight/go-trackflow/pkg/positions"
	"github.com/illmade-knight/go-trackflow/pkg/realtime"
	"github.com/illmade-knight/go-trackflow/pkg/relay"
	"github.com/illmade-knight/go-trackflow/pkg/router"
	"github.com/illmade-knight/go-trackflow/pkg/trackers"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := newLogger().With().Str("service", "tracking").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerCfg := relay.NewNatsBrokerDefaults()
	nc, err := nats.Connect(brokerCfg.URL,
		nats.Name("trackflow-tracking"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logger.Fatal().Err(err).Str("url", brokerCfg.URL).Msg("Failed to connect to broker.")
	}
	defer nc.Close()

	store, userResolver := buildStores(ctx, logger)

	consumerCfg := messagepipeline.NewNatsConsumerDefaults(brokerCfg.SubjectRoot)
	consumerCfg.QueueGroup = os.Getenv("NATS_QUEUE_GROUP")
	consumer, err := messagepipeline.NewNatsConsumer(consumerCfg, nc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build broker consumer.")
	}

	inserter, closeInserter := buildInserter(ctx, logger)
	defer closeInserter()
	batcher := positions.NewBatcher(positions.NewBatcherDefaults(), inserter, logger)
	lastPositions := buildLastPositionCache(ctx, logger)

	hub := realtime.NewHub(logger)
	cache := identity.NewCache(identity.NewCacheDefaults(), store, logger)

	svc, err := router.NewService(&router.ServiceConfig{NumWorkers: 5},
		consumer, cache, batcher, lastPositions, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build router service.")
	}

	health := microservice.NewBaseServer(httpPort(), logger)
	wsHandler := realtime.NewHandler(realtime.NewHandlerDefaults(), hub, store, userResolver, logger)
	health.Mux().Handle("GET /ws", wsHandler)

	if err := health.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}
	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start router service.")
	}
	logger.Info().Msg("Tracking service started.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Router service shutdown failed.")
	}
	if err := lastPositions.Close(); err != nil {
		logger.Error().Err(err).Msg("Last-position cache close failed.")
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	logger.Info().Msg("Tracking service stopped.")
}

// buildStores selects Firestore-backed tracker and user stores when a project
// is configured, in-memory ones otherwise.
func buildStores(ctx context.Context, logger zerolog.Logger) (trackers.Store, realtime.UserResolver) {
	projectID := os.Getenv("FIRESTORE_PROJECT_ID")
	if projectID == "" {
		logger.Warn().Msg("FIRESTORE_PROJECT_ID not set, using empty in-memory stores.")
		return trackers.NewInMemoryStore(), realtime.NewStaticUserResolver(nil)
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Firestore client.")
	}

	store, err := trackers.NewFirestoreStore(&trackers.FirestoreConfig{
		ProjectID:      projectID,
		CollectionName: envOr("TRACKERS_COLLECTION", "trackers"),
	}, client, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build tracker store.")
	}
	users, err := realtime.NewFirestoreUserResolver(client, envOr("USERS_COLLECTION", "users"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build user resolver.")
	}
	return store, users
}

// buildInserter selects the BigQuery position sink when configured, an
// in-memory one otherwise.
func buildInserter(ctx context.Context, logger zerolog.Logger) (positions.BatchInserter, func()) {
	cfg := &positions.BigQueryConfig{
		ProjectID:       os.Getenv("BIGQUERY_PROJECT_ID"),
		DatasetID:       envOr("BIGQUERY_DATASET_ID", "tracking"),
		TableID:         envOr("BIGQUERY_TABLE_ID", "positions"),
		CredentialsFile: os.Getenv("BIGQUERY_CREDENTIALS_FILE"),
	}
	if cfg.ProjectID == "" {
		logger.Warn().Msg("BIGQUERY_PROJECT_ID not set, positions stay in memory.")
		return positions.NewInMemoryInserter(), func() {}
	}

	client, err := positions.NewBigQueryClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create BigQuery client.")
	}
	inserter, err := positions.NewBigQueryInserter(ctx, client, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build position inserter.")
	}
	return inserter, func() { _ = client.Close() }
}

// buildLastPositionCache selects Redis when configured, in-memory otherwise.
func buildLastPositionCache(ctx context.Context, logger zerolog.Logger) positions.LastPositionCache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Warn().Msg("REDIS_ADDR not set, last positions stay in memory.")
		return positions.NewInMemoryLastPositionCache()
	}
	cache, err := positions.NewRedisLastPositionCache(ctx, &positions.RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect last-position cache.")
	}
	return cache
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func httpPort() string {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		return port
	}
	return ":8081"
}
