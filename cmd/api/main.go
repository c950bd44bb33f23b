package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/ledgerpay/internal/api"
	"github.com/punchamoorthee/ledgerpay/internal/cache"
	"github.com/punchamoorthee/ledgerpay/internal/config"
	"github.com/punchamoorthee/ledgerpay/internal/events"
	"github.com/punchamoorthee/ledgerpay/internal/index"
	"github.com/punchamoorthee/ledgerpay/internal/ledger"
	"github.com/punchamoorthee/ledgerpay/internal/logger"
	"github.com/punchamoorthee/ledgerpay/internal/orders"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	slogger, sync := logger.New(cfg.Env)
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, otherwise the in-memory store.
	var st store.Store
	if cfg.DBSource != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DBSource, cfg.TopicOrderCreated)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		st = pg
	} else {
		slogger.Warn("DB_SOURCE not set, using in-memory store")
		st = store.NewMemoryStore(cfg.TopicOrderCreated)
	}
	defer st.Close()

	// Eventing: Kafka when brokers are configured, otherwise an in-process bus
	// so the listing index still converges asynchronously.
	var (
		pub events.Publisher
		src events.Source
	)
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.TopicOrderCreated)
		defer writer.Close()
		reader := events.NewKafkaReader(cfg.KafkaBrokers, cfg.TopicOrderCreated, cfg.ConsumerGroupID)
		defer reader.Close()
		pub = events.NewKafkaPublisher(writer)
		src = events.NewKafkaSource(reader)
	} else {
		slogger.Warn("KAFKA_BROKERS not set, using in-process event bus")
		bus := events.NewBus(0)
		pub = bus
		src = bus
	}

	var balanceCache *cache.BalanceCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		balanceCache = cache.NewBalanceCache(client, cfg.CacheTTL)
	}

	ledgerSvc := ledger.NewService(st, balanceCache, slogger)
	orderSvc := orders.NewService(st, ledgerSvc, slogger)
	indexSvc := index.NewService(st)

	handler := api.NewHandler(ledgerSvc, orderSvc, indexSvc, cfg.RequestTimeout, slogger)
	router := api.NewRouter(handler, cfg.BasePath, slogger)

	relay := events.NewRelay(st, pub, cfg.OutboxPollInterval, cfg.OutboxBatchSize, slogger)
	consumer := index.NewConsumer(st, src, slogger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slogger.Info("server starting", "addr", cfg.HTTPAddr, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return relay.Run(gctx)
	})

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server exited: %v", err)
	}
	slogger.Info("server stopped")
}
