package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-service/config"
	"pos-service/internal/api"
	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"
	"pos-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// posStore is implemented by both the Postgres and the in-memory store
type posStore interface {
	service.StockStore
	service.RecipeStore
	service.OrderStore
	service.CustomerStore
	CreateRecipe(ctx context.Context, r *models.Recipe) error
	CreateCustomer(ctx context.Context, c *models.Customer) error
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (posStore, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	db, err := store.NewStore(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("pos-service", cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()

	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer db.Close()
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	var publisher service.EventPublisher
	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))
	}

	var sequences service.SequenceAllocator
	if redisClient != nil {
		sequences = redisClient
	}

	stockService := service.NewStockService(db, publisher, cfg.Business)
	recipeResolver := service.NewRecipeResolver(db)
	numbers := service.NewOrderNumberGenerator(sequences, cfg.Business.OrderNumberPrefix)
	orderService := service.NewOrderService(db, db, stockService, recipeResolver, numbers, publisher, cfg.Business)
	reversalService := service.NewReversalService(db, db, stockService, recipeResolver, publisher, cfg.Business)
	if redisClient != nil {
		orderService.UseIdempotencyCache(redisClient)
	}

	if cfg.Database.Driver == "memory" {
		if err := seedDemoData(ctx, db, stockService); err != nil {
			logger.Fatal("Failed to seed demo data", zap.Error(err))
		}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var lowStockWorker *worker.LowStockWorker
	if cfg.Kafka.Enabled && redisClient != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		lowStockWorker = worker.NewLowStockWorker(consumer, stockService, redisClient)
		go func() {
			if err := lowStockWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Low stock worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, reversalService, stockService, recipeResolver)
	handler.AddReadinessCheck("store", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if lowStockWorker != nil {
		if err := lowStockWorker.Stop(); err != nil {
			logger.Warn("Error stopping low stock worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
