package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"taskoracle/internal/common/cache"
	"taskoracle/internal/common/db"
	commonmw "taskoracle/internal/common/http/middleware"
	"taskoracle/internal/common/mq"
	"taskoracle/internal/common/storage"
	"taskoracle/internal/oracle/controller"
	"taskoracle/internal/oracle/generator"
	"taskoracle/internal/oracle/llm"
	"taskoracle/internal/oracle/observer"
	"taskoracle/internal/oracle/repository"
	"taskoracle/internal/oracle/sandbox"
	"taskoracle/internal/oracle/sandbox/engine"
	"taskoracle/internal/oracle/service"
	"taskoracle/internal/oracle/testgen"
	"taskoracle/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/oracle_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	var store repository.Store
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			logger.Error(ctx, "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		mysqlStore := repository.NewMySQLStore(mysqlDB)
		if err := mysqlStore.Migrate(ctx); err != nil {
			logger.Error(ctx, "migrate database failed", zap.Error(err))
			return
		}
		store = mysqlStore
	} else {
		logger.Warn(ctx, "database dsn not set, using in-memory store")
		store = repository.NewMemoryStore()
	}

	var redisCache *cache.RedisCache
	if appCfg.Redis.Enabled() {
		redisCache, err = cache.NewRedisCacheWithConfig(appCfg.Redis)
		if err != nil {
			logger.Error(ctx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		store = repository.NewCachedStore(store, redisCache, appCfg.Cache)
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		if err := minioStorage.EnsureBucket(ctx, appCfg.MinIO.Bucket); err != nil {
			logger.Error(ctx, "ensure snapshot bucket failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	} else {
		objStorage = storage.NewMemoryStorage()
	}
	snapshots, err := repository.NewSnapshotStore(objStorage, appCfg.MinIO.Bucket)
	if err != nil {
		logger.Error(ctx, "init snapshot store failed", zap.Error(err))
		return
	}

	var events repository.EventPublisher = repository.NopEventPublisher{}
	if appCfg.Kafka.Enabled() {
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka.toQueueConfig())
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaQueue.Close()
		}()
		pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
		if err := kafkaQueue.Ping(pingCtx); err != nil {
			logger.Warn(ctx, "kafka brokers unreachable, events will retry on publish", zap.Error(err))
		}
		cancel()
		events = repository.NewMQEventPublisher(kafkaQueue, appCfg.Kafka.Topics)
	}

	completer, err := buildCompleter(appCfg.LLM)
	if err != nil {
		logger.Error(ctx, "init llm failed", zap.Error(err))
		return
	}
	specs := generator.New(completer, nil, generator.Config{
		Retries:             *appCfg.LLM.SpecRetries,
		Temperature:         appCfg.LLM.Temperature,
		FallbackDegradation: *appCfg.Oracle.FallbackDegradation,
	})
	tests := testgen.New(completer)

	eng, err := engine.NewEngine(appCfg.Sandbox.Engine)
	if err != nil {
		logger.Error(ctx, "init sandbox engine failed", zap.Error(err))
		return
	}
	runner, err := sandbox.NewRunner(eng, appCfg.Sandbox.Config)
	if err != nil {
		logger.Error(ctx, "init sandbox runner failed", zap.Error(err))
		return
	}

	oracleService, err := service.NewOracleService(service.Config{
		Store:              store,
		Snapshots:          snapshots,
		Events:             events,
		Specs:              specs,
		Tests:              tests,
		Sandbox:            runner,
		ConfidenceFloor:    appCfg.Oracle.ConfidenceFloor,
		DefaultPublicCount: appCfg.Oracle.DefaultPublicCount,
		DefaultHiddenCount: appCfg.Oracle.DefaultHiddenCount,
		RunTimeout:         appCfg.Sandbox.Timeout,
		RunPoolSize:        appCfg.Sandbox.PoolSize,
		AcquireTimeout:     appCfg.Sandbox.AcquireTimeout,
		AllowFilePath:      *appCfg.Sandbox.AllowFilePath,
	})
	if err != nil {
		logger.Error(ctx, "init oracle service failed", zap.Error(err))
		return
	}

	if err := controller.RegisterValidators(); err != nil {
		logger.Error(ctx, "register validators failed", zap.Error(err))
		return
	}

	var limiter *commonmw.RateLimiter
	if redisCache != nil {
		limiter = commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.Window, appCfg.RateLimit.Timeout, "oracle:rl")
	}
	httpServer := buildHTTPServer(appCfg, oracleService, limiter)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "oracle http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("llm_provider", appCfg.LLM.Provider),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}

func buildCompleter(cfg LLMConfig) (llm.Completer, error) {
	if cfg.Provider == providerMock {
		return observer.NewInstrumentedCompleter(llm.MockCompleter{}, providerMock), nil
	}
	openAI, err := llm.NewOpenAICompleter(llm.OpenAIConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		RPS:     cfg.RPS,
		Burst:   cfg.Burst,
	})
	if err != nil {
		return nil, err
	}
	return observer.NewInstrumentedCompleter(openAI, providerOpenAI), nil
}

func buildHTTPServer(cfg *AppConfig, oracleService *service.OracleService, limiter *commonmw.RateLimiter) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(observer.HTTPMetricsMiddleware())

	router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1/oracle")
	controller.RegisterRoutes(api, controller.NewOracleController(oracleService), controller.Guards{
		LLM:     []gin.HandlerFunc{commonmw.RateLimitMiddleware(limiter, "analyze", cfg.RateLimit.AnalyzeMax)},
		Sandbox: []gin.HandlerFunc{commonmw.RateLimitMiddleware(limiter, "run", cfg.RateLimit.RunMax)},
	})

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
