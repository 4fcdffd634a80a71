package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storytime-server/internal/config"
	"storytime-server/internal/database"
	"storytime-server/internal/handler"
	"storytime-server/internal/lock"
	"storytime-server/internal/messaging"
	"storytime-server/internal/model"
	"storytime-server/internal/pipeline"
	"storytime-server/internal/provider"
	"storytime-server/internal/repository"
	"storytime-server/internal/safety"
	"storytime-server/internal/service"
	"storytime-server/internal/storage"
	pkgdb "storytime-server/pkg/database"
	"storytime-server/pkg/logger"
	"storytime-server/pkg/migration"
	"storytime-server/pkg/retry"
	"storytime-server/pkg/taskmanager"
)

const taskRetention = time.Hour

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "storytime-server",
		Sample:   cfg.Env == "production",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	logger.SetupZerolog(cfg.LogLevel, cfg.Env)
	cfg.LogSummary(log)

	// closers выполняются при остановке в обратном порядке.
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// --- Stores ---
	repo, closeRepo, err := setupRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize story repository", zap.Error(err))
	}
	closers = append(closers, closeRepo)

	objects, closeObjects, err := setupObjectStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize object storage", zap.Error(err))
	}
	closers = append(closers, closeObjects)

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		closers = append(closers, func() { _ = client.Close() })
		locker = lock.NewRedisLocker(client, cfg.LockTTL, cfg.LockKeyPrefix, log)
	}

	statusHub := messaging.NewStatusHub(cfg.StatusStreamBuffer, log)
	notifiers := messaging.MultiNotifier{statusHub}
	if cfg.RabbitMQURL != "" {
		conn, err := messaging.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, 5, 3*time.Second, log)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		closers = append(closers, func() { _ = conn.Close() })
		rabbit, err := messaging.NewRabbitMQNotifier(conn, cfg.StatusExchange, log)
		if err != nil {
			log.Fatal("Failed to create status publisher", zap.Error(err))
		}
		closers = append(closers, func() { _ = rabbit.Close() })
		notifiers = append(notifiers, rabbit)
	}
	var notifier messaging.Notifier = notifiers

	// --- Pipeline ---
	providers, err := provider.NewSet(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize AI providers", zap.Error(err))
	}
	catalog := model.NewStoryTypeCatalog(cfg.BackgroundMusic)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Repo:      repo,
		Storage:   objects,
		Providers: providers,
		Safety:    safety.NewValidator(cfg.SafetyExtraTerms...),
		Notifier:  notifier,
		Retry:     retry.NewExecutor(log, nil),
	}, pipeline.Config{
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.AIMaxAttempts,
			BaseDelay:   cfg.AIBaseRetryDelay,
			MaxDelay:    cfg.AIMaxRetryDelay,
			Retryable:   model.IsRetryable,
		},
		Temperature:                cfg.AITemperature,
		IllustrationCount:          cfg.IllustrationCount,
		PlaceholderIllustrationURL: cfg.PlaceholderIllustrationURL,
		MaxCharacters:              cfg.MaxCharacters,
	}, log)

	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxConcurrentRuns})
	storyService := service.NewStoryService(repo, locker, tasks, orchestrator, catalog, notifier, service.Config{
		MaxCharacters:   cfg.MaxCharacters,
		MaxPromptLength: cfg.MaxPromptLength,
	}, log)
	storyHandler := handler.NewStoryHandler(storyService, cfg.MaxUploadMB<<20, log).WithStatusStream(statusHub)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go cleanupTasks(cleanupCtx, tasks, log)

	// --- HTTP ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(handler.ZapLoggingMiddleware(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if origins := splitOrigins(cfg.CORSOrigins); len(origins) == 0 || origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-User-ID", "X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", handler.HealthCheck)
	router.HEAD("/health", handler.HealthCheck)
	if cfg.StorageDriver == "local" {
		router.Static(mediaRoute(cfg.PublicBaseURL), cfg.LocalSavePath)
	}
	storyHandler.RegisterRoutes(router)

	// Метрики подключаются после регистрации маршрутов, /metrics отдает ginprometheus.
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("Starting HTTP server", zap.String("port", cfg.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	shutdownCancel()
	stopCleanup()

	// Прогоны не отменяются, ждем их завершения в пределах ShutdownTimeout.
	log.Info("Waiting for running stories", zap.Int("active", tasks.ActiveTasks()))
	runsCtx, runsCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := tasks.Shutdown(runsCtx); err != nil {
		log.Warn("Some story runs did not finish before shutdown", zap.Error(err))
	}
	runsCancel()

	log.Info("Server exiting")
}

func setupRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.StoryRepository, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("Using in-memory story repository, stories are lost on restart")
		return repository.NewMemoryStoryRepository(), func() {}, nil
	case "sqlite":
		repo, err := repository.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}

	pool, err := pkgdb.NewPool(ctx, pkgdb.Config{
		DSN:             cfg.GetDSN(),
		MaxConns:        int32(cfg.DBMaxConns),
		MaxConnIdleTime: cfg.DBIdleTimeout,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: database.MigrationsPath,
		MigrationsFS:   database.MigrationsFS,
	}, pool, log)
	if err := migrator.Up(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return repository.NewPgStoryRepository(pool, log), pool.Close, nil
}

func setupObjectStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.ObjectStorage, func(), error) {
	if cfg.StorageDriver == "gcs" {
		gcs, err := storage.NewGCSStorage(ctx, storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			PublicBaseURL:   cfg.GCSPublicBaseURL,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { _ = gcs.Close() }, nil
	}
	local, err := storage.NewLocalStorage(cfg.LocalSavePath, cfg.PublicBaseURL, log)
	if err != nil {
		return nil, nil, err
	}
	return local, func() {}, nil
}

func cleanupTasks(ctx context.Context, tasks *taskmanager.TaskManager, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tasks.CleanupTasks(taskRetention); n > 0 {
				log.Debug("Finished tasks cleaned up", zap.Int("removed", n))
			}
		}
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// mediaRoute берет путь из PUBLIC_BASE_URL, по нему раздаются локальные файлы.
func mediaRoute(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/media"
	}
	return strings.TrimRight(u.Path, "/")
}
