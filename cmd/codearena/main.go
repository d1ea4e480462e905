package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/http/middleware"
	"codearena/internal/common/metrics"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	contestController "codearena/internal/contest/controller"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	"codearena/internal/executor"
	problemController "codearena/internal/problem/controller"
	problemRepo "codearena/internal/problem/repository"
	problemService "codearena/internal/problem/service"
	submissionController "codearena/internal/submission/controller"
	submissionRepo "codearena/internal/submission/repository"
	submissionService "codearena/internal/submission/service"
	"codearena/pkg/utils/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/codearena.yaml"

type controllers struct {
	submissions *submissionController.SubmissionController
	contests    *contestController.ContestController
	problems    *problemController.ProblemController
	pool        *db.Pool
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "codearena stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	appMetrics := metrics.New()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.MySQL)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewPool(mysqlDB)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var mqClient *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
	} else {
		logger.Warn(ctx, "kafka brokers not configured, verdict and disqualification events are disabled")
	}

	var objStorage *storage.MinIOStorage
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err = storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
	}

	judge0, err := executor.NewJudge0Client(appCfg.Executor, appMetrics)
	if err != nil {
		return fmt.Errorf("init executor client failed: %w", err)
	}

	problems, err := buildProblemService(appCfg, dbProvider, redisCache, objStorage)
	if err != nil {
		return err
	}

	// Contest admission: LRU in front of redis in front of MySQL.
	disqualifications := contestRepo.NewDisqualificationRepository(dbProvider)
	dqCache := contestRepo.NewDisqualificationCache(
		contestRepo.NewLRUCache[bool](appCfg.Contest.LocalCacheSize, appCfg.Contest.LocalCacheTTL),
		redisCache,
		appCfg.Contest.RedisCacheTTL,
		appCfg.Timeouts.Cache,
	)
	guard := contestService.NewAdmissionGuard(
		contestRepo.NewContestRepository(dbProvider, redisCache),
		disqualifications,
		dqCache,
		appMetrics,
	)
	contestCfg := contestService.ContestServiceConfig{
		Guard:        guard,
		Disqualified: disqualifications,
		Violations:   contestRepo.NewViolationRepository(dbProvider),
		Cache:        dqCache,
		EventTopic:   appCfg.Topics.Disqualifications,
		MQTimeout:    appCfg.Timeouts.MQ,
	}
	if mqClient != nil {
		contestCfg.Producer = mqClient
	}
	contests := contestService.NewContestService(contestCfg)

	submissions := submissionRepo.NewSubmissionRepository(dbProvider)
	solved := submissionRepo.NewSolvedProblemRepository(dbProvider)
	leaderboard := submissionRepo.NewLeaderboardCache(redisCache, appCfg.Submission.LeaderboardTTL)

	var archiver *submissionService.SourceArchiver
	if appCfg.Submission.Archive {
		archiver, err = submissionService.NewSourceArchiver(objStorage, appCfg.Submission.ArchiveBucket, appCfg.Submission.ArchivePrefix, appCfg.Timeouts.Storage)
		if err != nil {
			return fmt.Errorf("init source archiver failed: %w", err)
		}
	}
	var events *submissionService.VerdictPublisher
	if mqClient != nil {
		events = submissionService.NewVerdictPublisher(mqClient, appCfg.Topics.Verdicts, appCfg.Timeouts.MQ)
	}

	orchestrator, err := submissionService.NewOrchestrator(submissionService.Config{
		DB:             dbProvider,
		Submissions:    submissions,
		Ledger:         submissionRepo.NewLedgerRepository(dbProvider),
		Solved:         solved,
		Problems:       problems,
		Admission:      guard,
		Executor:       judge0,
		Cache:          redisCache,
		Results:        submissionRepo.NewResultCache(redisCache, appCfg.Submission.ResultCacheTTL),
		Leaderboard:    leaderboard,
		Archiver:       archiver,
		Events:         events,
		Metrics:        appMetrics,
		MaxCodeBytes:   appCfg.Submission.MaxCodeBytes,
		ProbeDelay:     appCfg.Executor.ProbeDelay,
		RunPollDelay:   appCfg.Submission.RunPollDelay,
		IdempotencyTTL: appCfg.Submission.IdempotencyTTL,
		RateLimit:      appCfg.Submission.RateLimit,
		Timeouts:       appCfg.Timeouts,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator failed: %w", err)
	}
	queries, err := submissionService.NewQueryService(submissionService.QueryConfig{
		Submissions: submissions,
		Solved:      solved,
		Stats:       submissionRepo.NewStatsRepository(dbProvider),
		Leaderboard: leaderboard,
		Problems:    problems,
		Timeouts:    appCfg.Timeouts,
	})
	if err != nil {
		return fmt.Errorf("init query service failed: %w", err)
	}

	if mqClient != nil {
		consumer := contestService.NewDisqualificationConsumer(mqClient, dqCache)
		if err := consumer.Subscribe(ctx, appCfg.Topics.Disqualifications, replicaGroup(appCfg.Kafka.GroupPrefix)); err != nil {
			return fmt.Errorf("subscribe disqualification topic failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	httpServer := buildHTTPServer(appCfg, appMetrics, controllers{
		submissions: submissionController.NewSubmissionController(orchestrator, queries),
		contests:    contestController.NewContestController(contests),
		problems:    problemController.NewProblemController(problems),
		pool:        dbProvider,
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "codearena http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	drainCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildProblemService(appCfg *AppConfig, provider db.Provider, redisCache cache.Cache, objStorage *storage.MinIOStorage) (*problemService.ProblemService, error) {
	var assets problemRepo.AssetStore
	switch appCfg.Problems.Source {
	case problemSourceMinIO:
		if objStorage == nil {
			return nil, fmt.Errorf("minio problem source requires a minio endpoint")
		}
		store, err := problemRepo.NewObjectAssetStore(objStorage, appCfg.Problems.Bucket, appCfg.Problems.Prefix)
		if err != nil {
			return nil, fmt.Errorf("init problem asset store failed: %w", err)
		}
		assets = store
	default:
		store, err := problemRepo.NewLocalAssetStore(appCfg.Problems.Root)
		if err != nil {
			return nil, fmt.Errorf("init problem asset store failed: %w", err)
		}
		assets = store
	}

	repo := problemRepo.NewProblemRepositoryWithTTL(provider, redisCache, appCfg.Problems.CacheTTL, appCfg.Problems.EmptyTTL)
	testCases := problemService.NewTestCaseProvider(assets, problemService.TestCaseProviderConfig{
		VisibleCount: appCfg.Problems.VisibleCount,
		ReadParallel: appCfg.Problems.ReadParallel,
	})
	return problemService.NewProblemService(repo, testCases, problemService.NewTemplateLoader(assets)), nil
}

func buildHTTPServer(appCfg *AppConfig, appMetrics *metrics.Metrics, h controllers) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(corsMiddleware(appCfg.Server.CORSOrigins))
	router.Use(appMetrics.GinMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.IdentityMiddleware(appCfg.Auth))

	router.GET("/healthz", func(c *gin.Context) {
		stats, err := h.pool.Health(c.Request.Context())
		if err != nil {
			logger.Warn(c.Request.Context(), "database health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dbInUse": stats.InUse})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dbOpen": stats.OpenConnections, "dbInUse": stats.InUse})
	})
	router.GET("/metrics", gin.WrapH(appMetrics.Handler()))

	api := router.Group("/api/v1", middleware.RequireUser())

	submissions := api.Group("/submissions")
	submissions.POST("", h.submissions.Create)
	submissions.GET("", h.submissions.History)
	submissions.POST("/run", h.submissions.Run)
	submissions.GET("/:id", h.submissions.Poll)

	api.GET("/users/me/stats", h.submissions.Stats)
	api.GET("/leaderboard", middleware.RequireRole(middleware.RoleAdmin), h.submissions.Leaderboard)

	contests := api.Group("/contests")
	contests.GET("/:id/status", h.contests.Status)
	contests.POST("/violations", h.contests.ReportViolation)
	contests.POST("/disqualifications", h.contests.SetDisqualification)

	api.GET("/problems/:name", h.problems.Get)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Trace-Id"},
		ExposeHeaders:    []string{"X-Trace-Id", "X-Request-Id"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// replicaGroup gives each replica its own consumer group so every replica sees every event.
func replicaGroup(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-dq-%s", prefix, host)
}
