package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/stepflow/api/handlers"
	"github.com/BaSui01/stepflow/config"
	"github.com/BaSui01/stepflow/examples/research"
	"github.com/BaSui01/stepflow/internal/database"
	"github.com/BaSui01/stepflow/internal/metrics"
	"github.com/BaSui01/stepflow/internal/server"
	"github.com/BaSui01/stepflow/progress"
	"github.com/BaSui01/stepflow/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Stepflow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager

	// 存储后端
	workflowStore workflow.Store
	progressStore progress.Store
	activityLog   progress.ActivityLog
	redisClient   *redis.Client
	gormDB        *gorm.DB

	// 引擎
	registry *workflow.Registry
	runner   *workflow.Runner

	// Handlers
	healthHandler   *handlers.HealthHandler
	runHandler      *handlers.RunHandler
	progressHandler *handlers.ProgressHandler

	// 指标收集器
	metricsCollector *metrics.Collector
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("stepflow", s.logger)

	// 2. 初始化存储后端
	if err := s.initStores(); err != nil {
		return fmt.Errorf("failed to init stores: %w", err)
	}

	// 3. 初始化工作流引擎
	s.registry = workflow.NewRegistry()
	s.runner = workflow.NewRunner(s.registry, s.workflowStore, s.metricsCollector, s.logger)
	s.runner.SetDefaults(workflow.EngineDefaults{
		RunTimeout:     s.cfg.Engine.DefaultTimeout,
		MapConcurrency: s.cfg.Engine.MapConcurrency,
		MapMaxAttempts: s.cfg.Engine.MapMaxAttempts,
	})
	s.registerWorkflows()

	// 4. 初始化 Handlers 并启动 HTTP 服务器
	s.initHandlers()
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 崩溃恢复：继续执行 running 状态的运行
	if s.cfg.Engine.ResumeOnStart {
		go func() {
			if err := s.runner.ResumeAll(context.Background()); err != nil {
				s.logger.Error("resume-on-start failed", zap.Error(err))
			}
		}()
	}

	s.logger.Info("all servers started",
		zap.String("addr", s.httpManager.Addr()),
		zap.String("store", s.cfg.Store.Type),
		zap.Strings("workflows", s.registry.Names()),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStores 根据配置选择存储后端
func (s *Server) initStores() error {
	switch s.cfg.Store.Type {
	case "memory", "":
		s.workflowStore = workflow.NewMemoryStore()
		s.progressStore = progress.NewMemoryStore()
		s.activityLog = progress.NewMemoryActivityLog()

	case "redis":
		store, err := workflow.NewRedisStore(workflow.RedisStoreConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Store.KeyPrefix,
		})
		if err != nil {
			return err
		}
		s.workflowStore = store

		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		s.progressStore = progress.NewRedisStore(s.redisClient, s.cfg.Store.KeyPrefix)
		s.activityLog = progress.NewRedisActivityLog(s.redisClient, s.cfg.Store.KeyPrefix)

	case "sqlite":
		db, err := database.OpenSQLite(s.cfg.Store.SQLitePath, database.DefaultPoolConfig(), s.logger)
		if err != nil {
			return err
		}
		return s.initGormStores(db)

	case "postgres":
		dsn := database.PostgresDSN(
			s.cfg.Database.Host, s.cfg.Database.Port,
			s.cfg.Database.User, s.cfg.Database.Password,
			s.cfg.Database.Name, s.cfg.Database.SSLMode,
		)
		pool := database.PoolConfig{
			MaxIdleConns:    s.cfg.Database.MaxIdleConns,
			MaxOpenConns:    s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
		}
		db, err := database.OpenPostgres(dsn, pool, s.logger)
		if err != nil {
			return err
		}
		return s.initGormStores(db)

	default:
		return fmt.Errorf("unknown store type %q", s.cfg.Store.Type)
	}
	return nil
}

func (s *Server) initGormStores(db *gorm.DB) error {
	s.gormDB = db

	workflowStore, err := workflow.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("init workflow store: %w", err)
	}
	progressStore, err := progress.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("init progress store: %w", err)
	}
	activityLog, err := progress.NewGormActivityLog(db)
	if err != nil {
		return fmt.Errorf("init activity log: %w", err)
	}

	s.workflowStore = workflowStore
	s.progressStore = progressStore
	s.activityLog = activityLog
	return nil
}

// registerWorkflows 注册内置工作流
func (s *Server) registerWorkflows() {
	research.Register(s.registry, research.Deps{
		Search:     &research.FakeSearch{},
		Fetcher:    &research.FakeFetcher{},
		Summarizer: research.FakeSummarizer{},
		Progress:   s.progressStore,
		Activities: s.activityLog,
		Logger:     s.logger,
	})
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.HealthCheckFunc{
		CheckName: "store",
		Fn:        s.workflowStore.Ping,
	})

	s.runHandler = handlers.NewRunHandler(s.runner, s.logger)
	s.progressHandler = handlers.NewProgressHandler(s.progressStore, s.activityLog, s.logger)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)

	// 指标端点
	mux.Handle("GET /metrics", promhttp.Handler())

	// API 路由
	mux.HandleFunc("POST /api/v1/workflows/{name}/runs", s.runHandler.HandleStart)
	mux.HandleFunc("GET /api/v1/runs", s.runHandler.HandleList)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.runHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", s.runHandler.HandleCancel)
	mux.HandleFunc("GET /api/v1/jobs/{id}/progress", s.progressHandler.HandleSnapshot)
	mux.HandleFunc("GET /api/v1/jobs/{id}/activities", s.progressHandler.HandleActivities)

	// 中间件链
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		Metrics(s.metricsCollector),
	)

	serverConfig := server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	return s.httpManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	if err := s.workflowStore.Close(); err != nil {
		s.logger.Error("failed to close workflow store", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("failed to close redis client", zap.Error(err))
		}
	}
	if s.gormDB != nil {
		if err := database.Close(s.gormDB); err != nil {
			s.logger.Error("failed to close database", zap.Error(err))
		}
	}

	s.logger.Info("shutdown complete")
}
