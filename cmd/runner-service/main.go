// Command runner-service exposes the compile-execute pipeline over HTTP and,
// when Kafka is configured, as an asynchronous job queue.
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

	"coderunner/internal/common/cache"
	"coderunner/internal/common/mq"
	"coderunner/internal/runner/controller"
	"coderunner/internal/runner/dispatch"
	"coderunner/internal/runner/middleware"
	"coderunner/internal/runner/service"
	"coderunner/internal/sandbox/setup"
	"coderunner/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/runner-service.yaml"

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
	defer func() { _ = logger.Sync() }()

	if err := serve(appCfg); err != nil {
		logger.Error(context.Background(), "runner service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func serve(appCfg *AppConfig) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := map[string]controller.Pinger{}

	back, err := buildBackend(appCfg, deps)
	if err != nil {
		return err
	}
	defer back.close()

	execService, err := service.NewExecuteService(back.runner, appCfg.Execute, back.options...)
	if err != nil {
		return fmt.Errorf("init execute service: %w", err)
	}

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
		deps["redis"] = redisCache
	}

	var rateService *service.RateLimitService
	if redisCache != nil {
		rateService = service.NewRateLimitService(redisCache, appCfg.Rate.Window, appCfg.Redis.ReadTimeout)
	}

	var authService *service.AuthService
	if appCfg.Auth.JWTSecret != "" {
		authService = service.NewAuthService(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)
	}

	var jobService *service.JobService
	var queue mq.MessageQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		queue, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() { _ = queue.Close() }()
		deps["kafka"] = queue

		jobs := service.NewJobRepository(redisCache, appCfg.Jobs.TTL, appCfg.Redis.WriteTimeout)
		jobService, err = service.NewJobService(queue, jobs, appCfg.Kafka.RequestTopic, execService)
		if err != nil {
			return fmt.Errorf("init job service: %w", err)
		}
		consumer, err := service.NewQueueConsumer(execService, jobs, queue, appCfg.Kafka.ResultTopic)
		if err != nil {
			return fmt.Errorf("init queue consumer: %w", err)
		}
		if err := consumer.Subscribe(rootCtx, queue, appCfg.Kafka.RequestTopic, appCfg.Kafka.subscribeOptions()); err != nil {
			return fmt.Errorf("subscribe job requests failed: %w", err)
		}
		if err := queue.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
	}

	var jobQueue controller.JobQueue
	if jobService != nil {
		jobQueue = jobService
	}
	h := handlers{
		exec:   controller.NewExecuteController(execService, jobQueue),
		health: controller.NewHealthController(deps),
		auth:   authService,
		rate:   rateService,
	}
	if back.containers != nil {
		h.containers = controller.NewContainerController(back.containers)
	}
	httpServer := buildHTTPServer(appCfg, h)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	if back.janitor != nil {
		back.janitor.Start()
		defer back.janitor.Stop()
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info(ctx, "runner http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("dispatch", appCfg.Dispatch.Mode),
		)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// backend is where submissions run: local pipelines or runner containers.
type backend struct {
	runner     service.Runner
	options    []service.ExecuteOption
	janitor    *service.Janitor
	containers controller.ContainerManager
	close      func()
}

// buildBackend builds the local pipelines or the container dispatcher. The
// janitor exists only for local execution and the container routes only for
// docker dispatch.
func buildBackend(appCfg *AppConfig, deps map[string]controller.Pinger) (*backend, error) {
	if appCfg.Dispatch.Mode == dispatchDocker {
		d, err := dispatch.NewDispatcher(appCfg.Dispatch.Docker)
		if err != nil {
			return nil, fmt.Errorf("init docker dispatch: %w", err)
		}
		deps["docker"] = d
		b := &backend{containers: d, close: func() { _ = d.Close() }}
		for _, lang := range d.Languages() {
			r, _ := d.Runner(lang)
			if lang == d.DefaultLanguage() {
				b.runner = r
			}
			b.options = append(b.options, service.WithRunner(lang, r))
		}
		appCfg.Execute.DefaultLanguage = d.DefaultLanguage()
		return b, nil
	}

	pipes, err := setup.NewPipelines(appCfg.Sandbox)
	if err != nil {
		return nil, err
	}
	b := &backend{close: func() {}}
	for _, lang := range pipes.Languages() {
		p, _ := pipes.Get(lang)
		if lang == pipes.Default {
			b.runner = p
		}
		b.options = append(b.options, service.WithRunner(lang, p))
	}
	appCfg.Execute.DefaultLanguage = pipes.Default

	if appCfg.Janitor.Enabled && !appCfg.Sandbox.Workspace.Shared {
		b.janitor, err = service.NewJanitor(pipes.Workspaces, appCfg.Janitor)
		if err != nil {
			return nil, fmt.Errorf("init janitor: %w", err)
		}
		b.janitor.RunOnce(context.Background())
	}
	return b, nil
}

// handlers are the route targets. containers is nil unless dispatching to docker.
type handlers struct {
	exec       *controller.ExecuteController
	health     *controller.HealthController
	containers *controller.ContainerController
	auth       *service.AuthService
	rate       *service.RateLimitService
}

// Rate limit keys. Polling a job is counted apart from submitting work.
const (
	rateKeyExecute    = "execute"
	rateKeyJobs       = "jobs"
	rateKeyJobsPoll   = "jobs-poll"
	rateKeyContainers = "containers"
)

func buildHTTPServer(cfg *AppConfig, h handlers) *http.Server {
	return &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        newRouter(cfg, h),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
}

func newRouter(cfg *AppConfig, h handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORS))
	router.Use(middleware.RequestLogger())

	router.GET("/healthz", h.health.Healthz)
	router.GET("/readyz", h.health.Readyz)

	api := router.Group("/api/v1")
	api.GET("/healthz", h.health.Healthz)

	auth := middleware.AuthMiddleware(h.auth, cfg.Auth.Policy)
	limit := func(key string, policy middleware.RateLimitPolicy) gin.HandlerFunc {
		return middleware.RateLimitMiddleware(h.rate, key, policy)
	}
	api.POST("/execute", auth, limit(rateKeyExecute, cfg.Rate), h.exec.Execute)
	api.POST("/jobs", auth, limit(rateKeyJobs, cfg.Rate), h.exec.SubmitJob)
	api.GET("/jobs/:id", auth, limit(rateKeyJobsPoll, cfg.PollRate), h.exec.GetJob)

	if h.containers != nil {
		admin := api.Group("/containers",
			middleware.AuthMiddleware(h.auth, cfg.Auth.AdminPolicy),
			limit(rateKeyContainers, cfg.Rate),
		)
		admin.GET("", h.containers.List)
		admin.POST("/start", h.containers.Start)
		admin.POST("/stop", h.containers.Stop)
	}
	return router
}
