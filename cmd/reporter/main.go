package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"metricsub/pkg/cache"
	"metricsub/pkg/config"
	"metricsub/pkg/container"
	"metricsub/pkg/event"
	"metricsub/pkg/logger"
	"metricsub/pkg/report"
)

var (
	logLevel   = flag.String("log-level", "info", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "text", "日志格式 (json or text)")
	configPath = flag.String("config", "", "配置文件路径 (例如 /app/config/reporter.yaml)")
)

func main() {
	flag.Parse()

	logger.Init(logger.Config{Level: *logLevel, Format: *logFormat})
	log := logger.WithComponent("Reporter")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("加载配置失败")
	}

	c := container.New()
	registerServices(c, cfg)

	// 装配错误属于编程/配置错误，启动时立即暴露
	store := c.MustGet("cache.eventdriven").(*cache.EventDrivenCacheService)
	bus := c.MustGet("eventbus").(*event.Bus)
	reports := c.MustGet("report.service").(*report.Service)

	warmCache(cfg, store.Enhanced(), log)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, cfg, store, bus, reports)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Infof("报表服务启动: 端口 %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP 服务启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("收到退出信号，开始关闭")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP 服务关闭失败")
	}
	store.Close()
	log.Info("报表服务已退出")
}

// registerServices 在容器中注册全部服务工厂
func registerServices(c *container.Container, cfg *config.Config) {
	c.Register("config", container.Singleton, func(r container.Resolver) (interface{}, error) {
		return cfg, nil
	})

	c.Register("eventbus", container.Singleton, func(r container.Resolver) (interface{}, error) {
		return event.NewBus(), nil
	})

	c.Register("cache.backend", container.Singleton, func(r container.Resolver) (interface{}, error) {
		switch cfg.Cache.Backend {
		case "memory":
			return cache.NewMemoryBackend(), nil
		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			return cache.NewRedisBackend(client, cfg.Redis.KeyPrefix), nil
		default:
			return cache.NewFileBackend(cfg.Cache.Dir)
		}
	})

	c.Register("cache.service", container.Singleton, func(r container.Resolver) (interface{}, error) {
		backend, err := r.Get("cache.backend")
		if err != nil {
			return nil, err
		}
		return cache.NewCacheService(backend.(cache.Backend), cfg.Cache.DefaultEnv), nil
	})

	c.Register("cache.enhanced", container.Singleton, func(r container.Resolver) (interface{}, error) {
		base, err := r.Get("cache.service")
		if err != nil {
			return nil, err
		}
		return cache.NewEnhancedCacheService(base.(*cache.CacheService), cache.EnhancedConfig{
			MaxMemoryBytes: cfg.Cache.MaxMemoryBytes,
			Policy: cache.PolicyConfig{
				Type: cache.PolicyType(cfg.Cache.Policy),
				TTL:  cfg.Cache.PolicyTTL,
			},
		}), nil
	})

	c.Register("cache.eventdriven", container.Singleton, func(r container.Resolver) (interface{}, error) {
		enhanced, err := r.Get("cache.enhanced")
		if err != nil {
			return nil, err
		}
		bus, err := r.Get("eventbus")
		if err != nil {
			return nil, err
		}
		return cache.NewEventDrivenCacheService(enhanced.(*cache.EnhancedCacheService), bus.(*event.Bus)), nil
	})

	c.Register("report.service", container.Singleton, func(r container.Resolver) (interface{}, error) {
		store, err := r.Get("cache.eventdriven")
		if err != nil {
			return nil, err
		}
		return report.NewService(store.(*cache.EventDrivenCacheService), cfg.Cache.RefreshTTL), nil
	})
}

// warmCache 按配置预热内存层，避免首批请求的冷启动未命中
func warmCache(cfg *config.Config, enhanced *cache.EnhancedCacheService, log *logrus.Entry) {
	envs := cfg.Cache.WarmEnvironments
	if len(envs) == 0 {
		envs = []string{cfg.Cache.DefaultEnv}
	}

	var pairs []cache.KeyPair
	for _, rangeID := range cfg.Cache.WarmRanges {
		for _, env := range envs {
			pairs = append(pairs, cache.KeyPair{RangeID: rangeID, Environment: env})
		}
	}

	if len(pairs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	enhanced.Warm(ctx, pairs)
	log.Infof("启动预热完成: %d 个键", len(pairs))
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// registerRoutes 注册报表与缓存管理端点
func registerRoutes(router *gin.Engine, cfg *config.Config, store *cache.EventDrivenCacheService, bus *event.Bus, reports *report.Service) {
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.GET("/report/:range", func(ctx *gin.Context) {
		rangeID := ctx.Param("range")
		env := ctx.DefaultQuery("environment", cfg.Cache.DefaultEnv)
		force := ctx.Query("force") == "true"

		rep, err := reports.Build(ctx.Request.Context(), rangeID, env, force)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, errorResponse{
				Error:   "report_failed",
				Message: err.Error(),
			})
			return
		}
		if rep == nil {
			ctx.JSON(http.StatusAccepted, gin.H{
				"status":      "pending",
				"range":       rangeID,
				"environment": env,
				"message":     "数据尚未采集或已失效，等待下一次采集",
			})
			return
		}
		ctx.JSON(http.StatusOK, rep)
	})

	api.GET("/ranges", func(ctx *gin.Context) {
		env := ctx.DefaultQuery("environment", cfg.Cache.DefaultEnv)
		ctx.JSON(http.StatusOK, gin.H{
			"environment": env,
			"ranges":      reports.AvailableRanges(ctx.Request.Context(), env),
		})
	})

	api.GET("/cache/stats", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, store.Enhanced().Stats())
	})

	api.POST("/cache/clear", func(ctx *gin.Context) {
		var req struct {
			Scope string `json:"scope"`
		}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
			return
		}

		if err := store.Enhanced().Clear(ctx.Request.Context(), cache.ClearScope(req.Scope)); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse{Error: "clear_failed", Message: err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "cleared", "scope": req.Scope})
	})

	api.POST("/cache/warm", func(ctx *gin.Context) {
		var req struct {
			Keys []cache.KeyPair `json:"keys"`
		}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
			return
		}

		warmed := store.Enhanced().Warm(ctx.Request.Context(), req.Keys)
		ctx.JSON(http.StatusOK, gin.H{"warmed": warmed, "requested": len(req.Keys)})
	})

	api.POST("/refresh", func(ctx *gin.Context) {
		var req struct {
			Scope       string `json:"scope"`
			Range       string `json:"range"`
			Environment string `json:"environment"`
			TriggeredBy string `json:"triggered_by"`
		}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
			return
		}

		if req.Environment == "" {
			req.Environment = cfg.Cache.DefaultEnv
		}
		if req.TriggeredBy == "" {
			req.TriggeredBy = "api"
		}

		ev := event.NewManualRefresh(req.Scope, req.Range, req.Environment, req.TriggeredBy)
		bus.Publish(ctx.Request.Context(), ev)
		ctx.JSON(http.StatusOK, gin.H{"status": "refresh_requested", "event_id": ev.ID})
	})

	api.POST("/config/saved", func(ctx *gin.Context) {
		var req struct {
			ChangedSections          []string `json:"changed_sections"`
			RequiresFullInvalidation bool     `json:"requires_full_invalidation"`
		}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
			return
		}

		ev := event.NewConfigChanged(req.ChangedSections, req.RequiresFullInvalidation)
		bus.Publish(ctx.Request.Context(), ev)
		ctx.JSON(http.StatusOK, gin.H{"status": "config_change_published", "event_id": ev.ID})
	})
}
