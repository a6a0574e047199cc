package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"metricsub/pkg/cache"
	"metricsub/pkg/collector"
	"metricsub/pkg/config"
	"metricsub/pkg/container"
	"metricsub/pkg/event"
	"metricsub/pkg/logger"
	"metricsub/pkg/scheduler"
)

var (
	logLevel   = flag.String("log-level", "info", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "json", "日志格式 (json or text)")
	configPath = flag.String("config", "", "配置文件路径 (例如 /app/config/collector.yaml)")
	jobsPath   = flag.String("jobs", "", "任务配置文件路径，为空时按主配置生成任务")
	runOnce    = flag.Bool("once", false, "只执行一轮采集后退出")
)

// collectExecutor 把调度器任务桥接到采集执行器，
// 并在每次成功采集后把运行指标写入 InfluxDB（如果配置了）
type collectExecutor struct {
	runner   *collector.Runner
	writeAPI api.WriteAPIBlocking
}

// Execute 实现 scheduler.JobExecutor
func (e *collectExecutor) Execute(ctx context.Context, job *scheduler.Job) error {
	ev, err := e.runner.Run(ctx, job.Config.RangeID, job.Config.Environment)
	if err != nil {
		return err
	}

	if e.writeAPI != nil {
		point := influxdb2.NewPointWithMeasurement("collection_run").
			AddTag("range", ev.DateRange).
			AddTag("environment", ev.Environment).
			AddField("teams_count", ev.TeamsCount).
			AddField("persons_count", ev.PersonsCount).
			AddField("duration_ms", ev.Duration.Milliseconds()).
			SetTime(ev.Timestamp)
		if err := e.writeAPI.WritePoint(ctx, point); err != nil {
			// 指标导出失败不影响采集本身
			logger.Warnf("写入 InfluxDB 失败: %v", err)
		}
	}

	return nil
}

func main() {
	flag.Parse()

	logger.Init(logger.Config{Level: *logLevel, Format: *logFormat})
	log := logger.WithComponent("CollectorMain")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("加载配置失败")
	}

	c := container.New()
	registerServices(c, cfg)

	runner := c.MustGet("collector.runner").(*collector.Runner)

	var writeAPI api.WriteAPIBlocking
	if cfg.InfluxDB.URL != "" {
		influxClient := influxdb2.NewClient(cfg.InfluxDB.URL, cfg.InfluxDB.Token)
		defer influxClient.Close()
		writeAPI = influxClient.WriteAPIBlocking(cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
		log.Infof("采集运行指标将导出到 InfluxDB: %s", cfg.InfluxDB.URL)
	}

	executor := &collectExecutor{runner: runner, writeAPI: writeAPI}

	if *runOnce {
		ctx := context.Background()
		if err := runner.RunAll(ctx, cfg.Collector.Ranges, cfg.Collector.Environment); err != nil {
			log.WithError(err).Fatal("采集失败")
		}
		log.Info("单轮采集完成")
		return
	}

	sched := scheduler.NewJobScheduler()
	sched.SetExecutor(executor)

	if *jobsPath != "" {
		if err := sched.LoadConfig(*jobsPath); err != nil {
			log.WithError(err).Fatal("加载任务配置失败")
		}
	} else {
		for _, rangeID := range cfg.Collector.Ranges {
			jobConfig := scheduler.JobConfig{
				Name:        "collect_" + rangeID,
				Enabled:     true,
				Schedule:    cfg.Collector.Schedule,
				RangeID:     rangeID,
				Environment: cfg.Collector.Environment,
			}
			if err := sched.AddJob(jobConfig); err != nil {
				log.WithError(err).Fatalf("添加任务失败: %s", jobConfig.Name)
			}
		}
	}

	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("启动调度器失败")
	}

	log.Infof("采集任务已调度: %d 个区间, 环境 %s", len(cfg.Collector.Ranges), cfg.Collector.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("收到退出信号，停止调度器")
	sched.Stop()
	log.Info("采集服务已退出")
}

// registerServices 在容器中注册采集侧的服务工厂
func registerServices(c *container.Container, cfg *config.Config) {
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

	c.Register("collector.teams", container.Singleton, func(r container.Resolver) (interface{}, error) {
		return collector.NewHTTPCollector("teams", cfg.Collector.TeamsAPIURL, cfg.Collector), nil
	})

	c.Register("collector.persons", container.Singleton, func(r container.Resolver) (interface{}, error) {
		return collector.NewHTTPCollector("persons", cfg.Collector.PersonsAPIURL, cfg.Collector), nil
	})

	c.Register("collector.runner", container.Singleton, func(r container.Resolver) (interface{}, error) {
		teams, err := r.Get("collector.teams")
		if err != nil {
			return nil, err
		}
		persons, err := r.Get("collector.persons")
		if err != nil {
			return nil, err
		}
		store, err := r.Get("cache.eventdriven")
		if err != nil {
			return nil, err
		}
		bus, err := r.Get("eventbus")
		if err != nil {
			return nil, err
		}
		return collector.NewRunner(
			teams.(*collector.HTTPCollector),
			persons.(*collector.HTTPCollector),
			store.(*cache.EventDrivenCacheService),
			bus.(*event.Bus),
		), nil
	})
}
