package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"metricsub/pkg/cache"
	"metricsub/pkg/event"
	"metricsub/pkg/logger"
)

// Payload 一次完整采集的载荷，缓存信封中 Data 字段的实际结构。
// 对缓存层不可见，只有采集方（生产）和报表方（消费）解析它。
type Payload struct {
	Teams        json.RawMessage `json:"teams"`
	Persons      json.RawMessage `json:"persons"`
	TeamsCount   int             `json:"teams_count"`
	PersonsCount int             `json:"persons_count"`
}

// Runner 执行一次完整的采集：拉取两个外部 API，写入缓存，
// 再发布采集完成事件触发键失效。
type Runner struct {
	teams   MetricsCollector
	persons MetricsCollector
	store   *cache.EventDrivenCacheService
	bus     *event.Bus
	log     *logrus.Entry
}

// NewRunner 创建采集执行器
func NewRunner(teams, persons MetricsCollector, store *cache.EventDrivenCacheService, bus *event.Bus) *Runner {
	return &Runner{
		teams:   teams,
		persons: persons,
		store:   store,
		bus:     bus,
		log:     logger.WithComponent("CollectorRunner"),
	}
}

// Run 对一个 (区间, 环境) 执行采集。
// 任一外部 API 失败则整次采集失败，不写入也不发事件，
// 读取方继续使用旧数据。
func (r *Runner) Run(ctx context.Context, rangeID, environment string) (*event.DataCollectedEvent, error) {
	start := time.Now()

	teamsSnap, err := r.teams.Collect(ctx, rangeID, environment)
	if err != nil {
		return nil, fmt.Errorf("采集团队指标失败: %w", err)
	}

	personsSnap, err := r.persons.Collect(ctx, rangeID, environment)
	if err != nil {
		return nil, fmt.Errorf("采集人员指标失败: %w", err)
	}

	payload := Payload{
		Teams:        teamsSnap.Payload,
		Persons:      personsSnap.Payload,
		TeamsCount:   teamsSnap.Count,
		PersonsCount: personsSnap.Count,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化采集载荷失败: %w", err)
	}

	if err := r.store.Save(ctx, rangeID, environment, cache.NewEnvelope(data)); err != nil {
		return nil, fmt.Errorf("写入缓存失败: %w", err)
	}

	ev := event.NewDataCollected(rangeID, environment, teamsSnap.Count, personsSnap.Count, time.Since(start))
	r.bus.Publish(ctx, ev)

	r.log.WithFields(logrus.Fields{
		"range":       rangeID,
		"environment": environment,
		"teams":       teamsSnap.Count,
		"persons":     personsSnap.Count,
		"duration":    ev.Duration,
	}).Infof("采集完成")

	return ev, nil
}

// RunAll 对配置的所有区间执行采集，返回首个错误但不中断其余区间
func (r *Runner) RunAll(ctx context.Context, rangeIDs []string, environment string) error {
	var firstErr error
	for _, rangeID := range rangeIDs {
		if _, err := r.Run(ctx, rangeID, environment); err != nil {
			r.log.Warnf("区间 %s 采集失败: %v", rangeID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
