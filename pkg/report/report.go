package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"metricsub/pkg/cache"
	"metricsub/pkg/collector"
	"metricsub/pkg/logger"
)

// Report 某个 (区间, 环境) 的聚合视图。
// 由缓存中的信封展开而来，缓存未命中时视图不存在，
// 调用方需要等待或触发一次采集。
type Report struct {
	Range        string          `json:"range"`
	Environment  string          `json:"environment"`
	CollectedAt  time.Time       `json:"collected_at"`
	AgeSeconds   int64           `json:"age_seconds"`
	Stale        bool            `json:"stale"`
	TeamsCount   int             `json:"teams_count"`
	PersonsCount int             `json:"persons_count"`
	Teams        json.RawMessage `json:"teams"`
	Persons      json.RawMessage `json:"persons"`
}

// Service 报表服务，消费缓存的 load/save 契约
type Service struct {
	store      *cache.EventDrivenCacheService
	refreshTTL time.Duration
	log        *logrus.Entry
}

// NewService 创建报表服务
func NewService(store *cache.EventDrivenCacheService, refreshTTL time.Duration) *Service {
	return &Service{
		store:      store,
		refreshTTL: refreshTTL,
		log:        logger.WithComponent("Report"),
	}
}

// Build 构建一个 (区间, 环境) 的报表。
// 缓存未命中（含被失效标记强制的未命中）返回 (nil, nil)，
// 表示数据需要重新采集，HTTP 层据此返回采集中的响应。
func (s *Service) Build(ctx context.Context, rangeID, environment string, forceReload bool) (*Report, error) {
	envelope, err := s.store.Load(ctx, rangeID, environment, forceReload)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, nil
	}

	var payload collector.Payload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return nil, fmt.Errorf("解析缓存载荷失败: %w", err)
	}

	age := time.Since(envelope.CollectedAt)
	return &Report{
		Range:        rangeID,
		Environment:  environment,
		CollectedAt:  envelope.CollectedAt,
		AgeSeconds:   int64(age.Seconds()),
		Stale:        s.store.Enhanced().Base().ShouldRefresh(envelope, s.refreshTTL),
		TeamsCount:   payload.TeamsCount,
		PersonsCount: payload.PersonsCount,
		Teams:        payload.Teams,
		Persons:      payload.Persons,
	}, nil
}

// AvailableRanges 枚举某个环境下已有数据的区间
func (s *Service) AvailableRanges(ctx context.Context, environment string) []string {
	return s.store.Enhanced().Base().AvailableRanges(ctx, environment)
}
