package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"metricsub/pkg/config"
	"metricsub/pkg/logger"
)

// Snapshot 一次外部采集得到的指标快照。
// Payload 对缓存层完全不透明，只有报表消费方理解其结构。
type Snapshot struct {
	Source    string          `json:"source"`
	Count     int             `json:"count"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// MetricsCollector 从一个外部 API 采集指标快照
type MetricsCollector interface {
	Name() string
	Collect(ctx context.Context, rangeID, environment string) (*Snapshot, error)
}

// HTTPCollector 基于 HTTP 的采集器实现。
// 外部 API 响应慢且有限流，所有请求经过熔断器，
// 连续失败达到阈值后快速失败一段时间，避免雪崩式重试。
type HTTPCollector struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	log       *logrus.Entry
}

// NewHTTPCollector 创建 HTTP 采集器
func NewHTTPCollector(name, baseURL string, cfg config.CollectorConfig) *HTTPCollector {
	log := logger.WithComponent("Collector").WithField("collector", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("熔断器 %s 状态从 %v 变更为 %v", name, from, to)
		},
	}

	return &HTTPCollector{
		name:      name,
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		cb:  gobreaker.NewCircuitBreaker(settings),
		log: log,
	}
}

// Name 返回采集器名称
func (hc *HTTPCollector) Name() string {
	return hc.name
}

// Collect 经熔断器从外部 API 拉取一次指标快照
func (hc *HTTPCollector) Collect(ctx context.Context, rangeID, environment string) (*Snapshot, error) {
	result, err := hc.cb.Execute(func() (interface{}, error) {
		return hc.fetch(ctx, rangeID, environment)
	})
	if err != nil {
		return nil, fmt.Errorf("采集器 %s 拉取失败: %w", hc.name, err)
	}
	return result.(*Snapshot), nil
}

// fetch 执行一次 HTTP 请求并解析条目数
func (hc *HTTPCollector) fetch(ctx context.Context, rangeID, environment string) (*Snapshot, error) {
	url := fmt.Sprintf("%s?range=%s&environment=%s", hc.baseURL, rangeID, environment)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", hc.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	return &Snapshot{
		Source:    hc.name,
		Count:     countItems(body),
		Payload:   body,
		FetchedAt: time.Now(),
	}, nil
}

// countItems 从响应中推断条目数。
// 支持顶层数组和 {"items": [...], "total": n} 两种形态。
func countItems(payload []byte) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(payload, &arr); err == nil {
		return len(arr)
	}

	var obj struct {
		Items []json.RawMessage `json:"items"`
		Total *int              `json:"total"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil {
		if obj.Total != nil {
			return *obj.Total
		}
		return len(obj.Items)
	}

	return 0
}
