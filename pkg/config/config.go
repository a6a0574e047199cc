package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 主配置结构
type Config struct {
	// 缓存配置
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// 采集任务配置
	Collector CollectorConfig `json:"collector" mapstructure:"collector"`

	// HTTP 服务配置
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Redis 配置（可选的持久层后端）
	Redis RedisConfig `json:"redis" mapstructure:"redis"`

	// InfluxDB 配置（采集运行指标导出，可选）
	InfluxDB InfluxDBConfig `json:"influxdb" mapstructure:"influxdb"`

	// 日志配置
	Logger LoggerConfig `json:"logger" mapstructure:"logger"`
}

// CacheConfig 两级缓存配置
type CacheConfig struct {
	Dir              string        `json:"dir" mapstructure:"dir"`                               // 磁盘缓存目录
	Backend          string        `json:"backend" mapstructure:"backend"`                       // 持久层后端 (file, memory, redis)
	MaxMemoryBytes   int64         `json:"max_memory_bytes" mapstructure:"max_memory_bytes"`     // 内存层字节预算
	Policy           string        `json:"policy" mapstructure:"policy"`                         // 淘汰策略 (lru, ttl, fifo)
	PolicyTTL        time.Duration `json:"policy_ttl" mapstructure:"policy_ttl"`                 // ttl 策略的条目存活时间
	RefreshTTL       time.Duration `json:"refresh_ttl" mapstructure:"refresh_ttl"`               // 数据按龄判断过期的阈值
	DefaultEnv       string        `json:"default_env" mapstructure:"default_env"`               // 旧式键省略的默认环境
	WarmRanges       []string      `json:"warm_ranges" mapstructure:"warm_ranges"`               // 启动时预热的区间键
	WarmEnvironments []string      `json:"warm_environments" mapstructure:"warm_environments"`   // 启动时预热的环境
}

// CollectorConfig 外部采集任务配置
type CollectorConfig struct {
	TeamsAPIURL   string        `json:"teams_api_url" mapstructure:"teams_api_url"`     // 团队指标 API 地址
	PersonsAPIURL string        `json:"persons_api_url" mapstructure:"persons_api_url"` // 人员指标 API 地址
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`                 // 单次请求超时
	UserAgent     string        `json:"user_agent" mapstructure:"user_agent"`           // 用户代理
	Schedule      string        `json:"schedule" mapstructure:"schedule"`               // cron 表达式
	Ranges        []string      `json:"ranges" mapstructure:"ranges"`                   // 采集的时间区间 (如 30d, 90d)
	Environment   string        `json:"environment" mapstructure:"environment"`         // 采集目标环境
	Breaker       BreakerConfig `json:"breaker" mapstructure:"breaker"`                 // 熔断器配置
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxRequests uint32        `json:"max_requests" mapstructure:"max_requests"` // 半开状态下的最大请求数
	Interval    time.Duration `json:"interval" mapstructure:"interval"`         // 统计窗口时间
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`           // 熔断器打开后的超时时间
	ReadyToTrip uint32        `json:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败阈值
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `json:"port" mapstructure:"port"` // 监听端口
	Mode string `json:"mode" mapstructure:"mode"` // gin 模式 (debug, release, test)
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// InfluxDBConfig InfluxDB 连接配置
type InfluxDBConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Token  string `json:"token" mapstructure:"token"`
	Org    string `json:"org" mapstructure:"org"`
	Bucket string `json:"bucket" mapstructure:"bucket"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `json:"format" mapstructure:"format"` // 日志格式 (text, json)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:            "./cache",
			Backend:        "file",
			MaxMemoryBytes: 64 * 1024 * 1024,
			Policy:         "lru",
			PolicyTTL:      30 * time.Minute,
			RefreshTTL:     60 * time.Minute,
			DefaultEnv:     "prod",
		},
		Collector: CollectorConfig{
			Timeout:     15 * time.Second,
			UserAgent:   "MetricSub/1.0",
			Schedule:    "0 0 */2 * * *",
			Ranges:      []string{"30d", "90d"},
			Environment: "prod",
			Breaker: BreakerConfig{
				MaxRequests: 5,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: 5,
			},
		},
		Server: ServerConfig{
			Port: "8080",
			Mode: "release",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "metricsub:cache:",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 从配置文件和环境变量加载配置，未指定的字段回落到默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("METRICSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Cache.Dir == "" && c.Cache.Backend == "file" {
		return errors.New("cache dir cannot be empty for file backend")
	}

	switch c.Cache.Backend {
	case "file", "memory", "redis":
	default:
		return errors.New("cache backend must be one of file, memory, redis")
	}

	if c.Cache.MaxMemoryBytes <= 0 {
		return errors.New("cache max_memory_bytes must be positive")
	}

	switch c.Cache.Policy {
	case "lru", "ttl", "fifo":
	default:
		return errors.New("cache policy must be one of lru, ttl, fifo")
	}

	if c.Cache.Policy == "ttl" && c.Cache.PolicyTTL <= 0 {
		return errors.New("cache policy_ttl must be positive for ttl policy")
	}

	if c.Cache.DefaultEnv == "" {
		return errors.New("cache default_env cannot be empty")
	}

	if c.Collector.Timeout <= 0 {
		return errors.New("collector timeout must be positive")
	}

	if len(c.Collector.Ranges) == 0 {
		return errors.New("collector ranges cannot be empty")
	}

	if c.Collector.Environment == "" {
		return errors.New("collector environment cannot be empty")
	}

	if c.Server.Port == "" {
		return errors.New("server port cannot be empty")
	}

	return nil
}
