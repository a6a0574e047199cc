package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, "lru", cfg.Cache.Policy)
	assert.Equal(t, "prod", cfg.Cache.DefaultEnv)
	assert.Equal(t, int64(64*1024*1024), cfg.Cache.MaxMemoryBytes)
	assert.Equal(t, []string{"30d", "90d"}, cfg.Collector.Ranges)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_FromFile(t *testing.T) {
	content := `
cache:
  dir: /tmp/metrics-cache
  backend: memory
  max_memory_bytes: 1048576
  policy: ttl
  policy_ttl: 10m
collector:
  ranges:
    - 7d
  environment: staging
server:
  port: "9090"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxMemoryBytes)
	assert.Equal(t, "ttl", cfg.Cache.Policy)
	assert.Equal(t, 10*time.Minute, cfg.Cache.PolicyTTL)
	assert.Equal(t, []string{"7d"}, cfg.Collector.Ranges)
	assert.Equal(t, "staging", cfg.Collector.Environment)
	assert.Equal(t, "9090", cfg.Server.Port)

	// 未指定的字段保持默认值
	assert.Equal(t, "prod", cfg.Cache.DefaultEnv)
	assert.Equal(t, 15*time.Second, cfg.Collector.Timeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Cache.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"空缓存目录", func(c *Config) { c.Cache.Dir = "" }},
		{"非法后端", func(c *Config) { c.Cache.Backend = "s3" }},
		{"非正的内存预算", func(c *Config) { c.Cache.MaxMemoryBytes = 0 }},
		{"非法策略", func(c *Config) { c.Cache.Policy = "random" }},
		{"ttl策略缺少存活时间", func(c *Config) { c.Cache.Policy = "ttl"; c.Cache.PolicyTTL = 0 }},
		{"空默认环境", func(c *Config) { c.Cache.DefaultEnv = "" }},
		{"非正的采集超时", func(c *Config) { c.Collector.Timeout = 0 }},
		{"空采集区间", func(c *Config) { c.Collector.Ranges = nil }},
		{"空采集环境", func(c *Config) { c.Collector.Environment = "" }},
		{"空服务端口", func(c *Config) { c.Server.Port = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_MemoryBackendAllowsEmptyDir(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "memory"
	cfg.Cache.Dir = ""
	assert.NoError(t, cfg.Validate())
}
