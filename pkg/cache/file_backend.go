package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"metricsub/pkg/logger"
)

const (
	filePrefix = "metrics_"
	fileSuffix = ".json"
)

// FileBackend 基于文件的持久层实现。
// 每个键对应缓存目录下一个确定命名的文件，写入采用
// 临时文件加原子重命名，并发读取方不会观察到半写状态的文件。
type FileBackend struct {
	dir string
	log *logrus.Entry
}

// NewFileBackend 创建文件持久层，目录不存在时自动创建
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}

	return &FileBackend{
		dir: dir,
		log: logger.WithComponent("FileBackend"),
	}, nil
}

// Dir 返回缓存目录
func (fb *FileBackend) Dir() string {
	return fb.dir
}

// Load 读取键对应的文件内容。文件缺失或不可读按未命中处理，只记警告。
func (fb *FileBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(fb.pathFor(key))
	if err != nil {
		if !os.IsNotExist(err) {
			fb.log.WithField("cache_key", key).Warnf("读取缓存文件失败，按未命中处理: %v", err)
		}
		return nil, nil
	}
	return data, nil
}

// Save 通过临时文件加原子重命名写入键对应的文件
func (fb *FileBackend) Save(ctx context.Context, key string, data []byte) error {
	target := fb.pathFor(key)
	tempFile := target + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("重命名缓存文件失败: %w", err)
	}

	return nil
}

// Exists 判断键对应的文件是否存在
func (fb *FileBackend) Exists(ctx context.Context, key string) bool {
	_, err := os.Stat(fb.pathFor(key))
	return err == nil
}

// Delete 删除键对应的文件
func (fb *FileBackend) Delete(ctx context.Context, key string) bool {
	if err := os.Remove(fb.pathFor(key)); err != nil {
		return false
	}
	return true
}

// ListKeys 枚举缓存目录下所有缓存文件对应的键
func (fb *FileBackend) ListKeys(ctx context.Context) []string {
	pattern := filepath.Join(fb.dir, filePrefix+"*"+fileSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		fb.log.Warnf("枚举缓存文件失败: %v", err)
		return nil
	}

	keys := make([]string, 0, len(matches))
	for _, match := range matches {
		name := filepath.Base(match)
		key := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// pathFor 由键派生确定性的文件路径
func (fb *FileBackend) pathFor(key string) string {
	return filepath.Join(fb.dir, filePrefix+key+fileSuffix)
}

var _ Backend = (*FileBackend)(nil)
