package cache

import (
	"metricsub/pkg/error"
)

type CacheError struct {
	error.BaseError
}

const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目。
	ErrCacheMiss error.ErrorCode = "CACHE_MISS"
	// ErrCacheCorrupted 表示缓存数据已损坏，按未命中处理。
	ErrCacheCorrupted error.ErrorCode = "CACHE_CORRUPTED"
	// ErrCacheBackend 表示持久层操作失败。
	ErrCacheBackend error.ErrorCode = "CACHE_BACKEND"
	// ErrCacheScope 表示不支持的 Clear 作用范围。
	ErrCacheScope error.ErrorCode = "CACHE_SCOPE"
)

func NewCacheError(code error.ErrorCode, message string) *CacheError {
	return &CacheError{
		BaseError: *error.NewError(code, message),
	}
}
