package cache

import "fmt"

// DefaultEnvironment 旧式单环境部署使用的默认环境名。
// 旧式键省略环境后缀，读取该环境时需要回落到旧式键。
const DefaultEnvironment = "prod"

// Key 由 (区间, 环境) 派生出确定性的缓存键
func Key(rangeID, environment string) string {
	return fmt.Sprintf("%s_%s", rangeID, environment)
}

// LegacyKey 旧式键，仅含区间段，兼容多环境之前的部署
func LegacyKey(rangeID string) string {
	return rangeID
}
