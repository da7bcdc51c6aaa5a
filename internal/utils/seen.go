package utils

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSeenCapacity 单次抓取默认的去重窗口大小
const DefaultSeenCapacity = 10000

// SeenFilter 单次抓取内的标识去重过滤器，帖子记 URL，评论记评论 ID
// 基于 LRU 缓存实现，仅作为数据库唯一约束之前的快速去重层，
// 缓存淘汰只会导致重复走一次数据库存在性检查，不影响正确性
type SeenFilter struct {
	seen *lru.Cache[string, struct{}]
}

// NewSeenFilter 创建指定容量的去重过滤器
func NewSeenFilter(capacity int) (*SeenFilter, error) {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	l, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("创建 LRU 缓存失败: %w", err)
	}
	return &SeenFilter{seen: l}, nil
}

// IsNew 判断 ID 在本次抓取内是否首次出现，并将其标记为已见
func (f *SeenFilter) IsNew(id string) bool {
	if _, ok := f.seen.Get(id); ok {
		return false
	}
	f.seen.Add(id, struct{}{})
	return true
}

// Len 返回当前已记录的 ID 数量
func (f *SeenFilter) Len() int {
	return f.seen.Len()
}
